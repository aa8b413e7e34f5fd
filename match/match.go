// Package match reconciles the unordered stream of played notes against the
// ordered reference sequence of an exercise. Matching is a partial
// bijection: each played note claims at most one expected note and vice
// versa; everything else becomes an extra or a missed judgment.
package match

import (
	"math"

	"github.com/quaverlab/etude"
)

type (
	// Config tunes one matcher. EpochMs is subtracted from every event
	// timestamp; a coordinator that already normalizes timestamps to the
	// beat-0 domain leaves it zero.
	Config struct {
		ToleranceMs    float64
		GraceMs        float64
		TouchLatencyMs float64
		EpochMs        float64
	}

	// Matcher accumulates judgments over one attempt. It is purely
	// deterministic: the same event sequence always produces the same
	// judgment list. Not safe for concurrent use; the coordinator serializes
	// all calls.
	Matcher struct {
		exercise  *etude.Exercise
		cfg       Config
		msPerBeat float64

		matched   []bool
		judgments []etude.NoteJudgment
		events    []*etude.PlayedNoteEvent

		// per-pitch FIFO of open judgment indices, so overlapping same-pitch
		// presses resolve their off-events in order
		open [128][]int

		finished bool
	}
)

// DefaultTouchLatencyMs compensates the touch surface's input path; spec'd
// controller transports carry accurate timestamps and are not compensated.
const DefaultTouchLatencyMs = 30

func NewMatcher(exercise *etude.Exercise, cfg Config) *Matcher {
	if cfg.ToleranceMs <= 0 {
		cfg.ToleranceMs = exercise.Scoring.ToleranceMs
	}
	if cfg.GraceMs <= 0 {
		cfg.GraceMs = exercise.Scoring.GraceMs
	}
	return &Matcher{
		exercise:  exercise,
		cfg:       cfg,
		msPerBeat: exercise.MsPerBeat(),
		matched:   make([]bool, len(exercise.Notes)),
	}
}

// HandleEvent routes an event to the on- or off-event path.
func (m *Matcher) HandleEvent(ev etude.PlayedNoteEvent) {
	if ev.Kind == etude.NoteOn {
		m.HandleOn(ev)
	} else {
		m.HandleOff(ev)
	}
}

// HandleOn matches one played on-event against the not-yet-matched expected
// notes of the same pitch, picking the nearest in time within 2× the grace
// window. Anything without a candidate is recorded as an extra note.
func (m *Matcher) HandleOn(ev etude.PlayedNoteEvent) {
	if m.finished {
		return
	}
	played := &ev
	m.events = append(m.events, played)
	rel := m.relativeMs(played)

	best := -1
	bestOffset := 0.0
	for i := range m.exercise.Notes {
		n := &m.exercise.Notes[i]
		if m.matched[i] || n.Pitch != ev.Pitch {
			continue
		}
		offset := rel - n.StartBeat*m.msPerBeat
		if math.Abs(offset) > 2*m.cfg.GraceMs {
			continue
		}
		if best < 0 || math.Abs(offset) < math.Abs(bestOffset) {
			best = i
			bestOffset = offset
		}
	}

	var j etude.NoteJudgment
	if best >= 0 {
		m.matched[best] = true
		j = etude.NoteJudgment{
			Expected:       &m.exercise.Notes[best],
			Played:         played,
			TimingOffsetMs: bestOffset,
			TimingScore:    TimingScore(math.Abs(bestOffset), m.cfg.ToleranceMs, m.cfg.GraceMs),
			VelocityScore:  velocityScore(ev.Velocity),
			PitchCorrect:   true,
		}
	} else {
		j = etude.NoteJudgment{Played: played, Extra: true}
	}
	m.judgments = append(m.judgments, j)
	if ev.Pitch >= 0 && ev.Pitch < 128 {
		m.open[ev.Pitch] = append(m.open[ev.Pitch], len(m.judgments)-1)
	}
}

// HandleOff backfills the duration of the oldest still-open judgment for the
// pitch. Off-events never affect matching itself.
func (m *Matcher) HandleOff(ev etude.PlayedNoteEvent) {
	if m.finished || ev.Pitch < 0 || ev.Pitch >= 128 {
		return
	}
	fifo := m.open[ev.Pitch]
	if len(fifo) == 0 {
		return
	}
	idx := fifo[0]
	m.open[ev.Pitch] = fifo[1:]
	j := &m.judgments[idx]
	if d := ev.TimestampMs - j.Played.TimestampMs; d > 0 {
		j.Played.DurationMs = d
	}
}

// CloseOpenDurations backfills every still-open duration as if an off-event
// arrived at nowMs. Called on pause, stop and completion so no judgment is
// left dangling. nowMs is in the same domain as the event timestamps.
func (m *Matcher) CloseOpenDurations(nowMs float64) {
	for pitch := range m.open {
		for _, idx := range m.open[pitch] {
			j := &m.judgments[idx]
			if d := nowMs - j.Played.TimestampMs; d > 0 && j.Played.DurationMs == 0 {
				j.Played.DurationMs = d
			}
		}
		m.open[pitch] = nil
	}
}

// Finish turns every never-matched expected note into a missed judgment and
// freezes the matcher. Further events are ignored.
func (m *Matcher) Finish() {
	if m.finished {
		return
	}
	m.finished = true
	for i := range m.exercise.Notes {
		if m.matched[i] {
			continue
		}
		m.judgments = append(m.judgments, etude.NoteJudgment{
			Expected: &m.exercise.Notes[i],
			Missed:   true,
		})
	}
}

// Judgments returns the judgment list accumulated so far; after Finish it is
// the complete list, in event order with missed notes appended in reference
// order.
func (m *Matcher) Judgments() []etude.NoteJudgment {
	return m.judgments
}

// Events returns the append-only per-attempt event log.
func (m *Matcher) Events() []*etude.PlayedNoteEvent {
	return m.events
}

// MatchedCount returns how many non-optional expected notes have been
// matched so far.
func (m *Matcher) MatchedCount() int {
	n := 0
	for i, ok := range m.matched {
		if ok && !m.exercise.Notes[i].Optional {
			n++
		}
	}
	return n
}

func (m *Matcher) relativeMs(ev *etude.PlayedNoteEvent) float64 {
	rel := ev.TimestampMs - m.cfg.EpochMs
	if ev.Source == etude.SourceTouch {
		rel -= m.touchLatency()
	}
	return rel
}

func (m *Matcher) touchLatency() float64 {
	if m.cfg.TouchLatencyMs > 0 {
		return m.cfg.TouchLatencyMs
	}
	return DefaultTouchLatencyMs
}

// TimingScore maps an absolute timing offset to 0-100: full credit inside
// the tolerance window, a linear slope down to 70 at the grace window, an
// exponential decay after that, and zero past twice the grace window.
func TimingScore(offset, tolerance, grace float64) float64 {
	switch {
	case offset <= tolerance:
		return 100
	case offset <= grace:
		return 100 - 30*(offset-tolerance)/(grace-tolerance)
	case offset <= 2*grace:
		return 70 * math.Exp(-(offset-grace)/grace)
	default:
		return 0
	}
}

func velocityScore(velocity float64) float64 {
	if velocity < 0 {
		velocity = 0
	}
	if velocity > 1 {
		velocity = 1
	}
	return 100 * velocity
}
