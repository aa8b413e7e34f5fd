// Package clock owns musical time for an attempt: it converts wall-clock
// elapsed time and tempo into a signed beat position and runs the
// Idle→CountIn→Playing⇄Paused→Completed state machine that both the sound
// and the scoring paths gate on.
package clock

import "time"

type (
	State uint8

	// CompletionPolicy picks which completion condition ends an attempt: the
	// full-duration timeout, the early exit once enough notes have been
	// played, or whichever fires first.
	CompletionPolicy uint8

	// Event is what observers receive. Transition events (state machine
	// edges) are always delivered immediately; plain beat updates are
	// throttled to NotifyIntervalMs.
	Event struct {
		State      State
		Beat       float64
		Transition bool
	}

	// Config is derived from the exercise by the coordinator.
	Config struct {
		BPM          int
		CountInBeats int

		// completion inputs
		LastNoteStartBeat float64
		LastNoteEndBeat   float64
		RequiredNotes     int
		GraceBeats        float64
		Policy            CompletionPolicy

		NotifyIntervalMs float64
		Now              func() float64 // monotonic milliseconds; defaults to NowMs
	}

	// BeatClock is not safe for concurrent use; the coordinator serializes
	// all calls onto its event loop.
	BeatClock struct {
		cfg      Config
		state    State
		t0Ms     float64 // rebased on resume so elapsed time is preserved
		pausedMs float64 // elapsed ms stored while paused
		noteOns  int

		observer     func(Event)
		lastNotifyMs float64
	}
)

const (
	StateIdle State = iota
	StateCountIn
	StatePlaying
	StatePaused
	StateCompleted
)

const (
	CompleteEither CompletionPolicy = iota
	CompleteFullDuration
	CompleteEarlyExit
)

const defaultNotifyIntervalMs = 50 // ~20 Hz

var processStart = time.Now()

// NowMs is the shared monotonic millisecond clock. All PlayedNoteEvent
// timestamps must come from the same domain.
func NowMs() float64 {
	return float64(time.Since(processStart)) / float64(time.Millisecond)
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCountIn:
		return "count-in"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

func New(cfg Config) *BeatClock {
	if cfg.Now == nil {
		cfg.Now = NowMs
	}
	if cfg.NotifyIntervalMs <= 0 {
		cfg.NotifyIntervalMs = defaultNotifyIntervalMs
	}
	if cfg.GraceBeats <= 0 {
		cfg.GraceBeats = 1
	}
	return &BeatClock{cfg: cfg, state: StateIdle}
}

// SetObserver installs the observer callback. It is invoked synchronously
// from Start, Tick, Pause, Resume and Stop, on the caller's goroutine.
func (c *BeatClock) SetObserver(fn func(Event)) {
	c.observer = fn
}

func (c *BeatClock) State() State { return c.state }

func (c *BeatClock) msPerBeat() float64 {
	return 60000 / float64(c.cfg.BPM)
}

func (c *BeatClock) elapsedMs() float64 {
	if c.state == StatePaused {
		return c.pausedMs
	}
	return c.cfg.Now() - c.t0Ms
}

// Beat returns the current beat position; negative during the count-in.
func (c *BeatClock) Beat() float64 {
	if c.state == StateIdle {
		return -float64(c.cfg.CountInBeats)
	}
	return c.elapsedMs()/c.msPerBeat() - float64(c.cfg.CountInBeats)
}

// AttemptMs converts a raw event timestamp to milliseconds relative to beat
// 0, excluding any time spent paused. Events cannot arrive while paused, so
// rebasing t0 on resume keeps this exact for every event.
func (c *BeatClock) AttemptMs(timestampMs float64) float64 {
	return timestampMs - c.t0Ms - float64(c.cfg.CountInBeats)*c.msPerBeat()
}

// AddNoteOn feeds the early-exit completion condition.
func (c *BeatClock) AddNoteOn() {
	c.noteOns++
}

// Start records t0 and moves to CountIn (or straight to Playing when the
// exercise has no count-in).
func (c *BeatClock) Start() {
	c.t0Ms = c.cfg.Now()
	c.pausedMs = 0
	c.noteOns = 0
	if c.cfg.CountInBeats > 0 {
		c.transition(StateCountIn)
	} else {
		c.transition(StatePlaying)
	}
}

// Pause stores the elapsed time and halts ticking. No-op outside CountIn and
// Playing.
func (c *BeatClock) Pause() {
	if c.state != StateCountIn && c.state != StatePlaying {
		return
	}
	c.pausedMs = c.cfg.Now() - c.t0Ms
	c.transition(StatePaused)
}

// Resume rebases t0 so that elapsed time is preserved exactly: any drift
// here would compound into the timing offset of every subsequent note.
func (c *BeatClock) Resume() {
	if c.state != StatePaused {
		return
	}
	c.t0Ms = c.cfg.Now() - c.pausedMs
	if c.Beat() < 0 {
		c.transition(StateCountIn)
	} else {
		c.transition(StatePlaying)
	}
}

// Stop returns the clock to Idle, invalidating any pending completion.
func (c *BeatClock) Stop() {
	if c.state == StateIdle {
		return
	}
	c.pausedMs = 0
	c.noteOns = 0
	c.transition(StateIdle)
}

// Tick advances the state machine. The coordinator calls it on a fixed
// ~16 ms cadence; observers see at most one non-transition event per
// NotifyIntervalMs, but transitions always go out immediately.
func (c *BeatClock) Tick() {
	switch c.state {
	case StateCountIn:
		if c.Beat() >= 0 {
			// delivered with zero extra delay: scoring gates on this edge
			c.transition(StatePlaying)
			return
		}
	case StatePlaying:
		if c.completed() {
			c.transition(StateCompleted)
			return
		}
	default:
		return
	}
	now := c.cfg.Now()
	if now-c.lastNotifyMs < c.cfg.NotifyIntervalMs {
		return
	}
	c.lastNotifyMs = now
	c.notify(Event{State: c.state, Beat: c.Beat()})
}

func (c *BeatClock) completed() bool {
	beat := c.Beat()
	full := beat > c.cfg.LastNoteEndBeat+c.cfg.GraceBeats
	early := c.cfg.RequiredNotes > 0 &&
		c.noteOns >= c.cfg.RequiredNotes &&
		beat >= c.cfg.LastNoteStartBeat
	switch c.cfg.Policy {
	case CompleteFullDuration:
		return full
	case CompleteEarlyExit:
		return early
	default:
		return full || early
	}
}

func (c *BeatClock) transition(to State) {
	c.state = to
	c.notify(Event{State: to, Beat: c.Beat(), Transition: true})
}

func (c *BeatClock) notify(ev Event) {
	if c.observer != nil {
		c.observer(ev)
	}
}
