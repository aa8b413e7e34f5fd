package match_test

import (
	"math"
	"testing"

	"github.com/quaverlab/etude"
	"github.com/quaverlab/etude/match"
)

// 4 quarter notes at 120 BPM: expected at 0, 500, 1000, 1500 ms.
func quarterNotes() *etude.Exercise {
	return &etude.Exercise{
		BPM: 120,
		Notes: []etude.ExpectedNote{
			{Pitch: 60, StartBeat: 0, DurationBeats: 1},
			{Pitch: 62, StartBeat: 1, DurationBeats: 1},
			{Pitch: 64, StartBeat: 2, DurationBeats: 1},
			{Pitch: 65, StartBeat: 3, DurationBeats: 1},
		},
		Scoring: etude.ScoringConfig{ToleranceMs: 50, GraceMs: 150, PassingScore: 70, StarThresholds: [3]float64{70, 85, 95}},
	}
}

func on(pitch int, atMs float64) etude.PlayedNoteEvent {
	return etude.PlayedNoteEvent{Kind: etude.NoteOn, Pitch: pitch, Velocity: 0.8, TimestampMs: atMs}
}

func off(pitch int, atMs float64) etude.PlayedNoteEvent {
	return etude.PlayedNoteEvent{Kind: etude.NoteOff, Pitch: pitch, TimestampMs: atMs}
}

func TestTimingScoreShape(t *testing.T) {
	const tol, grace = 50.0, 150.0
	for _, tc := range []struct {
		offset float64
		want   float64
	}{
		{0, 100},
		{tol, 100},
		{grace, 70},
		{(tol + grace) / 2, 85},
		{2*grace + 1, 0},
		{10000, 0},
	} {
		if got := match.TimingScore(tc.offset, tol, grace); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("TimingScore(%v) = %v, want %v", tc.offset, got, tc.want)
		}
	}
	// exponential region: 70·e^(−(offset−grace)/grace)
	if got, want := match.TimingScore(2*grace, tol, grace), 70*math.Exp(-1); math.Abs(got-want) > 1e-9 {
		t.Errorf("TimingScore(2·grace) = %v, want %v", got, want)
	}
	// monotonically non-increasing in |offset|
	prev := math.Inf(1)
	for offset := 0.0; offset <= 500; offset += 1 {
		got := match.TimingScore(offset, tol, grace)
		if got > prev {
			t.Fatalf("TimingScore not monotone at offset %v: %v > %v", offset, got, prev)
		}
		prev = got
	}
}

func TestPerfectRun(t *testing.T) {
	m := match.NewMatcher(quarterNotes(), match.Config{})
	for i, pitch := range []int{60, 62, 64, 65} {
		m.HandleOn(on(pitch, float64(i)*500))
		m.HandleOff(off(pitch, float64(i)*500+500))
	}
	m.Finish()
	judgments := m.Judgments()
	if len(judgments) != 4 {
		t.Fatalf("%d judgments, want 4", len(judgments))
	}
	for i, j := range judgments {
		if j.Extra || j.Missed || !j.PitchCorrect {
			t.Errorf("judgment %d: %+v, want a clean match", i, j)
		}
		if j.TimingScore != 100 || j.TimingOffsetMs != 0 {
			t.Errorf("judgment %d: timing %v/%v, want 100/0", i, j.TimingScore, j.TimingOffsetMs)
		}
		if math.Abs(j.Played.DurationMs-500) > 1e-9 {
			t.Errorf("judgment %d: duration %v, want 500", i, j.Played.DurationMs)
		}
	}
}

func TestMatchingIsPartialBijection(t *testing.T) {
	// two expected notes of the same pitch close together, three played
	ex := &etude.Exercise{
		BPM: 120,
		Notes: []etude.ExpectedNote{
			{Pitch: 60, StartBeat: 0, DurationBeats: 0.5},
			{Pitch: 60, StartBeat: 0.5, DurationBeats: 0.5},
		},
		Scoring: etude.DefaultScoringConfig,
	}
	m := match.NewMatcher(ex, match.Config{})
	m.HandleOn(on(60, 10))
	m.HandleOn(on(60, 240))
	m.HandleOn(on(60, 260))
	m.Finish()

	seen := map[*etude.ExpectedNote]int{}
	extras := 0
	for _, j := range m.Judgments() {
		if j.Extra {
			extras++
			continue
		}
		if j.Missed {
			t.Errorf("nothing should be missed here: %+v", j)
			continue
		}
		seen[j.Expected]++
	}
	for n, count := range seen {
		if count > 1 {
			t.Errorf("expected note %+v matched %d times, want at most 1", *n, count)
		}
	}
	if len(seen) != 2 || extras != 1 {
		t.Errorf("matched %d expected notes with %d extras, want 2 and 1", len(seen), extras)
	}
}

func TestNearestCandidateWins(t *testing.T) {
	ex := &etude.Exercise{
		BPM: 120,
		Notes: []etude.ExpectedNote{
			{Pitch: 60, StartBeat: 0, DurationBeats: 1},
			{Pitch: 60, StartBeat: 0.5, DurationBeats: 1},
		},
		Scoring: etude.DefaultScoringConfig,
	}
	m := match.NewMatcher(ex, match.Config{})
	m.HandleOn(on(60, 240)) // 240 ms: nearer to beat 0.5 (250 ms) than beat 0
	m.Finish()
	j := m.Judgments()[0]
	if j.Expected == nil || j.Expected.StartBeat != 0.5 {
		t.Fatalf("matched %+v, want the nearest-in-time candidate at beat 0.5", j.Expected)
	}
	if j.TimingOffsetMs != -10 {
		t.Errorf("timing offset = %v, want -10", j.TimingOffsetMs)
	}
}

func TestFarEventsBecomeExtras(t *testing.T) {
	m := match.NewMatcher(quarterNotes(), match.Config{})
	// same pitch as an expected note but outside 2×grace of any of them
	m.HandleOn(on(60, 2500))
	// an unexpected pitch
	m.HandleOn(on(100, 0))
	m.Finish()
	extras := 0
	for _, j := range m.Judgments() {
		if j.Extra {
			extras++
		}
	}
	if extras != 2 {
		t.Errorf("%d extras, want 2", extras)
	}
}

func TestMissedNotesAfterFinish(t *testing.T) {
	m := match.NewMatcher(quarterNotes(), match.Config{})
	m.HandleOn(on(60, 0))
	m.Finish()
	missed := 0
	for _, j := range m.Judgments() {
		if j.Missed {
			missed++
			if j.Played != nil {
				t.Errorf("missed judgment carries a played event")
			}
		}
	}
	if missed != 3 {
		t.Errorf("%d missed judgments, want 3", missed)
	}
}

func TestOffEventsResolveFIFO(t *testing.T) {
	ex := &etude.Exercise{
		BPM: 120,
		Notes: []etude.ExpectedNote{
			{Pitch: 60, StartBeat: 0, DurationBeats: 1},
			{Pitch: 60, StartBeat: 1, DurationBeats: 1},
		},
		Scoring: etude.DefaultScoringConfig,
	}
	m := match.NewMatcher(ex, match.Config{})
	// overlapping same-pitch presses: first off closes the first press
	m.HandleOn(on(60, 0))
	m.HandleOn(on(60, 500))
	m.HandleOff(off(60, 600))
	m.HandleOff(off(60, 1400))
	m.Finish()
	judgments := m.Judgments()
	if got := judgments[0].Played.DurationMs; math.Abs(got-600) > 1e-9 {
		t.Errorf("first press duration = %v, want 600 (FIFO)", got)
	}
	if got := judgments[1].Played.DurationMs; math.Abs(got-900) > 1e-9 {
		t.Errorf("second press duration = %v, want 900 (FIFO)", got)
	}
}

func TestTouchLatencyCompensation(t *testing.T) {
	ex := quarterNotes()
	cfg := match.Config{TouchLatencyMs: 40}
	played := on(60, 40)
	played.Source = etude.SourceTouch

	m := match.NewMatcher(ex, cfg)
	m.HandleOn(played)
	if got := m.Judgments()[0].TimingOffsetMs; got != 0 {
		t.Errorf("touch event offset = %v, want 0 after compensation", got)
	}

	// controller events are not compensated
	m2 := match.NewMatcher(ex, cfg)
	m2.HandleOn(on(60, 40))
	if got := m2.Judgments()[0].TimingOffsetMs; got != 40 {
		t.Errorf("controller event offset = %v, want 40", got)
	}
}

func TestCloseOpenDurations(t *testing.T) {
	m := match.NewMatcher(quarterNotes(), match.Config{})
	m.HandleOn(on(60, 0))
	m.CloseOpenDurations(300)
	if got := m.Judgments()[0].Played.DurationMs; math.Abs(got-300) > 1e-9 {
		t.Errorf("closed duration = %v, want 300", got)
	}
}
