package clock_test

import (
	"math"
	"testing"

	"github.com/quaverlab/etude/clock"
)

// fakeTime is a scripted monotonic clock for driving the state machine
// deterministically.
type fakeTime struct{ ms float64 }

func (f *fakeTime) now() float64       { return f.ms }
func (f *fakeTime) advance(ms float64) { f.ms += ms }

func newTestClock(ft *fakeTime, policy clock.CompletionPolicy) *clock.BeatClock {
	return clock.New(clock.Config{
		BPM:               120, // 500 ms per beat
		CountInBeats:      2,
		LastNoteStartBeat: 3,
		LastNoteEndBeat:   4,
		RequiredNotes:     4,
		GraceBeats:        1,
		Policy:            policy,
		Now:               ft.now,
	})
}

func TestCountInToPlayingEdge(t *testing.T) {
	ft := &fakeTime{}
	c := newTestClock(ft, clock.CompleteEither)
	var events []clock.Event
	c.SetObserver(func(ev clock.Event) { events = append(events, ev) })

	c.Start()
	if c.State() != clock.StateCountIn {
		t.Fatalf("state after Start = %v, want count-in", c.State())
	}
	if got := c.Beat(); got != -2 {
		t.Fatalf("beat at start = %v, want -2", got)
	}
	ft.advance(999)
	c.Tick()
	if c.State() != clock.StateCountIn {
		t.Fatalf("still inside count-in at beat %v, state %v", c.Beat(), c.State())
	}
	// the CountIn→Playing edge must be reported on the very tick it crosses,
	// bypassing the notification throttle
	ft.advance(2)
	before := len(events)
	c.Tick()
	if c.State() != clock.StatePlaying {
		t.Fatalf("state = %v, want playing", c.State())
	}
	if len(events) != before+1 || !events[len(events)-1].Transition {
		t.Errorf("the playing edge was not delivered immediately")
	}
}

func TestPauseResumePreservesElapsed(t *testing.T) {
	ft := &fakeTime{}
	c := newTestClock(ft, clock.CompleteEither)
	c.Start()
	ft.advance(1000) // beat 0
	c.Tick()
	ft.advance(750) // beat 1.5
	beforePause := c.Beat()

	c.Pause()
	if c.State() != clock.StatePaused {
		t.Fatalf("state = %v, want paused", c.State())
	}
	ft.advance(5000) // long pause; beat must not move
	if got := c.Beat(); got != beforePause {
		t.Fatalf("beat drifted while paused: %v → %v", beforePause, got)
	}
	c.Resume()
	if got := c.Beat(); math.Abs(got-beforePause) > 1e-9 {
		t.Fatalf("beat after resume = %v, want %v", got, beforePause)
	}
	ft.advance(250)
	if got, want := c.Beat(), beforePause+0.5; math.Abs(got-want) > 1e-9 {
		t.Errorf("beat after resume+250ms = %v, want %v", got, want)
	}
}

func TestAttemptMsExcludesPauses(t *testing.T) {
	ft := &fakeTime{ms: 100}
	c := newTestClock(ft, clock.CompleteEither)
	c.Start()
	ft.advance(1000) // beat 0 at t=1100
	c.Tick()
	if got := c.AttemptMs(ft.now()); math.Abs(got) > 1e-9 {
		t.Fatalf("AttemptMs at beat 0 = %v, want 0", got)
	}
	ft.advance(600)
	c.Pause()
	ft.advance(10000)
	c.Resume()
	ft.advance(400)
	if got := c.AttemptMs(ft.now()); math.Abs(got-1000) > 1e-9 {
		t.Errorf("AttemptMs after a pause = %v, want 1000", got)
	}
}

func TestCompletionFullDuration(t *testing.T) {
	ft := &fakeTime{}
	c := newTestClock(ft, clock.CompleteFullDuration)
	c.Start()
	ft.advance(1000)
	c.Tick() // playing
	// early-exit condition satisfied, but the policy ignores it
	for i := 0; i < 4; i++ {
		c.AddNoteOn()
	}
	ft.advance(500 * 3.5)
	c.Tick()
	if c.State() == clock.StateCompleted {
		t.Fatalf("full-duration policy completed early at beat %v", c.Beat())
	}
	ft.advance(500 * 1.6) // past lastEnd(4) + grace(1)
	c.Tick()
	if c.State() != clock.StateCompleted {
		t.Errorf("state = %v at beat %v, want completed", c.State(), c.Beat())
	}
}

func TestCompletionEarlyExit(t *testing.T) {
	ft := &fakeTime{}
	c := newTestClock(ft, clock.CompleteEither)
	c.Start()
	ft.advance(1000)
	c.Tick() // playing
	ft.advance(500 * 3.2) // past the last note's start beat
	c.Tick()
	if c.State() == clock.StateCompleted {
		t.Fatalf("completed without enough played notes")
	}
	for i := 0; i < 4; i++ {
		c.AddNoteOn()
	}
	c.Tick()
	if c.State() != clock.StateCompleted {
		t.Errorf("state = %v, want completed once enough notes are in and the last note started", c.State())
	}
}

func TestStopInvalidatesCompletion(t *testing.T) {
	ft := &fakeTime{}
	c := newTestClock(ft, clock.CompleteEither)
	c.Start()
	ft.advance(1000)
	c.Tick()
	c.Stop()
	if c.State() != clock.StateIdle {
		t.Fatalf("state after Stop = %v, want idle", c.State())
	}
	completions := 0
	c.SetObserver(func(ev clock.Event) {
		if ev.Transition && ev.State == clock.StateCompleted {
			completions++
		}
	})
	ft.advance(100000)
	c.Tick()
	if completions != 0 {
		t.Errorf("a stopped clock declared completion")
	}
}

func TestObserverThrottle(t *testing.T) {
	ft := &fakeTime{}
	c := newTestClock(ft, clock.CompleteFullDuration)
	updates := 0
	c.SetObserver(func(ev clock.Event) {
		if !ev.Transition {
			updates++
		}
	})
	c.Start()
	ft.advance(1001)
	c.Tick() // playing edge
	// one second of 16 ms ticks must produce at most ~20 plain updates
	for i := 0; i < 62; i++ {
		ft.advance(16)
		c.Tick()
	}
	if updates > 21 {
		t.Errorf("%d observer updates in one second, want ≤ ~20", updates)
	}
	if updates < 15 {
		t.Errorf("%d observer updates in one second, throttle is too aggressive", updates)
	}
}
