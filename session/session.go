// Package session wires the beat clock, the voice pool and the note matcher
// into one attempt: a single goroutine serializes the periodic tick and the
// out-of-band input events, so the judgment list and the voice table are
// only ever mutated from one timeline.
package session

import (
	"context"
	"math"
	"time"

	"github.com/quaverlab/etude"
	"github.com/quaverlab/etude/clock"
	"github.com/quaverlab/etude/engine"
	"github.com/quaverlab/etude/match"
	"github.com/quaverlab/etude/score"
)

type (
	// Config tunes one coordinator beyond what the exercise itself carries.
	Config struct {
		PreviousBest     float64
		CompletionPolicy clock.CompletionPolicy
		TouchLatencyMs   float64
		FreePlay         bool           // input events sound even outside an attempt
		Now              func() float64 // monotonic ms; defaults to clock.NowMs
	}

	// Coordinator is the composition root of an attempt. It owns the beat
	// clock and the matcher; the engine is an explicitly passed-in service
	// that outlives individual attempts. All state is confined to the Run
	// goroutine (or to whatever single goroutine drives handle/tick in
	// tests).
	Coordinator struct {
		broker   *Broker
		engine   *engine.Engine
		exercise *etude.Exercise
		cfg      Config

		clock   *clock.BeatClock
		matcher *match.Matcher

		scoreEmitted  bool
		audioAlerted  bool
		metronomeBeat int
	}
)

// TickInterval is the cadence of the coordinator's internal tick.
const TickInterval = 16 * time.Millisecond

const metronomePitch = 81 // A5, short blip on each count-in beat

func NewCoordinator(broker *Broker, eng *engine.Engine, exercise *etude.Exercise, cfg Config) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = clock.NowMs
	}
	c := &Coordinator{
		broker:   broker,
		engine:   eng,
		exercise: exercise,
		cfg:      cfg,
	}
	c.clock = clock.New(clock.Config{
		BPM:               exercise.BPM,
		CountInBeats:      exercise.CountInBeats,
		LastNoteStartBeat: exercise.LastNoteStartBeat(),
		LastNoteEndBeat:   exercise.LastNoteEndBeat(),
		RequiredNotes:     exercise.RequiredNotes(),
		Policy:            cfg.CompletionPolicy,
		Now:               cfg.Now,
	})
	c.clock.SetObserver(c.onClockEvent)
	return c
}

// Run drives the coordinator until the context is cancelled. Input events
// wake the loop immediately; the tick fires every TickInterval.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.stop()
			return
		case <-ticker.C:
			c.tick()
		case msg := <-c.broker.ToCoordinator:
			c.handle(msg)
		}
	}
}

// handle processes one command or input event. It runs on the same timeline
// as tick, never concurrently with it.
func (c *Coordinator) handle(msg any) {
	switch m := msg.(type) {
	case StartMsg:
		c.start()
	case PauseMsg:
		c.pause()
	case ResumeMsg:
		c.clock.Resume()
	case StopMsg:
		c.stop()
	case InputEventMsg:
		c.handleInput(m.Event)
	case PlayNoteMsg:
		c.playNote(m.Pitch, m.Velocity)
	case ReleaseNoteMsg:
		c.engine.ReleasePitch(m.Pitch)
	default:
		// ignore unknown messages
	}
}

func (c *Coordinator) start() {
	c.matcher = match.NewMatcher(c.exercise, match.Config{
		TouchLatencyMs: c.cfg.TouchLatencyMs,
	})
	c.scoreEmitted = false
	c.metronomeBeat = -c.exercise.CountInBeats - 1
	c.clock.Start()
}

func (c *Coordinator) pause() {
	// hard barrier: silence and closed durations before Paused is reached
	c.engine.ReleaseAll()
	if c.matcher != nil {
		c.matcher.CloseOpenDurations(c.clock.AttemptMs(c.cfg.Now()))
	}
	c.clock.Pause()
}

func (c *Coordinator) stop() {
	c.engine.ReleaseAll()
	if c.matcher != nil && c.clock.State() != clock.StateIdle {
		c.matcher.CloseOpenDurations(c.clock.AttemptMs(c.cfg.Now()))
	}
	c.clock.Stop()
}

// handleInput forwards one raw input event: to the engine right away (sound
// must never wait on scoring) and, while the clock is in Playing, to the
// matcher with its timestamp normalized to the beat-0 domain.
func (c *Coordinator) handleInput(ev etude.PlayedNoteEvent) {
	if c.soundGateOpen() {
		if ev.Kind == etude.NoteOn {
			c.playNote(ev.Pitch, ev.Velocity)
		} else {
			c.engine.ReleasePitch(ev.Pitch)
		}
	}
	if c.clock.State() != clock.StatePlaying || c.matcher == nil {
		return
	}
	ev.TimestampMs = c.clock.AttemptMs(ev.TimestampMs)
	c.matcher.HandleEvent(ev)
	if ev.Kind == etude.NoteOn {
		c.clock.AddNoteOn()
	}
}

// soundGateOpen reports whether raw input events may reach the engine:
// during the count-in and while playing, or any time when the coordinator
// runs in free play. Paused is a hard barrier: no voice may start between
// pause and resume. PlayNoteMsg is not gated; it is the explicit
// scoring-bypass command.
func (c *Coordinator) soundGateOpen() bool {
	switch c.clock.State() {
	case clock.StateCountIn, clock.StatePlaying:
		return true
	}
	return c.cfg.FreePlay
}

// playNote triggers a voice, degrading to silence when the audio backend is
// unavailable: scoring must keep working without sound.
func (c *Coordinator) playNote(pitch int, velocity float64) {
	if _, err := c.engine.PlayNote(pitch, velocity); err != nil {
		if !c.audioAlerted {
			c.audioAlerted = true
			TrySend(c.broker.ToObserver, MsgToObserver{Alert: &Alert{
				Name:     "AudioUnavailable",
				Message:  err.Error(),
				Priority: Warning,
			}})
		}
	}
}

func (c *Coordinator) tick() {
	if c.clock.State() == clock.StateCountIn {
		if b := int(math.Floor(c.clock.Beat())); b > c.metronomeBeat && b < 0 {
			c.metronomeBeat = b
			c.playNote(metronomePitch, 0.5)
			c.engine.ReleasePitch(metronomePitch) // min-duration keeps the blip audible
		}
	}
	c.clock.Tick()
}

// onClockEvent runs synchronously on the coordinator timeline: the clock is
// only ever driven from handle and tick.
func (c *Coordinator) onClockEvent(ev clock.Event) {
	msg := MsgToObserver{
		HasClock:   true,
		State:      ev.State,
		Beat:       ev.Beat,
		Transition: ev.Transition,
	}
	if ev.State == clock.StatePlaying {
		msg.ExpectedNotes = c.exercise.NotesAtBeat(ev.Beat)
	}
	TrySend(c.broker.ToObserver, msg)
	if ev.Transition && ev.State == clock.StateCompleted {
		c.finalize()
	}
}

// finalize closes any still-open durations, scores the attempt and emits the
// result exactly once.
func (c *Coordinator) finalize() {
	if c.scoreEmitted || c.matcher == nil {
		return
	}
	c.scoreEmitted = true
	c.engine.ReleaseAll()
	c.matcher.CloseOpenDurations(c.clock.AttemptMs(c.cfg.Now()))
	c.matcher.Finish()
	s := score.Compute(c.exercise, c.matcher.Judgments(), c.cfg.PreviousBest)
	// clock updates may be dropped when the observer lags, the score must
	// not; finalize is off the audio path, so a blocking send is fine here
	c.broker.ToObserver <- MsgToObserver{Score: &s}
}
