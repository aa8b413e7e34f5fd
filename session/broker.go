package session

import (
	"time"

	"github.com/quaverlab/etude"
	"github.com/quaverlab/etude/clock"
)

type (
	// Broker carries all communication with the coordinator: input events
	// and commands flow in through ToCoordinator, state updates, alerts and
	// the final score flow out through ToObserver. One channel per
	// direction; all sends from the coordinator loop are non-blocking so the
	// loop can never deadlock on a slow observer.
	Broker struct {
		ToCoordinator chan any
		ToObserver    chan MsgToObserver
	}

	// MsgToObserver is one update for the external observer (UI, progress
	// collaborator). Clock positions are throttled upstream; Score is set
	// exactly once per attempt. ExpectedNotes indexes the exercise notes
	// sounding at Beat, filled in while playing.
	MsgToObserver struct {
		HasClock      bool
		State         clock.State
		Beat          float64
		Transition    bool
		ExpectedNotes []int

		Score *etude.AttemptScore
		Alert *Alert
	}

	Alert struct {
		Name     string
		Message  string
		Priority AlertPriority
	}

	AlertPriority int
)

const (
	Info AlertPriority = iota
	Warning
	Error
)

// commands and events accepted by the coordinator
type (
	StartMsg      struct{}
	PauseMsg      struct{}
	ResumeMsg     struct{}
	StopMsg       struct{}
	InputEventMsg struct{ Event etude.PlayedNoteEvent }

	PlayNoteMsg struct {
		Pitch    int
		Velocity float64
	}

	ReleaseNoteMsg struct{ Pitch int }
)

func NewBroker() *Broker {
	return &Broker{
		ToCoordinator: make(chan any, 1024),
		ToObserver:    make(chan MsgToObserver, 1024),
	}
}

// TrySend is a helper function to send a value to a channel if it is not
// full. It is guaranteed to be non-blocking. Returns true if the value was
// sent, false otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive blocks until a value is received from the channel or the
// timeout elapses; ok is false on timeout or when the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
