package session

import (
	"github.com/quaverlab/etude"
	"github.com/quaverlab/etude/match"
	"github.com/quaverlab/etude/score"
)

// Replay re-derives an AttemptScore from a recorded per-attempt event log.
// Event timestamps must be in the beat-0 domain, which is how the
// coordinator records them. Feeding the same exercise and the same log
// always yields byte-identical output.
func Replay(exercise *etude.Exercise, events []etude.PlayedNoteEvent, previousBest float64) etude.AttemptScore {
	m := match.NewMatcher(exercise, match.Config{})
	for _, ev := range events {
		m.HandleEvent(ev)
	}
	m.Finish()
	return score.Compute(exercise, m.Judgments(), previousBest)
}
