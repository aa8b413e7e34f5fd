package etude

import "github.com/google/uuid"

type (
	// NoteJudgment is the scored outcome of matching (or failing to match)
	// one note. Matching is a partial bijection: an expected note refers to
	// at most one played event and vice versa. Extra notes have a nil
	// Expected, missed notes a nil Played.
	NoteJudgment struct {
		Expected       *ExpectedNote    `yaml:"expected,omitempty"`
		Played         *PlayedNoteEvent `yaml:"played,omitempty"`
		TimingOffsetMs float64          `yaml:"timingOffsetMs"`
		TimingScore    float64          `yaml:"timingScore"`
		VelocityScore  float64          `yaml:"velocityScore"`
		PitchCorrect   bool             `yaml:"pitchCorrect"`
		Extra          bool             `yaml:"extra,omitempty"`
		Missed         bool             `yaml:"missed,omitempty"`
	}

	// ScoreBreakdown holds the five scoring dimensions, each 0-100.
	// ExtraNotePenalty is a penalty, so it enters the weighted sum inverted.
	ScoreBreakdown struct {
		Accuracy         float64 `yaml:"accuracy"`
		Timing           float64 `yaml:"timing"`
		Completeness     float64 `yaml:"completeness"`
		ExtraNotePenalty float64 `yaml:"extraNotePenalty"`
		DurationAccuracy float64 `yaml:"durationAccuracy"`
	}

	// AttemptScore is the final, immutable record of one attempt, handed to
	// the external progress collaborator. The ID is derived deterministically
	// from the event log, so replaying the same attempt yields an identical
	// record.
	AttemptScore struct {
		ID           uuid.UUID      `yaml:"id"`
		Overall      float64        `yaml:"overall"`
		Stars        int            `yaml:"stars"`
		Breakdown    ScoreBreakdown `yaml:"breakdown"`
		Judgments    []NoteJudgment `yaml:"judgments"`
		NewHighScore bool           `yaml:"newHighScore"`
		Passed       bool           `yaml:"passed"`
	}
)
