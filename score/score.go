// Package score reduces a judgment list into the final weighted attempt
// score, star rating and pass/fail verdict.
package score

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/quaverlab/etude"
)

// dimension weights of the overall score
const (
	weightAccuracy     = 0.35
	weightTiming       = 0.30
	weightCompleteness = 0.10
	weightExtraNotes   = 0.10
	weightDuration     = 0.15
)

// each extra note costs this many penalty points, capped at 100
const perExtraNotePenalty = 15

// Compute reduces the judgments of one finished attempt into an
// AttemptScore. It is a pure function of its inputs: byte-identical output
// for identical judgment lists, which is what makes attempts replayable.
func Compute(exercise *etude.Exercise, judgments []etude.NoteJudgment, previousBest float64) etude.AttemptScore {
	total := exercise.RequiredNotes()
	msPerBeat := exercise.MsPerBeat()

	var (
		matchedRequired int
		timingSum       float64
		timingCount     int
		durationSum     float64
		durationCount   int
		extras          int
	)
	for i := range judgments {
		j := &judgments[i]
		switch {
		case j.Extra:
			extras++
		case j.Missed:
			// contributes only through completeness
		default:
			if !j.Expected.Optional {
				matchedRequired++
			}
			timingSum += j.TimingScore
			timingCount++
			if j.Played.DurationMs > 0 && j.Expected.DurationBeats > 0 {
				expectedMs := j.Expected.DurationBeats * msPerBeat
				durationSum += 100 * clamp01(1-abs(j.Played.DurationMs-expectedMs)/expectedMs)
				durationCount++
			}
		}
	}

	breakdown := etude.ScoreBreakdown{
		Accuracy:         percentage(matchedRequired, total),
		Timing:           mean(timingSum, timingCount, 0),
		Completeness:     percentage(matchedRequired, total),
		ExtraNotePenalty: minf(100, float64(extras)*perExtraNotePenalty),
		DurationAccuracy: mean(durationSum, durationCount, 100),
	}
	overall := weightAccuracy*breakdown.Accuracy +
		weightTiming*breakdown.Timing +
		weightCompleteness*breakdown.Completeness +
		weightExtraNotes*(100-breakdown.ExtraNotePenalty) +
		weightDuration*breakdown.DurationAccuracy
	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}

	return etude.AttemptScore{
		ID:           attemptID(exercise, judgments),
		Overall:      overall,
		Stars:        stars(overall, exercise.Scoring.StarThresholds),
		Breakdown:    breakdown,
		Judgments:    judgments,
		NewHighScore: overall > previousBest,
		Passed:       overall >= exercise.Scoring.PassingScore,
	}
}

func stars(overall float64, thresholds [3]float64) int {
	n := 0
	for _, t := range thresholds {
		if overall >= t {
			n++
		}
	}
	return n
}

// attemptID derives a deterministic UUID from the exercise and the played
// events, so that replaying a recorded attempt reproduces the same record.
// The whole exercise identity goes into the hash: the same event log against
// an exercise differing only in its notes or windows is a different attempt.
func attemptID(exercise *etude.Exercise, judgments []etude.NoteJudgment) uuid.UUID {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s/%d/%d\n", exercise.Title, exercise.BPM, exercise.CountInBeats)
	for _, n := range exercise.Notes {
		fmt.Fprintf(&buf, "n %d %.6f %.6f %t\n", n.Pitch, n.StartBeat, n.DurationBeats, n.Optional)
	}
	s := &exercise.Scoring
	fmt.Fprintf(&buf, "s %.6f %.6f %.6f %v\n", s.ToleranceMs, s.GraceMs, s.PassingScore, s.StarThresholds)
	for i := range judgments {
		if p := judgments[i].Played; p != nil {
			fmt.Fprintf(&buf, "%d %d %.6f %.6f %.6f\n", p.Kind, p.Pitch, p.Velocity, p.TimestampMs, p.DurationMs)
		}
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, buf.Bytes())
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 100
	}
	return 100 * float64(part) / float64(total)
}

func mean(sum float64, count int, empty float64) float64 {
	if count == 0 {
		return empty
	}
	return sum / float64(count)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
