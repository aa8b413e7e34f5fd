package etude

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"gopkg.in/yaml.v3"
)

type (
	// Exercise is the read-only reference passage a player practices against:
	// tempo, count-in, an ordered list of expected notes and the scoring
	// configuration. It is loaded once and never mutated by the core.
	Exercise struct {
		Title        string         `yaml:"title,omitempty"`
		BPM          int            `yaml:"bpm"`
		BeatsPerBar  int            `yaml:"beatsPerBar,omitempty"`
		CountInBeats int            `yaml:"countInBeats"`
		KeySignature string         `yaml:"keySignature,omitempty"` // cosmetic, shown by the UI only
		Notes        []ExpectedNote `yaml:"notes"`
		Scoring      ScoringConfig  `yaml:"scoring"`
	}

	// ExpectedNote is one note of the reference passage. StartBeat is relative
	// to beat 0, i.e. the end of the count-in; negative values never appear in
	// a valid exercise.
	ExpectedNote struct {
		Pitch         int     `yaml:"pitch"` // semitone id, 0-127, 69 = A4
		StartBeat     float64 `yaml:"startBeat"`
		DurationBeats float64 `yaml:"durationBeats"`
		Hand          string  `yaml:"hand,omitempty"`
		Fingering     int     `yaml:"fingering,omitempty"`
		Optional      bool    `yaml:"optional,omitempty"` // excluded from completeness requirements
	}

	// ScoringConfig sets the timing windows and pass/star thresholds for one
	// exercise.
	ScoringConfig struct {
		ToleranceMs    float64    `yaml:"toleranceMs"`    // perfect window
		GraceMs        float64    `yaml:"graceMs"`        // good window
		PassingScore   float64    `yaml:"passingScore"`
		StarThresholds [3]float64 `yaml:"starThresholds"` // ascending, against the overall score
	}
)

// DefaultScoringConfig is used when an exercise file leaves the scoring
// section empty.
var DefaultScoringConfig = ScoringConfig{
	ToleranceMs:    50,
	GraceMs:        150,
	PassingScore:   70,
	StarThresholds: [3]float64{70, 85, 95},
}

// ParseExercise parses an exercise from its serialized form, trying JSON
// first and YAML second.
func ParseExercise(data []byte) (Exercise, error) {
	var e Exercise
	if errJSON := json.Unmarshal(data, &e); errJSON != nil {
		if errYaml := yaml.Unmarshal(data, &e); errYaml != nil {
			return Exercise{}, fmt.Errorf("the exercise could not be parsed as .json (%v) or .yml (%v)", errJSON, errYaml)
		}
	}
	if e.Scoring == (ScoringConfig{}) {
		e.Scoring = DefaultScoringConfig
	}
	if err := e.Validate(); err != nil {
		return Exercise{}, err
	}
	return e, nil
}

// Validate checks the invariants an exercise must satisfy before an attempt
// can run on it.
func (e *Exercise) Validate() error {
	if e.BPM <= 0 {
		return errors.New("exercise BPM must be positive")
	}
	if e.CountInBeats < 0 {
		return errors.New("exercise count-in cannot be negative")
	}
	if len(e.Notes) == 0 {
		return errors.New("exercise has no notes")
	}
	for i, n := range e.Notes {
		if n.Pitch < 0 || n.Pitch > 127 {
			return fmt.Errorf("note %d: pitch %d out of range 0-127", i, n.Pitch)
		}
		if n.StartBeat < 0 {
			return fmt.Errorf("note %d: negative start beat %v", i, n.StartBeat)
		}
		if n.DurationBeats < 0 {
			return fmt.Errorf("note %d: negative duration %v", i, n.DurationBeats)
		}
		if i > 0 && n.StartBeat < e.Notes[i-1].StartBeat {
			return fmt.Errorf("note %d: start beat %v before previous note", i, n.StartBeat)
		}
	}
	if e.Scoring.GraceMs < e.Scoring.ToleranceMs {
		return errors.New("scoring grace window cannot be smaller than the tolerance window")
	}
	return nil
}

// Copy makes a deep copy of an Exercise.
func (e *Exercise) Copy() Exercise {
	notes := make([]ExpectedNote, len(e.Notes))
	copy(notes, e.Notes)
	ret := *e
	ret.Notes = notes
	return ret
}

// MsPerBeat returns the duration of one beat in milliseconds.
func (e *Exercise) MsPerBeat() float64 {
	return 60000 / float64(e.BPM)
}

// RequiredNotes returns the number of non-optional expected notes.
func (e *Exercise) RequiredNotes() int {
	ret := 0
	for _, n := range e.Notes {
		if !n.Optional {
			ret++
		}
	}
	return ret
}

// LastNoteStartBeat returns the start beat of the last expected note, or 0
// for an empty exercise.
func (e *Exercise) LastNoteStartBeat() float64 {
	if len(e.Notes) == 0 {
		return 0
	}
	return e.Notes[len(e.Notes)-1].StartBeat
}

// LastNoteEndBeat returns the beat at which the last expected note stops
// sounding. The notes are ordered by start beat but not by end beat, so all
// of them are scanned.
func (e *Exercise) LastNoteEndBeat() float64 {
	ret := 0.0
	for _, n := range e.Notes {
		if end := n.StartBeat + n.DurationBeats; end > ret {
			ret = end
		}
	}
	return ret
}

// NotesAtBeat returns the indices of the expected notes sounding at the given
// beat, for the coordinator to report which notes are currently expected.
// Notes are ordered by start beat but not by end beat, so every candidate up
// to the beat is checked.
func (e *Exercise) NotesAtBeat(beat float64) []int {
	var ret []int
	for i := range e.Notes {
		n := &e.Notes[i]
		if n.StartBeat > beat {
			break
		}
		if n.StartBeat+n.DurationBeats >= beat {
			ret = append(ret, i)
		}
	}
	return ret
}

// NoteToFreq converts a semitone id to its frequency in Hz, with 69 = A4 =
// 440 Hz.
func NoteToFreq(pitch int) float32 {
	return 440 * math32.Exp2(float32(pitch-69)/12)
}
