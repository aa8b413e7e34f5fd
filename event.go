package etude

type (
	// EventKind tells whether a PlayedNoteEvent is a key press or a key
	// release.
	EventKind uint8

	// InputSource tells which transport delivered an event. Touch events get
	// a fixed latency compensation before matching; controller events are
	// assumed to carry accurate timestamps already.
	InputSource uint8

	// PlayedNoteEvent is one timestamped input event, as handed to the core
	// by the input layer. Events are appended to a per-attempt log and never
	// mutated afterwards, except that DurationMs of an on-event is backfilled
	// once the matching off-event arrives.
	PlayedNoteEvent struct {
		Kind        EventKind   `yaml:"kind"`
		Pitch       int         `yaml:"pitch"`    // semitone id, 0-127
		Velocity    float64     `yaml:"velocity"` // normalized 0-1
		TimestampMs float64     `yaml:"timestampMs"`
		Source      InputSource `yaml:"source"`
		DurationMs  float64     `yaml:"durationMs,omitempty"`
	}
)

const (
	NoteOn EventKind = iota
	NoteOff
)

const (
	SourceController InputSource = iota
	SourceTouch
)

func (k EventKind) String() string {
	if k == NoteOn {
		return "on"
	}
	return "off"
}

func (s InputSource) String() string {
	if s == SourceController {
		return "controller"
	}
	return "touch"
}
