package engine

type (
	// VoiceState is the per-voice synthesis state a Backend renders from. It
	// is embedded in the engine's fixed-size voice table, so backends must
	// not grow it dynamically; Start fills it in and Render only mutates it.
	VoiceState struct {
		// additive oscillator state, phases and increments in cycles
		phases   [maxPartials]float32
		incs     [maxPartials]float32
		gains    [maxPartials]float32
		partials int

		// sampler state
		wave []float32 // borrowed from the backend's preloaded table
		pos  float32
		step float32
	}

	// Backend realizes a pitch as raw (pre-envelope) samples. Probe is called
	// once during engine initialization and should fail if the backend cannot
	// run on this configuration; Start and Render are called on the audio
	// path and must not allocate.
	Backend interface {
		Name() string
		Probe() error
		Start(v *VoiceState, pitch int, velocity float32)
		Render(v *VoiceState, dst []float32)
	}
)

const maxPartials = 6

// ChooseBackend picks the synthesis backend for the given configuration by
// probing, preferring the sampler when its wavetables can be built.
func ChooseBackend(cfg Config) Backend {
	sampler := NewSamplerBackend(cfg.SampleRate)
	if sampler.Probe() == nil {
		return sampler
	}
	return NewOscillatorBackend(cfg.SampleRate)
}
