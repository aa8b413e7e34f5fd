package etude

type (
	// AudioRenderer produces interleaved stereo float32 samples. The engine
	// implements this; an AudioContext pulls from it on the audio thread, so
	// Render must never block and must not allocate.
	AudioRenderer interface {
		Render(buffer []float32)
	}

	// AudioContext is an audio output backend that can play an AudioRenderer.
	// Start may be called at most once per context.
	AudioContext interface {
		Start(renderer AudioRenderer) error
		OutputLatencyMs() float64
		Close() error
	}
)
