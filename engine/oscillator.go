package engine

import (
	"errors"

	"github.com/chewxy/math32"
	"github.com/quaverlab/etude"
)

// OscillatorBackend synthesizes a fundamental plus decaying harmonics at the
// target frequency. It has no tables to build, so it always probes fine and
// serves as the fallback backend.
type OscillatorBackend struct {
	sampleRate int
}

func NewOscillatorBackend(sampleRate int) *OscillatorBackend {
	return &OscillatorBackend{sampleRate: sampleRate}
}

func (o *OscillatorBackend) Name() string { return "oscillator" }

func (o *OscillatorBackend) Probe() error {
	if o.sampleRate <= 0 {
		return errors.New("oscillator backend needs a positive sample rate")
	}
	return nil
}

// partialGains follow a rough 1/n^2 rolloff, which reads as a plucked or
// struck string rather than an organ.
var partialGains = [maxPartials]float32{1, 0.42, 0.21, 0.12, 0.06, 0.03}

func (o *OscillatorBackend) Start(v *VoiceState, pitch int, velocity float32) {
	freq := etude.NoteToFreq(pitch)
	nyquist := float32(o.sampleRate) / 2
	v.partials = 0
	for k := 0; k < maxPartials; k++ {
		f := freq * float32(k+1)
		if f >= nyquist {
			break
		}
		v.phases[k] = 0
		v.incs[k] = f / float32(o.sampleRate)
		v.gains[k] = partialGains[k]
		v.partials++
	}
}

func (o *OscillatorBackend) Render(v *VoiceState, dst []float32) {
	for i := range dst {
		var sample float32
		for k := 0; k < v.partials; k++ {
			sample += v.gains[k] * math32.Sin(2*math32.Pi*v.phases[k])
			v.phases[k] += v.incs[k]
			if v.phases[k] >= 1 {
				v.phases[k] -= 1
			}
		}
		dst[i] = sample
	}
}
