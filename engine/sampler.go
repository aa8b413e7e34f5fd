package engine

import (
	"errors"

	"github.com/chewxy/math32"
	"github.com/quaverlab/etude"
)

// SamplerBackend plays pre-rendered base waves, pitch-shifted via playback
// rate scaling to the nearest available base pitch. The base waves are
// rendered once at probe time; after that the play path only reads them.
type SamplerBackend struct {
	sampleRate int
	basePitch  []int
	waves      [][]float32
}

// one base wave per octave, C2..C7
var samplerBasePitches = []int{36, 48, 60, 72, 84, 96}

const baseWaveSeconds = 2

func NewSamplerBackend(sampleRate int) *SamplerBackend {
	return &SamplerBackend{sampleRate: sampleRate}
}

func (s *SamplerBackend) Name() string { return "sampler" }

// Probe renders the base wavetables. This is the only allocation the sampler
// ever does; a second probe is a no-op.
func (s *SamplerBackend) Probe() error {
	if s.sampleRate <= 0 {
		return errors.New("sampler backend needs a positive sample rate")
	}
	if s.waves != nil {
		return nil
	}
	waves := make([][]float32, len(samplerBasePitches))
	for i, pitch := range samplerBasePitches {
		waves[i] = renderBaseWave(s.sampleRate, pitch)
	}
	s.basePitch = samplerBasePitches
	s.waves = waves
	return nil
}

// renderBaseWave renders a decaying harmonic tone at the base pitch. The
// per-partial decay burnt into the wave is what distinguishes the sampler's
// timbre from the static-spectrum oscillator.
func renderBaseWave(sampleRate, pitch int) []float32 {
	n := sampleRate * baseWaveSeconds
	wave := make([]float32, n)
	freq := etude.NoteToFreq(pitch)
	nyquist := float32(sampleRate) / 2
	for k := 0; k < maxPartials; k++ {
		f := freq * float32(k+1)
		if f >= nyquist {
			break
		}
		inc := f / float32(sampleRate)
		// higher partials die faster
		decay := math32.Exp(-float32(k+1) * 3 / float32(n))
		gain := partialGains[k]
		phase := float32(0)
		for i := 0; i < n; i++ {
			wave[i] += gain * math32.Sin(2*math32.Pi*phase)
			phase += inc
			if phase >= 1 {
				phase -= 1
			}
			gain *= decay
		}
	}
	return wave
}

func (s *SamplerBackend) Start(v *VoiceState, pitch int, velocity float32) {
	best := 0
	for i := range s.basePitch {
		if abs(pitch-s.basePitch[i]) < abs(pitch-s.basePitch[best]) {
			best = i
		}
	}
	v.wave = s.waves[best]
	v.pos = 0
	v.step = math32.Exp2(float32(pitch-s.basePitch[best]) / 12)
}

func (s *SamplerBackend) Render(v *VoiceState, dst []float32) {
	for i := range dst {
		idx := int(v.pos)
		if idx+1 >= len(v.wave) {
			dst[i] = 0
			continue
		}
		frac := v.pos - float32(idx)
		dst[i] = v.wave[idx] + (v.wave[idx+1]-v.wave[idx])*frac
		v.pos += v.step
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
