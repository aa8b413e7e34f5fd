// Package engine is the polyphonic voice pool: it allocates, reuses and
// evicts voices from a fixed-size table and renders them with ADSR
// envelopes. After Initialize, nothing on the play or render path allocates.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/viterin/vek/vek32"
)

type (
	// Config is supplied once at engine construction and read-only
	// afterwards.
	Config struct {
		MaxPolyphony int     `yaml:"maxPolyphony"`
		SampleRate   int     `yaml:"sampleRate"`
		AttackMs     float64 `yaml:"attackMs"`
		DecayMs      float64 `yaml:"decayMs"`
		SustainLevel float64 `yaml:"sustainLevel"`
		ReleaseMs    float64 `yaml:"releaseMs"`
		MinSoundMs   float64 `yaml:"minSoundMs"` // fast taps still sound at least this long
		MasterGain   float64 `yaml:"masterGain"`
	}

	// Handle identifies one triggered voice. The generation tag makes a
	// handle stale once its voice has been evicted and reused.
	Handle struct {
		index int
		gen   uint32
	}

	// samplesConfig is Config with the durations converted to sample counts.
	samplesConfig struct {
		attack       int
		decay        int
		release      int
		minSound     int
		sustainLevel float32
	}

	// Engine is the voice pool / synthesis engine. Voices live in a table
	// sized to MaxPolyphony that is preallocated by Initialize; PlayNote
	// reuses and evicts table entries but never grows it. The mutex
	// serializes the control calls (coming from the coordinator's event
	// loop) against Render (coming from the audio thread); every critical
	// section is allocation-free and bounded.
	Engine struct {
		mu      sync.Mutex
		cfg     Config
		scfg    samplesConfig
		backend Backend
		ready   bool

		voices  []voice
		mono    []float32
		scratch []float32

		timeSamples int64
		seq         int64
		nextGen     uint32

		latencyMs float64
	}
)

// DefaultConfig mirrors the envelope a practice keyboard wants: a percussive
// 10 ms attack and a 200 ms release tail.
var DefaultConfig = Config{
	MaxPolyphony: 10,
	SampleRate:   44100,
	AttackMs:     10,
	DecayMs:      100,
	SustainLevel: 0.7,
	ReleaseMs:    200,
	MinSoundMs:   50,
	MasterGain:   0.4,
}

// ErrNotInitialized is returned by PlayNote when Initialize has not been
// called (or failed). Callers degrade to a silent mode; they must not treat
// this as fatal to scoring.
var ErrNotInitialized = errors.New("engine is not initialized")

const renderChunk = 2048

func New(cfg Config) *Engine {
	if cfg.MaxPolyphony <= 0 {
		cfg.MaxPolyphony = DefaultConfig.MaxPolyphony
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig.SampleRate
	}
	if cfg.AttackMs <= 0 {
		cfg.AttackMs = DefaultConfig.AttackMs
	}
	if cfg.DecayMs <= 0 {
		cfg.DecayMs = DefaultConfig.DecayMs
	}
	if cfg.SustainLevel <= 0 {
		cfg.SustainLevel = DefaultConfig.SustainLevel
	}
	if cfg.ReleaseMs <= 0 {
		cfg.ReleaseMs = DefaultConfig.ReleaseMs
	}
	if cfg.MinSoundMs <= 0 {
		cfg.MinSoundMs = DefaultConfig.MinSoundMs
	}
	if cfg.MasterGain <= 0 {
		cfg.MasterGain = DefaultConfig.MasterGain
	}
	return &Engine{cfg: cfg}
}

// Initialize probes the backend and preallocates the voice table and render
// scratch buffers. It must complete before the first PlayNote.
func (e *Engine) Initialize(backend Backend) error {
	if err := backend.Probe(); err != nil {
		return fmt.Errorf("backend %s probe failed: %w", backend.Name(), err)
	}
	msToSamples := func(ms float64) int {
		n := int(ms * float64(e.cfg.SampleRate) / 1000)
		if n < 1 {
			n = 1
		}
		return n
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backend = backend
	e.scfg = samplesConfig{
		attack:       msToSamples(e.cfg.AttackMs),
		decay:        msToSamples(e.cfg.DecayMs),
		release:      msToSamples(e.cfg.ReleaseMs),
		minSound:     msToSamples(e.cfg.MinSoundMs),
		sustainLevel: float32(e.cfg.SustainLevel),
	}
	e.voices = make([]voice, e.cfg.MaxPolyphony)
	e.mono = make([]float32, renderChunk)
	e.scratch = make([]float32, renderChunk)
	e.ready = true
	return nil
}

// Ready reports whether the engine can be played. Scoring keeps working even
// when this is false.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

func (e *Engine) Backend() Backend {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend
}

// PlayNote starts a voice for the pitch. A voice already sounding at the
// same pitch is hard-stopped first, so rapid repeats never stack. When the
// pool is full, the oldest-started voice is evicted, irrespective of pitch.
func (e *Engine) PlayNote(pitch int, velocity float64) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return Handle{}, ErrNotInitialized
	}
	free := -1
	oldest := -1
	for i := range e.voices {
		v := &e.voices[i]
		if v.active && v.pitch == pitch {
			v.stop() // hard retrigger
		}
		if !v.active {
			if free < 0 {
				free = i
			}
			continue
		}
		if oldest < 0 || v.seq < e.voices[oldest].seq {
			oldest = i
		}
	}
	idx := free
	if idx < 0 {
		e.voices[oldest].stop()
		idx = oldest
	}
	e.nextGen++
	e.seq++
	v := &e.voices[idx]
	v.trigger(pitch, float32(velocity), e.nextGen, e.seq, e.timeSamples, &e.scfg)
	e.backend.Start(&v.vs, pitch, float32(velocity))
	return Handle{index: idx, gen: e.nextGen}, nil
}

// Release starts the release tail of the voice behind the handle. If the
// voice has sounded for less than MinSoundMs, the release is deferred so the
// tap is still audible. Stale handles are ignored.
func (e *Engine) Release(h Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h.index < 0 || h.index >= len(e.voices) {
		return
	}
	v := &e.voices[h.index]
	if !v.active || v.gen != h.gen {
		return
	}
	e.releaseVoice(v)
}

// ReleasePitch releases the sounding voice for a pitch, if any. Because
// PlayNote hard-retriggers same-pitch voices, at most one can be sounding.
func (e *Engine) ReleasePitch(pitch int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.voices {
		if v := &e.voices[i]; v.active && v.pitch == pitch {
			e.releaseVoice(v)
		}
	}
}

func (e *Engine) releaseVoice(v *voice) {
	if earliest := v.startSample + int64(e.scfg.minSound); e.timeSamples < earliest {
		v.releasePending = true
		v.releaseAt = earliest
		return
	}
	v.beginRelease(e.scfg.release)
}

// ReleaseAll stops every voice immediately, with no release tail. Used on
// pause and stop, where silence must be guaranteed before the state
// transition completes.
func (e *Engine) ReleaseAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.voices {
		e.voices[i].stop()
	}
}

// ActiveVoices returns the number of currently sounding voices.
func (e *Engine) ActiveVoices() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for i := range e.voices {
		if e.voices[i].active {
			n++
		}
	}
	return n
}

func (e *Engine) SetOutputLatencyMs(ms float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latencyMs = ms
}

// OutputLatencyMs reports the audio output latency estimate, for the UI to
// decide whether to warn about degraded audio.
func (e *Engine) OutputLatencyMs() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latencyMs
}

// Render fills the interleaved stereo buffer. It is called from the audio
// thread and never allocates; buffers larger than the internal scratch are
// processed in chunks.
func (e *Engine) Render(buffer []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		// a voice must never take down an attempt; force-stop everything
		if err := recover(); err != nil {
			for i := range e.voices {
				e.voices[i].stop()
			}
		}
	}()
	for i := range buffer {
		buffer[i] = 0
	}
	if !e.ready {
		return
	}
	for len(buffer) >= 2 {
		n := len(buffer) / 2
		if n > renderChunk {
			n = renderChunk
		}
		e.renderChunk(buffer[:n*2], n)
		buffer = buffer[n*2:]
	}
}

func (e *Engine) renderChunk(out []float32, n int) {
	mono := e.mono[:n]
	for i := range mono {
		mono[i] = 0
	}
	for i := range e.voices {
		v := &e.voices[i]
		if !v.active {
			continue
		}
		scratch := e.scratch[:n]
		e.backend.Render(&v.vs, scratch)
		v.applyEnvelope(scratch, e.timeSamples, e.scfg.release)
		vek32.Add_Inplace(mono, scratch)
	}
	vek32.MulNumber_Inplace(mono, float32(e.cfg.MasterGain))
	for i, s := range mono {
		s = clip(s)
		out[2*i] = s
		out[2*i+1] = s
	}
	e.timeSamples += int64(n)
}

func clip(s float32) float32 {
	if s < -1 {
		return -1
	}
	if s > 1 {
		return 1
	}
	return s
}
