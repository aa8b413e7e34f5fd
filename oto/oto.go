// Package oto adapts github.com/ebitengine/oto/v3 to the etude.AudioContext
// interface. The oto player pulls samples on its own thread; the renderer's
// Render must be non-blocking and allocation-free.
package oto

import (
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/quaverlab/etude"
)

type (
	Context struct {
		ctx        *oto.Context
		player     *oto.Player
		sampleRate int
		bufferSize time.Duration
	}

	// rendererReader turns pull requests from the oto player into Render
	// calls, converting float32 samples to 16-bit little-endian PCM.
	rendererReader struct {
		renderer etude.AudioRenderer
		floats   []float32
	}
)

const defaultBufferSize = 20 * time.Millisecond

// NewContext opens the audio backend. The buffer size is the dominant part
// of the touch-to-sound latency, so it is kept small.
func NewContext(sampleRate int) (*Context, error) {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   defaultBufferSize,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx, sampleRate: sampleRate, bufferSize: defaultBufferSize}, nil
}

// Start begins pulling audio from the renderer. It may be called at most
// once per context.
func (c *Context) Start(renderer etude.AudioRenderer) error {
	if c.player != nil {
		return fmt.Errorf("oto context already started")
	}
	c.player = c.ctx.NewPlayer(&rendererReader{renderer: renderer})
	c.player.Play()
	return nil
}

// OutputLatencyMs estimates the output latency from the buffer size.
func (c *Context) OutputLatencyMs() float64 {
	return float64(c.bufferSize) / float64(time.Millisecond)
}

func (c *Context) Close() error {
	if c.player != nil {
		if err := c.player.Close(); err != nil {
			return fmt.Errorf("cannot close oto player: %w", err)
		}
	}
	return nil
}

func (r *rendererReader) Read(p []byte) (int, error) {
	samples := len(p) / 2
	if cap(r.floats) < samples {
		r.floats = make([]float32, samples)
	}
	buf := r.floats[:samples]
	r.renderer.Render(buf)
	FloatBufferTo16BitLE(buf, p)
	return samples * 2, nil
}
