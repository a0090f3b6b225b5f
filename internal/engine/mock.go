package engine

import (
	"context"
	"math"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

type mockEngine struct {
	sampleRate int
	loaded     atomic.Bool
}

// NewMock returns an engine that renders a short tone per character. It is
// meant for development and for exercising the HTTP surface without a model.
func NewMock(sampleRate int) Engine {
	return &mockEngine{sampleRate: sampleRate}
}

func (m *mockEngine) Name() string { return "mock" }

func (m *mockEngine) Loaded() bool { return m.loaded.Load() }

func (m *mockEngine) Load(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	m.loaded.Store(true)
	return nil
}

func (m *mockEngine) Infer(ctx context.Context, text string, opts InferOptions) (Waveform, error) {
	if err := ctx.Err(); err != nil {
		return Waveform{}, err
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}
	perRune := int(float64(m.sampleRate) * 0.08 / speed)
	n := utf8.RuneCountInString(text) * perRune
	samples := make([]float32, n)
	for i := range samples {
		freq := 220.0 + float64((i/perRune)%8)*20
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*freq*float64(i)/float64(m.sampleRate)))
	}
	return Waveform{Samples: samples, SampleRate: m.sampleRate}, nil
}
