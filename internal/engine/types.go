// Package engine adapts neural speech synthesis backends.
//
// An Engine is stateful and expensive to load. It is owned by exactly one
// orchestrator, which serializes access; implementations only guard their
// own internal state.
package engine

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-tts/internal/config"
)

// Waveform is raw synthesized audio before container encoding.
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// InferOptions mirrors the refinement switches exposed by the engine.
// A nil switch leaves the engine default in place.
type InferOptions struct {
	UseDecoder             *bool `json:"use_decoder,omitempty"`
	SkipRefineText         *bool `json:"skip_refine_text,omitempty"`
	DoTextNormalization    *bool `json:"do_text_normalization,omitempty"`
	DoHomophoneReplacement *bool `json:"do_homophone_replacement,omitempty"`
	SplitText              *bool `json:"split_text,omitempty"`

	// Prosody hints. Engines may ignore them.
	Speaker string  `json:"speaker,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
	Pitch   int     `json:"pitch,omitempty"`
	Volume  float64 `json:"volume,omitempty"`
}

// Engine is the contract for a lazily loaded synthesis backend.
type Engine interface {
	Name() string
	Loaded() bool
	Load(ctx context.Context) error
	Infer(ctx context.Context, text string, opts InferOptions) (Waveform, error)
}

// Bool returns a pointer to b, for InferOptions switches.
func Bool(b bool) *bool { return &b }

// New builds the engine selected by cfg.Mode. Nothing is loaded yet.
func New(cfg config.EngineConfig) (Engine, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMock(cfg.SampleRate), nil
	case "exec":
		return NewExec(cfg.Command, cfg.SampleRate)
	case "http":
		return NewHTTP(cfg.Endpoint, cfg.SampleRate), nil
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}
