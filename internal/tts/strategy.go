package tts

import (
	"context"

	"github.com/loqalabs/loqa-tts/internal/engine"
)

// Strategy is one way of invoking the engine. Strategies are tried in order
// from highest fidelity to most tolerant; the first that yields audio wins.
type Strategy struct {
	Name    string
	Options engine.InferOptions

	// ForwardHints copies speaker and prosody hints into Options.
	ForwardHints bool

	// Invoke overrides the engine call. Nil means engine.Infer with Options.
	Invoke func(ctx context.Context, eng engine.Engine, text string, opts engine.InferOptions) (engine.Waveform, error)
}

const (
	StrategyFullDecode = "full-decode"
	StrategyNoDecoder  = "no-decoder"
	StrategyMinimal    = "minimal"
)

// DefaultStrategies returns the fallback ladder. Text has already been
// normalized, so engine side normalization, homophone replacement and
// splitting stay off; re-segmenting short inputs corrupts the output.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name: StrategyFullDecode,
			Options: engine.InferOptions{
				UseDecoder:             engine.Bool(true),
				SkipRefineText:         engine.Bool(true),
				DoTextNormalization:    engine.Bool(false),
				DoHomophoneReplacement: engine.Bool(false),
				SplitText:              engine.Bool(false),
			},
			ForwardHints: true,
		},
		{
			Name: StrategyNoDecoder,
			Options: engine.InferOptions{
				UseDecoder:             engine.Bool(false),
				SkipRefineText:         engine.Bool(true),
				DoTextNormalization:    engine.Bool(false),
				DoHomophoneReplacement: engine.Bool(false),
			},
			ForwardHints: true,
		},
		{
			Name: StrategyMinimal,
			Options: engine.InferOptions{
				SkipRefineText: engine.Bool(true),
			},
		},
	}
}

func (s Strategy) options(h Hints) engine.InferOptions {
	opts := s.Options
	if s.ForwardHints {
		opts.Speaker = h.Speaker
		opts.Speed = h.Speed
		opts.Pitch = h.Pitch
		opts.Volume = h.Volume
	}
	return opts
}

func (s Strategy) call(ctx context.Context, eng engine.Engine, text string, h Hints) (engine.Waveform, error) {
	opts := s.options(h)
	if s.Invoke != nil {
		return s.Invoke(ctx, eng, text, opts)
	}
	return eng.Infer(ctx, text, opts)
}
