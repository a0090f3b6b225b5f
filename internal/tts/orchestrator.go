package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const instrumentationName = "github.com/loqalabs/loqa-tts/tts"

// Hints are advisory prosody parameters. They are forwarded to engines that
// accept them and otherwise have no effect on the output.
type Hints struct {
	Speaker string
	Speed   float64
	Pitch   int
	Volume  float64
}

// Attempt records one step of an orchestration run.
type Attempt struct {
	Name      string        `json:"name"`
	Succeeded bool          `json:"succeeded"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Outcome is either a waveform (Err == nil) or a failure with the attempt log.
type Outcome struct {
	Waveform            engine.Waveform
	Attempts            []Attempt
	FallbackRecommended bool
	Err                 error
}

func (o Outcome) Succeeded() bool { return o.Err == nil }

// Orchestrator owns the engine handle. Runs are serialized through a single
// slot so concurrent requests queue instead of racing inside the engine.
type Orchestrator struct {
	engine      engine.Engine
	strategies  []Strategy
	loadTimeout time.Duration
	slot        *semaphore.Weighted
	loads       singleflight.Group
	logger      *slog.Logger
	tracer      trace.Tracer
	attempts    metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewOrchestrator wires eng to the strategy ladder. A nil strategies slice
// selects DefaultStrategies. A zero loadTimeout waits for the load indefinitely.
func NewOrchestrator(eng engine.Engine, strategies []Strategy, loadTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if strategies == nil {
		strategies = DefaultStrategies()
	}
	o := &Orchestrator{
		engine:      eng,
		strategies:  strategies,
		loadTimeout: loadTimeout,
		slot:        semaphore.NewWeighted(1),
		logger:      logger.With(slog.String("component", "tts-orchestrator")),
		tracer:      otel.Tracer(instrumentationName),
	}
	if err := o.initMetrics(); err != nil {
		o.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return o
}

func (o *Orchestrator) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	attempts, err := meter.Int64Counter("loqa.tts.attempts", metric.WithDescription("Engine invocation attempts by strategy and result"))
	if err != nil {
		return err
	}
	duration, err := meter.Float64Histogram("loqa.tts.duration", metric.WithDescription("Orchestration run duration"), metric.WithUnit("s"))
	if err != nil {
		return err
	}
	o.attempts = attempts
	o.duration = duration
	return nil
}

// Loaded reports whether the engine is ready.
func (o *Orchestrator) Loaded() bool {
	return o.engine != nil && o.engine.Loaded()
}

// EngineName identifies the configured engine.
func (o *Orchestrator) EngineName() string {
	if o.engine == nil {
		return ""
	}
	return o.engine.Name()
}

// Preload loads the engine ahead of the first request. It shares the load
// with any request that arrives meanwhile.
func (o *Orchestrator) Preload(ctx context.Context) error {
	if o.engine == nil {
		return ErrEngineUnavailable
	}
	return o.ensureLoaded(ctx)
}

func (o *Orchestrator) ensureLoaded(ctx context.Context) error {
	if o.engine.Loaded() {
		return nil
	}
	_, err, _ := o.loads.Do("load", func() (any, error) {
		if o.engine.Loaded() {
			return nil, nil
		}
		loadCtx := context.WithoutCancel(ctx)
		if o.loadTimeout > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(loadCtx, o.loadTimeout)
			defer cancel()
		}
		start := time.Now()
		o.logger.Info("loading synthesis engine", slog.String("engine", o.engine.Name()))
		if err := o.engine.Load(loadCtx); err != nil {
			o.logger.Error("synthesis engine load failed", slogError(err))
			return nil, err
		}
		o.logger.Info("synthesis engine loaded", slog.Duration("elapsed", time.Since(start)))
		return nil, nil
	})
	return err
}

// Run drives the strategy ladder for already normalized text. It never
// panics; every engine fault ends up in the attempt log.
func (o *Orchestrator) Run(ctx context.Context, text string, hints Hints) Outcome {
	ctx, span := o.tracer.Start(ctx, "tts.orchestrate", trace.WithAttributes(attribute.Int("tts.text_length", len([]rune(text)))))
	defer span.End()
	start := time.Now()

	out := o.run(ctx, span, text, hints)

	if o.duration != nil {
		o.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.Bool("success", out.Succeeded())))
	}
	if out.Err != nil {
		span.SetStatus(codes.Error, out.Err.Error())
	}
	return out
}

func (o *Orchestrator) run(ctx context.Context, span trace.Span, text string, hints Hints) Outcome {
	if o.engine == nil {
		return Outcome{Attempts: []Attempt{{Name: "init", Error: ErrEngineUnavailable.Error()}}, Err: ErrEngineUnavailable}
	}

	waitStart := time.Now()
	if err := o.slot.Acquire(ctx, 1); err != nil {
		o.record(ctx, "queue", false)
		return Outcome{
			Attempts:            []Attempt{{Name: "queue", Error: err.Error(), Duration: time.Since(waitStart)}},
			FallbackRecommended: true,
			Err:                 ErrEngineBusy,
		}
	}
	defer o.slot.Release(1)
	span.AddEvent("engine acquired")

	loadStart := time.Now()
	if err := o.ensureLoaded(ctx); err != nil {
		o.record(ctx, "load", false)
		return Outcome{
			Attempts: []Attempt{{Name: "load", Error: err.Error(), Duration: time.Since(loadStart)}},
			Err:      ErrModelLoadFailed,
		}
	}

	attempts := make([]Attempt, 0, len(o.strategies))
	var lastErr error
	for _, s := range o.strategies {
		attemptStart := time.Now()
		wf, err := o.attempt(ctx, s, text, hints)
		attempt := Attempt{Name: s.Name, Succeeded: err == nil, Duration: time.Since(attemptStart)}
		o.record(ctx, s.Name, err == nil)
		if err == nil {
			attempts = append(attempts, attempt)
			o.logger.Debug("strategy succeeded", slog.String("strategy", s.Name), slog.Int("samples", len(wf.Samples)))
			return Outcome{Waveform: wf, Attempts: attempts}
		}
		attempt.Error = err.Error()
		attempts = append(attempts, attempt)
		lastErr = err
		o.logger.Warn("strategy failed", slog.String("strategy", s.Name), slogError(err))
	}

	if errors.Is(lastErr, errNoAudio) {
		return Outcome{Attempts: attempts, Err: ErrEmptyResult}
	}
	o.logger.Warn("all synthesis strategies failed, recommending client fallback", slog.Int("attempts", len(attempts)))
	return Outcome{Attempts: attempts, FallbackRecommended: true, Err: ErrAllStrategiesExhausted}
}

func (o *Orchestrator) attempt(ctx context.Context, s Strategy, text string, hints Hints) (wf engine.Waveform, err error) {
	ctx, span := o.tracer.Start(ctx, "tts.strategy "+s.Name)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	wf, err = s.call(ctx, o.engine, text, hints)
	if err != nil {
		return engine.Waveform{}, err
	}
	if len(wf.Samples) == 0 {
		return engine.Waveform{}, fmt.Errorf("%w: %w", ErrSynthesisFailed, errNoAudio)
	}
	if wf.SampleRate != audio.SampleRate {
		return engine.Waveform{}, fmt.Errorf("%w: engine produced %d Hz, expected %d", ErrSynthesisFailed, wf.SampleRate, audio.SampleRate)
	}
	return wf, nil
}

func (o *Orchestrator) record(ctx context.Context, step string, ok bool) {
	if o.attempts == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	o.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", step), attribute.String("result", result)))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
