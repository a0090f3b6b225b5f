package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/journal"
	"github.com/loqalabs/loqa-tts/internal/text"
)

// Request is a synthesis request before normalization. Zero Speed and
// Volume mean "use the default".
type Request struct {
	Text    string
	Speaker string
	Speed   float64
	Pitch   int
	Volume  float64
}

// Result is a successfully synthesized clip.
type Result struct {
	ID       string
	Text     string
	Hints    Hints
	Artifact audio.Artifact
	Attempts []Attempt
}

// Report summarizes a finished run for observers.
type Report struct {
	ID                  string
	Speaker             string
	TextLength          int
	Status              string // ok, failed, rejected
	Reason              string
	FallbackRecommended bool
	Attempts            []Attempt
	Duration            time.Duration
	CreatedAt           time.Time
}

// Observer is notified after every run. Observers must not block for long.
type Observer interface {
	Observe(ctx context.Context, r Report)
}

// Pipeline is the single path from request text to encoded audio. Both the
// file and the embedded HTTP responses, as well as the bus service, use it.
type Pipeline struct {
	orch           *Orchestrator
	defaultSpeaker string
	maxTextLength  int
	observers      []Observer
	logger         *slog.Logger
}

func NewPipeline(orch *Orchestrator, cfg config.SynthesisConfig, logger *slog.Logger, observers ...Observer) *Pipeline {
	return &Pipeline{
		orch:           orch,
		defaultSpeaker: cfg.DefaultSpeaker,
		maxTextLength:  cfg.MaxTextLength,
		observers:      observers,
		logger:         logger.With(slog.String("component", "tts-pipeline")),
	}
}

// Orchestrator exposes the engine owner for health reporting.
func (p *Pipeline) Orchestrator() *Orchestrator { return p.orch }

// Synthesize normalizes the text, runs the strategy ladder and encodes the
// waveform as PCM16 WAV. The returned id is valid even when err != nil.
func (p *Pipeline) Synthesize(ctx context.Context, req Request) (string, Result, error) {
	id := uuid.NewString()
	start := time.Now()
	hints := p.hints(req)
	report := Report{ID: id, Speaker: hints.Speaker, CreatedAt: start.UTC()}

	normalized, err := text.Normalize(req.Text)
	if err != nil {
		p.notify(ctx, rejected(report, start, err))
		return id, Result{}, err
	}
	report.TextLength = utf8.RuneCountInString(normalized)
	if p.maxTextLength > 0 && report.TextLength > p.maxTextLength {
		err := fmt.Errorf("%w: %d characters, limit %d", ErrTextTooLong, report.TextLength, p.maxTextLength)
		p.notify(ctx, rejected(report, start, err))
		return id, Result{}, err
	}

	p.logger.Info("synthesis request",
		slog.String("request_id", id),
		slog.String("speaker", hints.Speaker),
		slog.Int("text_length", report.TextLength))

	out := p.orch.Run(ctx, normalized, hints)
	report.Attempts = out.Attempts
	if !out.Succeeded() {
		report.Status = "failed"
		report.Reason = out.Err.Error()
		report.FallbackRecommended = out.FallbackRecommended
		report.Duration = time.Since(start)
		p.notify(ctx, report)
		return id, Result{}, &FailureError{Outcome: out}
	}

	art, err := audio.EncodeWAV(out.Waveform.Samples, out.Waveform.SampleRate)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrEncodingFailure, err)
		report.Status = "failed"
		report.Reason = err.Error()
		report.Duration = time.Since(start)
		p.notify(ctx, report)
		return id, Result{}, err
	}

	report.Status = "ok"
	report.Duration = time.Since(start)
	p.notify(ctx, report)

	return id, Result{
		ID:       id,
		Text:     normalized,
		Hints:    hints,
		Artifact: art,
		Attempts: out.Attempts,
	}, nil
}

func (p *Pipeline) hints(req Request) Hints {
	h := Hints{Speaker: req.Speaker, Speed: req.Speed, Pitch: req.Pitch, Volume: req.Volume}
	if h.Speaker == "" {
		h.Speaker = p.defaultSpeaker
	}
	if h.Speed <= 0 {
		h.Speed = 1.0
	}
	if h.Volume <= 0 {
		h.Volume = 1.0
	}
	return h
}

func (p *Pipeline) notify(ctx context.Context, r Report) {
	for _, o := range p.observers {
		o.Observe(ctx, r)
	}
}

func rejected(r Report, start time.Time, err error) Report {
	r.Status = "rejected"
	r.Reason = err.Error()
	r.Duration = time.Since(start)
	return r
}

// Strategy returns the name of the strategy that produced audio.
func (r Report) Strategy() string {
	for _, a := range r.Attempts {
		if a.Succeeded {
			return a.Name
		}
	}
	return ""
}

type journalObserver struct {
	store  *journal.Store
	logger *slog.Logger
}

// JournalObserver records every run in the synthesis journal.
func JournalObserver(store *journal.Store, logger *slog.Logger) Observer {
	return &journalObserver{store: store, logger: logger.With(slog.String("component", "tts-journal"))}
}

func (j *journalObserver) Observe(ctx context.Context, r Report) {
	if !j.store.Enabled() {
		return
	}
	attempts := make([]journal.Attempt, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		attempts = append(attempts, journal.Attempt{
			Name:       a.Name,
			Succeeded:  a.Succeeded,
			Error:      a.Error,
			DurationMS: a.Duration.Milliseconds(),
		})
	}
	entry := journal.Entry{
		ID:                  r.ID,
		Speaker:             r.Speaker,
		TextLength:          r.TextLength,
		Status:              r.Status,
		Reason:              r.Reason,
		FallbackRecommended: r.FallbackRecommended,
		Attempts:            attempts,
		DurationMS:          r.Duration.Milliseconds(),
		CreatedAt:           r.CreatedAt,
	}
	if err := j.store.Append(context.WithoutCancel(ctx), entry); err != nil {
		j.logger.Warn("failed to record synthesis run", slog.String("request_id", r.ID), slogError(err))
	}
}
