package tts

import (
	"errors"
	"strings"

	"github.com/loqalabs/loqa-tts/internal/text"
)

// Request level errors.
var (
	// ErrEmptyText is returned when no speakable text is left after normalization.
	ErrEmptyText = text.ErrEmpty

	// ErrTextTooLong is returned when normalized text exceeds the configured limit.
	ErrTextTooLong = errors.New("text exceeds maximum length")
)

// Engine and orchestration errors.
var (
	// ErrEngineUnavailable is returned when no engine is configured.
	ErrEngineUnavailable = errors.New("synthesis engine not initialized")

	// ErrModelLoadFailed is returned when the engine could not be loaded.
	ErrModelLoadFailed = errors.New("synthesis model failed to load")

	// ErrEngineBusy is returned when the caller gave up while queued for the engine.
	ErrEngineBusy = errors.New("synthesis engine busy")

	// ErrAllStrategiesExhausted is returned when every strategy failed.
	// Clients should fall back to local synthesis.
	ErrAllStrategiesExhausted = errors.New("all synthesis strategies failed")

	// ErrEmptyResult is returned when the engine produced no audio.
	ErrEmptyResult = errors.New("synthesis produced no audio")

	// ErrSynthesisFailed marks a single failed strategy attempt.
	ErrSynthesisFailed = errors.New("speech synthesis failed")

	// ErrEncodingFailure is returned when a waveform cannot be encoded.
	ErrEncodingFailure = errors.New("audio encoding failed")
)

var errNoAudio = errors.New("engine returned no audio")

// FailureError carries a failed orchestration outcome. It unwraps to the
// outcome reason so callers can classify it with errors.Is.
type FailureError struct {
	Outcome Outcome
}

func (e *FailureError) Error() string {
	var b strings.Builder
	b.WriteString(e.Outcome.Err.Error())
	for _, a := range e.Outcome.Attempts {
		if a.Succeeded {
			continue
		}
		b.WriteString("; ")
		b.WriteString(a.Name)
		b.WriteString(": ")
		b.WriteString(a.Error)
	}
	return b.String()
}

func (e *FailureError) Unwrap() error {
	return e.Outcome.Err
}

// Messages returns the per-attempt failure messages in order.
func (e *FailureError) Messages() []string {
	msgs := make([]string, 0, len(e.Outcome.Attempts))
	for _, a := range e.Outcome.Attempts {
		if !a.Succeeded {
			msgs = append(msgs, a.Name+": "+a.Error)
		}
	}
	return msgs
}
