package tts

import (
	"encoding/base64"
	"errors"

	"github.com/loqalabs/loqa-tts/internal/protocol"
)

// AudioEnvelope renders a result for embedded delivery.
func AudioEnvelope(res Result) protocol.AudioEnvelope {
	return protocol.AudioEnvelope{
		Success:     true,
		RequestID:   res.ID,
		AudioBase64: base64.StdEncoding.EncodeToString(res.Artifact.Data),
		Format:      res.Artifact.Format,
		SampleRate:  res.Artifact.SampleRate,
		TextLength:  len([]rune(res.Text)),
		Speaker:     res.Hints.Speaker,
		Speed:       res.Hints.Speed,
		Pitch:       res.Hints.Pitch,
		Volume:      res.Hints.Volume,
	}
}

// ErrorEnvelope renders err for clients. Orchestration failures carry the
// attempt log and the fallback recommendation.
func ErrorEnvelope(id string, err error) protocol.ErrorEnvelope {
	env := protocol.ErrorEnvelope{Error: err.Error(), RequestID: id}
	var fe *FailureError
	if errors.As(err, &fe) {
		env.Error = fe.Outcome.Err.Error()
		env.FallbackRecommended = fe.Outcome.FallbackRecommended
		env.Errors = fe.Messages()
		if env.FallbackRecommended {
			env.Error = "speech synthesis temporarily unavailable"
			env.Details = fe.Outcome.Err.Error() + ", use client-side speech synthesis"
		}
	}
	return env
}
