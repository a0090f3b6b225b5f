package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/journal"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/loqalabs/loqa-tts/internal/tts"
)

var errMissingText = errors.New("text is required")

func (h *Handler) handleSynthesizeFile(w http.ResponseWriter, r *http.Request) {
	res, ok := h.synthesize(w, r)
	if !ok {
		return
	}

	filename := fmt.Sprintf("tts_%s_%s.wav", h.now().Format("20060102_150405"), shortID(res.ID))

	w.Header().Set("Content-Type", audio.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Artifact.Data)))
	w.Header().Set("X-Request-Id", res.ID)
	echoHints(w.Header(), res.Hints)
	w.WriteHeader(http.StatusOK)
	w.Write(res.Artifact.Data)
}

func (h *Handler) handleSynthesizeEmbedded(w http.ResponseWriter, r *http.Request) {
	res, ok := h.synthesize(w, r)
	if !ok {
		return
	}

	w.Header().Set("X-Request-Id", res.ID)
	writeJSON(w, http.StatusOK, tts.AudioEnvelope(res))
}

// synthesize runs the shared pipeline and writes the error response on failure.
func (h *Handler) synthesize(w http.ResponseWriter, r *http.Request) (tts.Result, bool) {
	var req protocol.SynthesisRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrorEnvelope{Error: "invalid request body: " + err.Error()})
		return tts.Result{}, false
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, protocol.ErrorEnvelope{Error: errMissingText.Error()})
		return tts.Result{}, false
	}

	id, res, err := h.pipeline.Synthesize(r.Context(), tts.RequestFromProtocol(req))
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			h.logger.Warn("synthesis failed", slog.String("request_id", id), slog.Int("status", code), slog.String("error", err.Error()))
		}
		writeError(w, code, tts.ErrorEnvelope(id, err))
		return tts.Result{}, false
	}
	return res, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tts.ErrEmptyText), errors.Is(err, tts.ErrTextTooLong):
		return http.StatusBadRequest
	case errors.Is(err, tts.ErrAllStrategiesExhausted), errors.Is(err, tts.ErrEngineBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, tts.ErrModelLoadFailed), errors.Is(err, tts.ErrEmptyResult), errors.Is(err, tts.ErrEngineUnavailable):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleSynthesisRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := h.opts.Journal.Get(r.Context(), id)
	if errors.Is(err, journal.ErrNotFound) {
		writeError(w, http.StatusNotFound, protocol.ErrorEnvelope{Error: "synthesis record not found", RequestID: id})
		return
	}
	if err != nil {
		h.logger.Error("journal lookup failed", slog.String("request_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, protocol.ErrorEnvelope{Error: "journal lookup failed", RequestID: id})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

type recentResponse struct {
	Entries []journal.Entry `json:"entries"`
}

// handleSynthesisRecent lists the newest journal entries, bounded by ?limit=N.
func (h *Handler) handleSynthesisRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, protocol.ErrorEnvelope{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRecentLimit)
	}

	entries, err := h.opts.Journal.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("journal listing failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, protocol.ErrorEnvelope{Error: "journal listing failed"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, recentResponse{Entries: entries})
}

// echoHints reports the effective prosody hints. Engines may ignore them.
func echoHints(h http.Header, hints tts.Hints) {
	h.Set("X-Speaker", hints.Speaker)
	h.Set("X-Speed", strconv.FormatFloat(hints.Speed, 'f', -1, 64))
	h.Set("X-Pitch", strconv.Itoa(hints.Pitch))
	h.Set("X-Volume", strconv.FormatFloat(hints.Volume, 'f', -1, 64))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
