package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// httpEngine talks to a remote inference worker exposing POST /load and
// POST /infer with the same JSON shapes as the exec worker protocol.
type httpEngine struct {
	endpoint   string
	sampleRate int
	client     *http.Client
	loaded     atomic.Bool
}

func NewHTTP(endpoint string, sampleRate int) Engine {
	return &httpEngine{
		endpoint:   strings.TrimRight(endpoint, "/"),
		sampleRate: sampleRate,
		client:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

func (h *httpEngine) Name() string { return "http" }

func (h *httpEngine) Loaded() bool { return h.loaded.Load() }

func (h *httpEngine) Load(ctx context.Context) error {
	if _, err := h.post(ctx, "/load", workerRequest{Action: "load"}); err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	h.loaded.Store(true)
	return nil
}

func (h *httpEngine) Infer(ctx context.Context, text string, opts InferOptions) (Waveform, error) {
	resp, err := h.post(ctx, "/infer", workerRequest{Action: "infer", Text: text, Options: &opts})
	if err != nil {
		return Waveform{}, err
	}
	return decodeWaveform(resp.AudioBase64, resp.Encoding, resp.SampleRate, h.sampleRate)
}

func (h *httpEngine) post(ctx context.Context, path string, payload workerRequest) (workerResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return workerResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return workerResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.loaded.Store(false)
		return workerResponse{}, err
	}
	defer resp.Body.Close()

	var out workerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= 300 {
			return workerResponse{}, fmt.Errorf("worker returned status %s", resp.Status)
		}
		return workerResponse{}, fmt.Errorf("decode worker response: %w", err)
	}
	if resp.StatusCode >= 300 || !out.OK {
		if out.Error == "" {
			out.Error = "worker returned status " + resp.Status
		}
		if resp.StatusCode == http.StatusServiceUnavailable {
			h.loaded.Store(false)
		}
		return workerResponse{}, errors.New(out.Error)
	}
	return out, nil
}
