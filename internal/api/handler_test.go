package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/capability"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/engine"
	"github.com/loqalabs/loqa-tts/internal/journal"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"github.com/loqalabs/loqa-tts/internal/voices"
	"golang.org/x/time/rate"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// brokenEngine fails every strategy. With loadErr set it never loads; with
// silentMinimal the minimal strategy returns no samples instead of an error.
type brokenEngine struct {
	loaded        bool
	loadErr       error
	silentMinimal bool
}

func (b *brokenEngine) Name() string { return "broken" }

func (b *brokenEngine) Loaded() bool { return b.loaded }

func (b *brokenEngine) Load(context.Context) error {
	if b.loadErr != nil {
		return b.loadErr
	}
	b.loaded = true
	return nil
}

func (b *brokenEngine) Infer(_ context.Context, _ string, opts engine.InferOptions) (engine.Waveform, error) {
	if b.silentMinimal && opts.UseDecoder == nil {
		return engine.Waveform{SampleRate: audio.SampleRate}, nil
	}
	return engine.Waveform{}, errors.New("narrow(): length must be non-negative")
}

type staticNodes []capability.NodeInfo

func (s staticNodes) Query(filter func(capability.NodeInfo) bool) []capability.NodeInfo {
	var out []capability.NodeInfo
	for _, n := range s {
		if filter(n) {
			out = append(out, n)
		}
	}
	return out
}

func newServer(t *testing.T, eng engine.Engine, opts Options) *httptest.Server {
	t.Helper()
	cfg := config.SynthesisConfig{DefaultSpeaker: "female-shaonv", MaxTextLength: 50}
	var observers []tts.Observer
	if opts.Journal != nil {
		observers = append(observers, tts.JournalObserver(opts.Journal, newLogger()))
	}
	pipeline := tts.NewPipeline(tts.NewOrchestrator(eng, nil, time.Second, newLogger()), cfg, newLogger(), observers...)
	if opts.CORSOrigins == nil {
		opts.CORSOrigins = []string{"*"}
	}
	h := New(pipeline, voices.New(nil), opts, newLogger())
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestSynthesizeRejectsBadRequests(t *testing.T) {
	srv := newServer(t, engine.NewMock(audio.SampleRate), Options{})

	cases := map[string]string{
		"missing text": `{}`,
		"empty text":   `{"text":""}`,
		"blank text":   `{"text":"   "}`,
		"only marks":   `{"text":"？！"}`,
		"too long":     `{"text":"` + strings.Repeat("a", 51) + `"}`,
		"bad json":     `{"text":`,
	}
	for name, body := range cases {
		for _, path := range []string{"/api/tts", "/api/tts_base64"} {
			resp := post(t, srv, path, body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("%s %s: expected 400, got %d", name, path, resp.StatusCode)
			}
			env := decode[protocol.ErrorEnvelope](t, resp)
			if env.Error == "" || env.FallbackRecommended {
				t.Fatalf("%s %s: unexpected envelope %+v", name, path, env)
			}
		}
	}
}

func TestSynthesizeFile(t *testing.T) {
	srv := newServer(t, engine.NewMock(audio.SampleRate), Options{})

	resp := post(t, srv, "/api/tts", `{"text":"你好！"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("unexpected content type %q", ct)
	}
	disposition := resp.Header.Get("Content-Disposition")
	if !strings.HasPrefix(disposition, `attachment; filename="tts_`) || !strings.HasSuffix(disposition, `.wav"`) {
		t.Fatalf("unexpected disposition %q", disposition)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
	if resp.Header.Get("X-Speaker") != "female-shaonv" || resp.Header.Get("X-Speed") != "1" || resp.Header.Get("X-Pitch") != "0" {
		t.Fatalf("expected default hints echoed, got %v", resp.Header)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if rate != 24000 || len(samples) == 0 {
		t.Fatalf("expected 24 kHz audio, got %d Hz with %d samples", rate, len(samples))
	}
}

func TestFileAndEmbeddedModesShareEncoding(t *testing.T) {
	srv := newServer(t, engine.NewMock(audio.SampleRate), Options{})
	body := `{"text":"价格：100（含税）","speaker":"male-dashu","speed":1.5,"pitch":3,"volume":0.8}`

	fileResp := post(t, srv, "/api/tts", body)
	fileData, err := io.ReadAll(fileResp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	embedResp := post(t, srv, "/api/tts_base64", body)
	if embedResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", embedResp.StatusCode)
	}
	env := decode[protocol.AudioEnvelope](t, embedResp)
	if !env.Success || env.Format != "wav" || env.SampleRate != 24000 || env.TextLength != 10 {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Speaker != "male-dashu" || env.Speed != 1.5 || env.Pitch != 3 || env.Volume != 0.8 {
		t.Fatalf("expected hints echoed, got %+v", env)
	}
	embedded, err := base64.StdEncoding.DecodeString(env.AudioBase64)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}

	filePCM, _, err := audio.DecodeWAV(fileData)
	if err != nil {
		t.Fatalf("decode file wav: %v", err)
	}
	embedPCM, _, err := audio.DecodeWAV(embedded)
	if err != nil {
		t.Fatalf("decode embedded wav: %v", err)
	}
	if len(filePCM) != len(embedPCM) {
		t.Fatalf("sample count differs: %d vs %d", len(filePCM), len(embedPCM))
	}
	for i := range filePCM {
		if filePCM[i] != embedPCM[i] {
			t.Fatalf("sample %d differs: %d vs %d", i, filePCM[i], embedPCM[i])
		}
	}
}

func TestSynthesizeExhaustedRecommendsFallback(t *testing.T) {
	srv := newServer(t, &brokenEngine{}, Options{})

	for _, path := range []string{"/api/tts", "/api/tts_base64"} {
		resp := post(t, srv, path, `{"text":"hello"}`)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, resp.StatusCode)
		}
		env := decode[protocol.ErrorEnvelope](t, resp)
		if !env.FallbackRecommended || env.Details == "" || len(env.Errors) != 3 {
			t.Fatalf("%s: unexpected envelope %+v", path, env)
		}
		if !strings.HasPrefix(env.Errors[0], "full-decode: ") || !strings.HasPrefix(env.Errors[2], "minimal: ") {
			t.Fatalf("%s: attempt messages out of order: %v", path, env.Errors)
		}
	}
}

func TestSynthesizeWithoutEngine(t *testing.T) {
	srv := newServer(t, nil, Options{})
	resp := post(t, srv, "/api/tts", `{"text":"hello"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	env := decode[protocol.ErrorEnvelope](t, resp)
	if env.FallbackRecommended {
		t.Fatalf("unexpected fallback recommendation %+v", env)
	}
}

func TestSynthesizeEngineFaultsAreServerErrors(t *testing.T) {
	cases := map[string]struct {
		eng     *brokenEngine
		reason  error
		attempt string
	}{
		"load failure": {
			eng:     &brokenEngine{loadErr: errors.New("checkpoint download failed")},
			reason:  tts.ErrModelLoadFailed,
			attempt: "load: ",
		},
		"empty result": {
			eng:     &brokenEngine{silentMinimal: true},
			reason:  tts.ErrEmptyResult,
			attempt: "minimal: ",
		},
	}
	for name, tc := range cases {
		srv := newServer(t, tc.eng, Options{})
		for _, path := range []string{"/api/tts", "/api/tts_base64"} {
			resp := post(t, srv, path, `{"text":"hello"}`)
			if resp.StatusCode != http.StatusInternalServerError {
				t.Fatalf("%s %s: expected 500, got %d", name, path, resp.StatusCode)
			}
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("%s %s: read body: %v", name, path, err)
			}
			if strings.Contains(string(raw), "fallbackRecommended") {
				t.Fatalf("%s %s: fallback must not be recommended: %s", name, path, raw)
			}
			var env protocol.ErrorEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("%s %s: decode: %v", name, path, err)
			}
			if env.Error != tc.reason.Error() || len(env.Errors) == 0 {
				t.Fatalf("%s %s: unexpected envelope %+v", name, path, env)
			}
			if last := env.Errors[len(env.Errors)-1]; !strings.HasPrefix(last, tc.attempt) {
				t.Fatalf("%s %s: expected last attempt %q, got %v", name, path, tc.attempt, env.Errors)
			}
		}
	}
}

func TestRateLimit(t *testing.T) {
	srv := newServer(t, engine.NewMock(audio.SampleRate), Options{Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)})

	if resp := post(t, srv, "/api/tts_base64", `{"text":"hi"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", resp.StatusCode)
	}
	resp := post(t, srv, "/api/tts_base64", `{"text":"hi"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if env := decode[protocol.ErrorEnvelope](t, resp); !env.FallbackRecommended {
		t.Fatalf("rate limited response should recommend fallback: %+v", env)
	}

	health, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("health must not be rate limited, got %d", health.StatusCode)
	}
}

func TestHealthAndInfo(t *testing.T) {
	eng := engine.NewMock(audio.SampleRate)
	srv := newServer(t, eng, Options{Version: "1.2.3"})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	health := decode[healthResponse](t, resp)
	if health.Status != "healthy" || health.ModelLoaded || health.Timestamp.IsZero() {
		t.Fatalf("unexpected health %+v", health)
	}

	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("load mock: %v", err)
	}
	resp2, err := http.Get(srv.URL + "/api/info")
	if err != nil {
		t.Fatalf("get info: %v", err)
	}
	defer resp2.Body.Close()
	info := decode[infoResponse](t, resp2)
	if info.Version != "1.2.3" || info.Engine != "mock" || !info.ModelLoaded || info.Endpoints["tts_base64"] == "" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestSpeakers(t *testing.T) {
	srv := newServer(t, engine.NewMock(audio.SampleRate), Options{})
	resp, err := http.Get(srv.URL + "/api/speakers")
	if err != nil {
		t.Fatalf("get speakers: %v", err)
	}
	defer resp.Body.Close()
	got := decode[speakersResponse](t, resp)
	if len(got.Speakers) != 6 || got.Speakers[0].ID != "female-shaonv" {
		t.Fatalf("unexpected speakers %+v", got)
	}
}

func TestSynthesisRecord(t *testing.T) {
	cfg := config.JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "persistent"}
	store, err := journal.Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	srv := newServer(t, &brokenEngine{}, Options{Journal: store})

	resp := post(t, srv, "/api/tts", `{"text":"hello"}`)
	id := resp.Header.Get("X-Request-Id")
	if id == "" {
		t.Fatal("expected request id on failure responses")
	}

	rec, err := http.Get(srv.URL + "/api/synthesis/" + id)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	defer rec.Body.Close()
	if rec.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.StatusCode)
	}
	entry := decode[journal.Entry](t, rec)
	if entry.Status != "failed" || !entry.FallbackRecommended || len(entry.Attempts) != 3 {
		t.Fatalf("unexpected entry %+v", entry)
	}

	missing, err := http.Get(srv.URL + "/api/synthesis/unknown")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func TestSynthesisHistory(t *testing.T) {
	cfg := config.JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "persistent"}
	store, err := journal.Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	srv := newServer(t, engine.NewMock(audio.SampleRate), Options{Journal: store})

	for _, text := range []string{"one", "two", "three"} {
		if resp := post(t, srv, "/api/tts_base64", `{"text":"`+text+`"}`); resp.StatusCode != http.StatusOK {
			t.Fatalf("synthesize %q: status %d", text, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/api/synthesis?limit=2")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decode[recentResponse](t, resp)
	if len(got.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", got)
	}
	for _, e := range got.Entries {
		if e.Status != "ok" || e.ID == "" {
			t.Fatalf("unexpected entry %+v", e)
		}
	}

	bad, err := http.Get(srv.URL + "/api/synthesis?limit=zero")
	if err != nil {
		t.Fatalf("get bad limit: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid limit, got %d", bad.StatusCode)
	}
}

func TestSynthesisHistoryWithoutJournal(t *testing.T) {
	srv := newServer(t, engine.NewMock(audio.SampleRate), Options{})
	resp, err := http.Get(srv.URL + "/api/synthesis")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	defer resp.Body.Close()
	if got := decode[recentResponse](t, resp); got.Entries == nil || len(got.Entries) != 0 {
		t.Fatalf("expected empty list, got %+v", got)
	}
}

func TestNodes(t *testing.T) {
	nodes := staticNodes{
		{ID: "a", Healthy: true, ModelLoaded: true, Capabilities: []capability.Capability{{Name: capability.CapabilitySynthesize}}},
		{ID: "b", Healthy: true, Capabilities: []capability.Capability{{Name: capability.CapabilitySynthesize}}},
		{ID: "c", Healthy: true, ModelLoaded: true, Capabilities: []capability.Capability{{Name: "stt.transcribe"}}},
	}
	srv := newServer(t, engine.NewMock(audio.SampleRate), Options{Nodes: nodes})

	resp, err := http.Get(srv.URL + "/api/nodes")
	if err != nil {
		t.Fatalf("get nodes: %v", err)
	}
	defer resp.Body.Close()
	if got := decode[nodesResponse](t, resp); len(got.Nodes) != 2 {
		t.Fatalf("expected 2 synthesis nodes, got %+v", got)
	}

	ready, err := http.Get(srv.URL + "/api/nodes?ready=true")
	if err != nil {
		t.Fatalf("get ready nodes: %v", err)
	}
	defer ready.Body.Close()
	if got := decode[nodesResponse](t, ready); len(got.Nodes) != 1 || got.Nodes[0].ID != "a" {
		t.Fatalf("expected only node a, got %+v", got)
	}
}
