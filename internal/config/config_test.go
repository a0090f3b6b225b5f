package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.Mode != "mock" {
		t.Fatalf("expected mock engine, got %q", cfg.Engine.Mode)
	}
	if cfg.Engine.SampleRate != 24000 {
		t.Fatalf("expected 24000 Hz, got %d", cfg.Engine.SampleRate)
	}
	if cfg.Synthesis.DefaultSpeaker != "female-shaonv" {
		t.Fatalf("unexpected default speaker %q", cfg.Synthesis.DefaultSpeaker)
	}
	if cfg.Bus.Enabled {
		t.Fatal("expected bus disabled by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_TTS_HTTP_PORT", "9090")
	t.Setenv("LOQA_TTS_HTTP_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOQA_TTS_ENGINE_MODE", "exec")
	t.Setenv("LOQA_TTS_ENGINE_COMMAND", "python3 worker.py --device cpu")
	t.Setenv("LOQA_TTS_ENGINE_PRELOAD", "false")
	t.Setenv("LOQA_TTS_MAX_TEXT_LENGTH", "42")
	t.Setenv("LOQA_TTS_RATE_LIMIT_RPS", "2.5")
	t.Setenv("LOQA_TTS_BUS_ENABLED", "true")
	t.Setenv("LOQA_TTS_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_TTS_NODE_ID", "tts-test")
	t.Setenv("LOQA_TTS_JOURNAL_RETENTION_MODE", "ephemeral")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Fatalf("expected port override, got %d", cfg.HTTP.Port)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.HTTP.CORSOrigins)
	}
	if cfg.Engine.Mode != "exec" || cfg.Engine.Command != "python3 worker.py --device cpu" {
		t.Fatalf("expected engine override, got %+v", cfg.Engine)
	}
	if cfg.Engine.Preload {
		t.Fatal("expected preload override false")
	}
	if cfg.Synthesis.MaxTextLength != 42 {
		t.Fatalf("expected max text length 42, got %d", cfg.Synthesis.MaxTextLength)
	}
	if cfg.Synthesis.RateLimitRPS != 2.5 {
		t.Fatalf("expected rate limit 2.5, got %v", cfg.Synthesis.RateLimitRPS)
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected bus override, got %+v", cfg.Bus)
	}
	if cfg.Node.ID != "tts-test" {
		t.Fatalf("expected node id override")
	}
	if cfg.Journal.RetentionMode != "ephemeral" {
		t.Fatalf("expected journal retention override")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-tts.yaml")
	data := []byte(`engine:
  mode: http
  endpoint: http://localhost:9000
voices:
  - id: narrator
    name: Narrator
    description: calm reading voice
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.Mode != "http" || cfg.Engine.Endpoint != "http://localhost:9000" {
		t.Fatalf("unexpected engine config %+v", cfg.Engine)
	}
	if len(cfg.Voices) != 1 || cfg.Voices[0].ID != "narrator" {
		t.Fatalf("unexpected voices %+v", cfg.Voices)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected default port to survive partial file, got %d", cfg.HTTP.Port)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"exec without command": func(c *Config) { c.Engine.Mode = "exec" },
		"unknown mode":         func(c *Config) { c.Engine.Mode = "cuda" },
		"resampling":           func(c *Config) { c.Engine.SampleRate = 16000 },
		"empty voice id":       func(c *Config) { c.Voices = []Voice{{Name: "x"}} },
		"bad retention":        func(c *Config) { c.Journal.RetentionMode = "session" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWarningsForColdLoadPastWriteTimeout(t *testing.T) {
	cfg := Default()
	if w := cfg.Warnings(); len(w) != 0 {
		t.Fatalf("defaults preload the model, expected no warnings, got %v", w)
	}

	cfg.Engine.Preload = false
	w := cfg.Warnings()
	if len(w) != 1 {
		t.Fatalf("expected one warning, got %v", w)
	}

	cfg.HTTP.WriteTimeoutMS = cfg.Engine.LoadTimeoutMS
	if w := cfg.Warnings(); len(w) != 0 {
		t.Fatalf("write timeout covers the load, expected no warnings, got %v", w)
	}

	cfg.HTTP.WriteTimeoutMS = 0
	if w := cfg.Warnings(); len(w) != 0 {
		t.Fatalf("no write deadline, expected no warnings, got %v", w)
	}
}
