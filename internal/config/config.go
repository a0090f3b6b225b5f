package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind           string   `yaml:"bind"`
	Port           int      `yaml:"port"`
	ReadTimeoutMS  int      `yaml:"read_timeout_ms"`
	WriteTimeoutMS int      `yaml:"write_timeout_ms"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Engine      EngineConfig    `yaml:"engine"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Voices      []Voice         `yaml:"voices"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	Journal     JournalConfig   `yaml:"journal"`
}

// EngineConfig selects and parameterizes the speech synthesis engine.
type EngineConfig struct {
	Mode          string `yaml:"mode"` // mock, exec, http
	Command       string `yaml:"command"`
	Endpoint      string `yaml:"endpoint"`
	SampleRate    int    `yaml:"sample_rate"`
	Preload       bool   `yaml:"preload"`
	LoadTimeoutMS int    `yaml:"load_timeout_ms"`
}

type SynthesisConfig struct {
	DefaultSpeaker string  `yaml:"default_speaker"`
	MaxTextLength  int     `yaml:"max_text_length"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type Voice struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxEntries    int    `yaml:"max_entries"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-tts",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:           "0.0.0.0",
			Port:           8080,
			ReadTimeoutMS:  10000,
			WriteTimeoutMS: 120000,
			CORSOrigins:    []string{"*"},
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Engine: EngineConfig{
			Mode:          "mock",
			SampleRate:    24000,
			Preload:       true,
			LoadTimeoutMS: 300000,
		},
		Synthesis: SynthesisConfig{
			DefaultSpeaker: "female-shaonv",
			MaxTextLength:  500,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-tts-1",
			Role:              "tts",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Journal: JournalConfig{
			Path:          "./data/loqa-tts.db",
			RetentionMode: "persistent",
			RetentionDays: 7,
			MaxEntries:    10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_TTS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_TTS_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_TTS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_TTS_HTTP_PORT")
	overrideInt(&cfg.HTTP.ReadTimeoutMS, "LOQA_TTS_HTTP_READ_TIMEOUT_MS")
	overrideInt(&cfg.HTTP.WriteTimeoutMS, "LOQA_TTS_HTTP_WRITE_TIMEOUT_MS")
	overrideStringSlice(&cfg.HTTP.CORSOrigins, "LOQA_TTS_HTTP_CORS_ORIGINS")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TTS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TTS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TTS_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Engine.Mode, "LOQA_TTS_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "LOQA_TTS_ENGINE_COMMAND")
	overrideString(&cfg.Engine.Endpoint, "LOQA_TTS_ENGINE_ENDPOINT")
	overrideInt(&cfg.Engine.SampleRate, "LOQA_TTS_ENGINE_SAMPLE_RATE")
	overrideBool(&cfg.Engine.Preload, "LOQA_TTS_ENGINE_PRELOAD")
	overrideInt(&cfg.Engine.LoadTimeoutMS, "LOQA_TTS_ENGINE_LOAD_TIMEOUT_MS")
	overrideString(&cfg.Synthesis.DefaultSpeaker, "LOQA_TTS_DEFAULT_SPEAKER")
	overrideInt(&cfg.Synthesis.MaxTextLength, "LOQA_TTS_MAX_TEXT_LENGTH")
	overrideFloat(&cfg.Synthesis.RateLimitRPS, "LOQA_TTS_RATE_LIMIT_RPS")
	overrideInt(&cfg.Synthesis.RateLimitBurst, "LOQA_TTS_RATE_LIMIT_BURST")
	overrideBool(&cfg.Bus.Enabled, "LOQA_TTS_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_TTS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_TTS_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_TTS_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_TTS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_TTS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_TTS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_TTS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_TTS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_TTS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_TTS_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_TTS_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_TTS_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_TTS_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Journal.Path, "LOQA_TTS_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "LOQA_TTS_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "LOQA_TTS_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxEntries, "LOQA_TTS_JOURNAL_MAX_ENTRIES")
	overrideBool(&cfg.Journal.VacuumOnStart, "LOQA_TTS_JOURNAL_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Warnings reports settings that are valid but likely to misbehave.
func (c Config) Warnings() []string {
	var out []string
	if !c.Engine.Preload && c.HTTP.WriteTimeoutMS > 0 && c.Engine.LoadTimeoutMS > c.HTTP.WriteTimeoutMS {
		out = append(out, fmt.Sprintf(
			"engine.load_timeout_ms (%d) exceeds http.write_timeout_ms (%d) with preload off; a request that triggers a cold load may be cut off before it can answer",
			c.Engine.LoadTimeoutMS, c.HTTP.WriteTimeoutMS))
	}
	return out
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.ReadTimeoutMS < 0 || cfg.HTTP.WriteTimeoutMS < 0 {
		return errors.New("http timeouts must be >= 0")
	}
	switch cfg.Engine.Mode {
	case "mock":
	case "exec":
		if cfg.Engine.Command == "" {
			return errors.New("engine.command must be set when mode=exec")
		}
	case "http":
		if cfg.Engine.Endpoint == "" {
			return errors.New("engine.endpoint must be set when mode=http")
		}
	default:
		return errors.New("engine.mode must be one of mock|exec|http")
	}
	if cfg.Engine.SampleRate != 24000 {
		return errors.New("engine.sample_rate must be 24000 (no resampling is performed)")
	}
	if cfg.Engine.LoadTimeoutMS < 0 {
		return errors.New("engine.load_timeout_ms must be >= 0")
	}
	if cfg.Synthesis.DefaultSpeaker == "" {
		return errors.New("synthesis.default_speaker must not be empty")
	}
	if cfg.Synthesis.MaxTextLength < 0 {
		return errors.New("synthesis.max_text_length must be >= 0")
	}
	if cfg.Synthesis.RateLimitRPS < 0 || cfg.Synthesis.RateLimitBurst < 0 {
		return errors.New("synthesis rate limit values must be >= 0")
	}
	for i, v := range cfg.Voices {
		if strings.TrimSpace(v.ID) == "" {
			return fmt.Errorf("voices[%d].id must not be empty", i)
		}
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral":
	case "persistent":
		if cfg.Journal.Path == "" {
			return errors.New("journal.path must not be empty")
		}
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	return nil
}
