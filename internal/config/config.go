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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	Frontend    string          `yaml:"frontend"` // web, console
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	OpenAI      OpenAIConfig    `yaml:"openai"`
	Capture     CaptureConfig   `yaml:"capture"`
	STT         STTConfig       `yaml:"stt"`
	LLM         LLMConfig       `yaml:"llm"`
	TTS         TTSConfig       `yaml:"tts"`
	Playback    PlaybackConfig  `yaml:"playback"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Persona     PersonaConfig   `yaml:"persona"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
}

// OpenAIConfig holds the single hosted-vendor credential shared by every
// openai-mode stage. The key is normally supplied through the environment.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Organization string `yaml:"organization"`
}

type CaptureConfig struct {
	Device          string `yaml:"device"` // stream, exec
	Command         string `yaml:"command"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	LevelIntervalMS int    `yaml:"level_interval_ms"`
}

type STTConfig struct {
	Mode     string `yaml:"mode"` // openai, exec, mock
	Command  string `yaml:"command"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // openai, ollama, exec, mock
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Mode    string `yaml:"mode"` // openai, exec, mock
	Command string `yaml:"command"`
	Model   string `yaml:"model"`
	Voice   string `yaml:"voice"`
	Format  string `yaml:"format"`
}

type PlaybackConfig struct {
	Player           string `yaml:"player"` // remote, exec, clock
	Command          string `yaml:"command"`
	RevealIntervalMS int    `yaml:"reveal_interval_ms"`
	StallGraceMS     int    `yaml:"stall_grace_ms"`
	StallTimeoutMS   int    `yaml:"stall_timeout_ms"`
}

type PipelineConfig struct {
	History string `yaml:"history"` // full, latest
}

type PersonaConfig struct {
	Path string `yaml:"path"`
}

func Default() Config {
	return Config{
		RuntimeName: "dyslu",
		Environment: "development",
		Frontend:    "web",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "dyslu",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Capture: CaptureConfig{
			Device:          "stream",
			SampleRate:      16000,
			Channels:        1,
			LevelIntervalMS: 100,
		},
		STT: STTConfig{
			Mode:  "openai",
			Model: "whisper-1",
		},
		LLM: LLMConfig{
			Mode:        "openai",
			Endpoint:    "http://localhost:11434",
			Model:       "gpt-3.5-turbo",
			MaxTokens:   512,
			Temperature: 0.7,
		},
		TTS: TTSConfig{
			Mode:   "openai",
			Model:  "tts-1",
			Voice:  "alloy",
			Format: "mp3",
		},
		Playback: PlaybackConfig{
			Player:           "remote",
			RevealIntervalMS: 50,
			StallGraceMS:     3000,
			StallTimeoutMS:   120000,
		},
		Pipeline: PipelineConfig{
			History: "full",
		},
		Persona: PersonaConfig{
			Path: "./personas/dyslu.yaml",
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

// UsesOpenAI reports whether any stage talks to the hosted vendor and
// therefore needs the credential at startup.
func (c Config) UsesOpenAI() bool {
	return c.STT.Mode == "openai" || c.LLM.Mode == "openai" || c.TTS.Mode == "openai"
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "DYSLU_RUNTIME_NAME")
	overrideString(&cfg.Environment, "DYSLU_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.Frontend, "DYSLU_FRONTEND")
	overrideString(&cfg.HTTP.Bind, "DYSLU_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "DYSLU_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "DYSLU_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "DYSLU_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "DYSLU_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "DYSLU_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "DYSLU_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "DYSLU_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "DYSLU_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "DYSLU_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "DYSLU_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "DYSLU_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "DYSLU_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "DYSLU_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "DYSLU_BUS_SUBJECT_PREFIX")
	overrideString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	overrideString(&cfg.OpenAI.APIKey, "DYSLU_OPENAI_API_KEY")
	overrideString(&cfg.OpenAI.BaseURL, "DYSLU_OPENAI_BASE_URL")
	overrideString(&cfg.OpenAI.Organization, "DYSLU_OPENAI_ORGANIZATION")
	overrideString(&cfg.Capture.Device, "DYSLU_CAPTURE_DEVICE")
	overrideString(&cfg.Capture.Command, "DYSLU_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.SampleRate, "DYSLU_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "DYSLU_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.LevelIntervalMS, "DYSLU_CAPTURE_LEVEL_INTERVAL_MS")
	overrideString(&cfg.STT.Mode, "DYSLU_STT_MODE")
	overrideString(&cfg.STT.Command, "DYSLU_STT_COMMAND")
	overrideString(&cfg.STT.Model, "DYSLU_STT_MODEL")
	overrideString(&cfg.STT.Language, "DYSLU_STT_LANGUAGE")
	overrideString(&cfg.LLM.Mode, "DYSLU_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "DYSLU_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "DYSLU_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "DYSLU_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "DYSLU_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "DYSLU_LLM_TEMPERATURE")
	overrideString(&cfg.TTS.Mode, "DYSLU_TTS_MODE")
	overrideString(&cfg.TTS.Command, "DYSLU_TTS_COMMAND")
	overrideString(&cfg.TTS.Model, "DYSLU_TTS_MODEL")
	overrideString(&cfg.TTS.Voice, "DYSLU_TTS_VOICE")
	overrideString(&cfg.TTS.Format, "DYSLU_TTS_FORMAT")
	overrideString(&cfg.Playback.Player, "DYSLU_PLAYBACK_PLAYER")
	overrideString(&cfg.Playback.Command, "DYSLU_PLAYBACK_COMMAND")
	overrideInt(&cfg.Playback.RevealIntervalMS, "DYSLU_PLAYBACK_REVEAL_INTERVAL_MS")
	overrideInt(&cfg.Playback.StallGraceMS, "DYSLU_PLAYBACK_STALL_GRACE_MS")
	overrideInt(&cfg.Playback.StallTimeoutMS, "DYSLU_PLAYBACK_STALL_TIMEOUT_MS")
	overrideString(&cfg.Pipeline.History, "DYSLU_PIPELINE_HISTORY")
	overrideString(&cfg.Persona.Path, "DYSLU_PERSONA_PATH")
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	switch cfg.Frontend {
	case "web", "console":
	default:
		return errors.New("frontend must be one of web|console")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Bus.SubjectPrefix == "" {
		return errors.New("bus.subject_prefix must not be empty")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Capture.Device {
	case "stream":
	case "exec":
		if cfg.Capture.Command == "" {
			return errors.New("capture.command must be set when device=exec")
		}
	default:
		return errors.New("capture.device must be one of stream|exec")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.LevelIntervalMS <= 0 {
		return errors.New("capture.level_interval_ms must be positive")
	}
	switch cfg.STT.Mode {
	case "openai", "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	default:
		return errors.New("stt.mode must be one of openai|exec|mock")
	}
	switch cfg.LLM.Mode {
	case "openai", "ollama", "exec", "mock":
	default:
		return errors.New("llm.mode must be one of openai|ollama|exec|mock")
	}
	if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
		return errors.New("llm.endpoint must be set when mode=ollama")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "openai", "mock":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of openai|exec|mock")
	}
	if cfg.TTS.Voice == "" {
		return errors.New("tts.voice must not be empty")
	}
	switch cfg.Playback.Player {
	case "remote", "clock":
	case "exec":
		if cfg.Playback.Command == "" {
			return errors.New("playback.command must be set when player=exec")
		}
	default:
		return errors.New("playback.player must be one of remote|exec|clock")
	}
	if cfg.Frontend == "console" && cfg.Playback.Player == "remote" {
		return errors.New("playback.player=remote requires frontend=web")
	}
	if cfg.Frontend == "console" && cfg.Capture.Device == "stream" {
		return errors.New("capture.device=stream requires frontend=web")
	}
	if cfg.Playback.RevealIntervalMS <= 0 {
		return errors.New("playback.reveal_interval_ms must be positive")
	}
	if cfg.Playback.StallGraceMS < 0 || cfg.Playback.StallTimeoutMS <= 0 {
		return errors.New("playback stall timings must be positive")
	}
	switch cfg.Pipeline.History {
	case "full", "latest":
	default:
		return errors.New("pipeline.history must be one of full|latest")
	}
	if cfg.Persona.Path == "" {
		return errors.New("persona.path must not be empty")
	}
	if cfg.UsesOpenAI() && strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		return ErrMissingCredential
	}
	return nil
}

// ErrMissingCredential is fatal at startup: no turn can run without it.
var ErrMissingCredential = errors.New("openai api key missing: set OPENAI_API_KEY")
