package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Capture.SampleRate != 16000 || cfg.Capture.Channels != 1 {
		t.Fatalf("expected mono 16kHz capture, got %d/%d", cfg.Capture.SampleRate, cfg.Capture.Channels)
	}
	if cfg.Playback.RevealIntervalMS != 50 {
		t.Fatalf("expected 50ms reveal cadence, got %d", cfg.Playback.RevealIntervalMS)
	}
}

func TestMissingCredentialIsFatal(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := Load("")
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing credential error, got %v", err)
	}
}

func TestMockModesDoNotNeedCredential(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DYSLU_STT_MODE", "mock")
	t.Setenv("DYSLU_LLM_MODE", "mock")
	t.Setenv("DYSLU_TTS_MODE", "mock")
	if _, err := Load(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DYSLU_OPENAI_API_KEY", "sk-dyslu")
	t.Setenv("DYSLU_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("DYSLU_BUS_USERNAME", "alice")
	t.Setenv("DYSLU_BUS_PASSWORD", "secret")
	t.Setenv("DYSLU_BUS_TLS_INSECURE", "true")
	t.Setenv("DYSLU_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("DYSLU_LLM_TEMPERATURE", "0.2")
	t.Setenv("DYSLU_TTS_VOICE", "nova")
	t.Setenv("DYSLU_PLAYBACK_REVEAL_INTERVAL_MS", "30")
	t.Setenv("DYSLU_PIPELINE_HISTORY", "latest")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.OpenAI.APIKey != "sk-dyslu" {
		t.Fatalf("expected prefixed key to win, got %q", cfg.OpenAI.APIKey)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Fatalf("expected temperature override, got %v", cfg.LLM.Temperature)
	}
	if cfg.TTS.Voice != "nova" {
		t.Fatalf("expected voice override")
	}
	if cfg.Playback.RevealIntervalMS != 30 {
		t.Fatalf("expected reveal interval override")
	}
	if cfg.Pipeline.History != "latest" {
		t.Fatalf("expected history override")
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "dyslu.yaml")
	data := []byte(`frontend: console
capture:
  device: exec
  command: arecord -q -f S16_LE -r 16000 -c 1 -t raw
stt:
  mode: mock
llm:
  mode: ollama
  endpoint: http://ollama:11434
  model: llama3.2:latest
tts:
  mode: mock
playback:
  player: clock
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Frontend != "console" || cfg.Capture.Device != "exec" {
		t.Fatalf("expected console frontend with exec capture, got %s/%s", cfg.Frontend, cfg.Capture.Device)
	}
	if cfg.LLM.Endpoint != "http://ollama:11434" {
		t.Fatalf("expected ollama endpoint from file")
	}
}

func TestValidateRejectsRemotePlayerInConsole(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DYSLU_FRONTEND", "console")
	t.Setenv("DYSLU_CAPTURE_DEVICE", "exec")
	t.Setenv("DYSLU_CAPTURE_COMMAND", "arecord")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for remote player without web frontend")
	}
}

func TestSampleConfigMatchesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load(filepath.Join("..", "..", "dyslu.yaml"))
	if err != nil {
		t.Fatalf("load sample config: %v", err)
	}
	want := Default()
	if cfg.STT != want.STT || cfg.LLM.Model != want.LLM.Model || cfg.TTS != want.TTS || cfg.Playback != want.Playback {
		t.Fatalf("sample config drifted from defaults: %+v", cfg)
	}
	if cfg.Persona.Path != want.Persona.Path {
		t.Fatalf("expected persona %q, got %q", want.Persona.Path, cfg.Persona.Path)
	}
}
