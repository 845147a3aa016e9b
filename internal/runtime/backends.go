package runtime

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/dyslu/internal/capture"
	"github.com/loqalabs/dyslu/internal/config"
	"github.com/loqalabs/dyslu/internal/hosted"
	"github.com/loqalabs/dyslu/internal/llm"
	"github.com/loqalabs/dyslu/internal/playback"
	"github.com/loqalabs/dyslu/internal/shell"
	"github.com/loqalabs/dyslu/internal/stt"
	"github.com/loqalabs/dyslu/internal/tts"
	openai "github.com/sashabaranov/go-openai"
)

type backends struct {
	recognizer  stt.Recognizer
	generator   llm.Generator
	synthesizer tts.Synthesizer
}

// newBackends builds the three speech/completion stages. The hosted client
// is created once and shared by every openai-mode stage.
func newBackends(cfg config.Config, logger *slog.Logger) (backends, error) {
	var client *openai.Client
	if cfg.UsesOpenAI() {
		c, err := hosted.NewClient(cfg.OpenAI)
		if err != nil {
			return backends{}, err
		}
		client = c
	}

	var (
		b   backends
		err error
	)
	switch cfg.STT.Mode {
	case "openai":
		b.recognizer = stt.NewOpenAIRecognizer(client, cfg.STT)
	case "exec":
		b.recognizer, err = stt.NewExecRecognizer(cfg.STT)
	case "mock":
		b.recognizer = stt.NewMockRecognizer("")
	default:
		err = fmt.Errorf("unsupported stt mode %q", cfg.STT.Mode)
	}
	if err != nil {
		return backends{}, fmt.Errorf("stt: %w", err)
	}

	switch cfg.LLM.Mode {
	case "openai":
		b.generator = llm.NewOpenAIGenerator(client, cfg.LLM.Model)
	case "ollama":
		b.generator = llm.NewOllamaGenerator(cfg.LLM.Endpoint, cfg.LLM.Model)
	case "exec":
		b.generator, err = llm.NewExecGenerator(cfg.LLM.Command)
	case "mock":
		b.generator = llm.NewMockGenerator("")
	default:
		err = fmt.Errorf("unsupported llm mode %q", cfg.LLM.Mode)
	}
	if err != nil {
		return backends{}, fmt.Errorf("llm: %w", err)
	}

	switch cfg.TTS.Mode {
	case "openai":
		b.synthesizer = tts.NewOpenAISynth(client, cfg.TTS)
	case "exec":
		b.synthesizer, err = tts.NewExecSynth(cfg.TTS.Command, cfg.Capture.SampleRate, cfg.Capture.Channels)
	case "mock":
		b.synthesizer = tts.NewMockSynth(cfg.Capture.SampleRate, cfg.Capture.Channels)
	default:
		err = fmt.Errorf("unsupported tts mode %q", cfg.TTS.Mode)
	}
	if err != nil {
		return backends{}, fmt.Errorf("tts: %w", err)
	}

	logger.Info("backends configured",
		slog.String("stt", cfg.STT.Mode),
		slog.String("llm", cfg.LLM.Mode),
		slog.String("tts", cfg.TTS.Mode))
	return b, nil
}

// newPlayer picks the audio clock. remote is non-nil only for player=remote.
func newPlayer(cfg config.PlaybackConfig, pub shell.Publisher, logger *slog.Logger) (playback.Player, *shell.RemotePlayer, error) {
	switch cfg.Player {
	case "remote":
		remote := shell.NewRemotePlayer(pub, logger)
		return remote, remote, nil
	case "exec":
		p, err := playback.NewExecPlayer(cfg.Command)
		return p, nil, err
	case "clock":
		return playback.NewClockPlayer(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported player %q", cfg.Player)
	}
}

// newDevice picks the capture device. stream is non-nil only for
// device=stream, where the browser feeds fragments.
func newDevice(cfg config.CaptureConfig) (capture.Device, *capture.StreamDevice, error) {
	switch cfg.Device {
	case "stream":
		d := capture.NewStreamDevice()
		return d, d, nil
	case "exec":
		d, err := capture.NewExecDevice(cfg.Command)
		return d, nil, err
	default:
		return nil, nil, fmt.Errorf("unsupported capture device %q", cfg.Device)
	}
}
