package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/dyslu/internal/config"
	"github.com/loqalabs/dyslu/internal/protocol"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.HTTP = config.HTTPConfig{Bind: "127.0.0.1", Port: 0}
	cfg.Telemetry.PrometheusBind = "127.0.0.1:0"
	cfg.Bus.Port = -1
	cfg.STT.Mode = "mock"
	cfg.LLM.Mode = "mock"
	cfg.TTS.Mode = "mock"
	cfg.Playback.Player = "clock"
	cfg.Playback.RevealIntervalMS = 1
	cfg.Persona.Path = "../../personas/dyslu.yaml"
	return cfg
}

func startRuntime(t *testing.T, rt *Runtime) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()
	require.Eventually(t, rt.Ready, 10*time.Second, 10*time.Millisecond)
	return cancel, done
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func TestRuntimeWebTurn(t *testing.T) {
	rt := New(testConfig(), testLogger())
	cancel, done := startRuntime(t, rt)
	defer cancel()

	base := "http://" + rt.Addr()
	code, body := get(t, base+"/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)
	code, _ = get(t, base+"/readyz")
	require.Equal(t, http.StatusOK, code)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+rt.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "start", "encoding": "pcm_s16le"}))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 3200)))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "stop"}))

	deadline := time.Now().Add(15 * time.Second)
	var reply protocol.TurnEvent
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "error" {
			t.Fatalf("unexpected error event: %s", msg.Data)
		}
		if msg.Type != "log" {
			continue
		}
		require.NoError(t, json.Unmarshal(msg.Data, &reply))
		if reply.Role == "assistant" && reply.Reveal == "complete" {
			break
		}
	}
	require.True(t, strings.HasPrefix(reply.Display, "[mock completion for [transcript audio/wav"))
	require.True(t, reply.HasAudio)

	code, body = get(t, "http://"+rt.MetricsAddr()+"/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "dyslu_conversation_records")
	require.Contains(t, body, "go_goroutines")

	require.NoError(t, conn.Close())
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func TestRuntimeConsoleQuits(t *testing.T) {
	cfg := testConfig()
	cfg.Frontend = "console"
	cfg.Capture.Device = "exec"
	cfg.Capture.Command = "cat /dev/zero"

	var out strings.Builder
	rt := New(cfg, testLogger(), WithConsole(strings.NewReader("q\n"), &out))
	done := make(chan error, 1)
	go func() { done <- rt.Start(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("console did not quit")
	}
	require.Contains(t, out.String(), "Press Enter to start recording")
}

func TestRuntimeFailsWithoutPersona(t *testing.T) {
	cfg := testConfig()
	cfg.Persona.Path = "does-not-exist.yaml"
	err := New(cfg, testLogger()).Start(context.Background())
	require.Error(t, err)
}

func TestBackendsRequireCredential(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Mode = "openai"
	cfg.OpenAI.APIKey = ""
	_, err := newBackends(cfg, testLogger())
	require.ErrorIs(t, err, config.ErrMissingCredential)
}

func TestBackendsByMode(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.STT.Mode = "openai"
	cfg.LLM.Mode = "ollama"
	cfg.TTS.Mode = "exec"
	cfg.TTS.Command = "piper --output-raw"
	b, err := newBackends(cfg, testLogger())
	require.NoError(t, err)
	require.NotNil(t, b.recognizer)
	require.NotNil(t, b.generator)
	require.NotNil(t, b.synthesizer)

	cfg.STT.Mode = "exec"
	cfg.STT.Command = ""
	_, err = newBackends(cfg, testLogger())
	require.ErrorContains(t, err, "stt")
}

func TestPlayerAndDeviceSelection(t *testing.T) {
	player, remote, err := newPlayer(config.PlaybackConfig{Player: "remote"}, nil, testLogger())
	require.NoError(t, err)
	require.NotNil(t, remote)
	require.Equal(t, remote, player)

	_, remote, err = newPlayer(config.PlaybackConfig{Player: "clock"}, nil, testLogger())
	require.NoError(t, err)
	require.Nil(t, remote)

	_, _, err = newPlayer(config.PlaybackConfig{Player: "exec"}, nil, testLogger())
	require.Error(t, err)

	device, stream, err := newDevice(config.CaptureConfig{Device: "stream"})
	require.NoError(t, err)
	require.NotNil(t, stream)
	require.NotNil(t, device)

	_, _, err = newDevice(config.CaptureConfig{Device: "alsa"})
	require.Error(t, err)
}
