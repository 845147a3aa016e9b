package shell

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/dyslu/internal/capture"
	"github.com/loqalabs/dyslu/internal/playback"
	"github.com/loqalabs/dyslu/internal/protocol"
	"github.com/loqalabs/dyslu/internal/tts"
	"github.com/stretchr/testify/require"
)

func readUntil(t *testing.T, conn *websocket.Conn, match func(serverMessage) bool) serverMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg serverMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func ofType(kind string) func(serverMessage) bool {
	return func(msg serverMessage) bool { return msg.Type == kind }
}

func TestWebFrontendTurn(t *testing.T) {
	stream := capture.NewStreamDevice()
	var remote *RemotePlayer
	e := newEnv(t, stream, gatedGenerator{reply: "I hear you."}, func(bus *memBus) playback.Player {
		remote = NewRemotePlayer(bus, newLogger())
		return remote
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", NewWebFrontend(e.shell, stream, remote, e.bus, newLogger()))
	mux.Handle(AudioPath, remote)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readUntil(t, conn, func(serverMessage) bool { return true })
	require.Equal(t, "state", first.Type)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "start", Encoding: capture.EncodingPCM16}))
	readUntil(t, conn, func(msg serverMessage) bool {
		var st protocol.Status
		return msg.Type == "state" && json.Unmarshal(msg.Data, &st) == nil && st.Recording
	})
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, pcm()))
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "stop"}))

	msg := readUntil(t, conn, ofType("play"))
	var play protocol.Play
	require.NoError(t, json.Unmarshal(msg.Data, &play))
	require.Equal(t, "audio/wav", play.MIME)

	resp, err := http.Get(server.URL + play.URL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	require.NotEmpty(t, body)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "ended", TurnID: play.TurnID}))
	readUntil(t, conn, func(msg serverMessage) bool {
		var ev protocol.TurnEvent
		return msg.Type == "log" && json.Unmarshal(msg.Data, &ev) == nil &&
			ev.Role == "assistant" && ev.Reveal == "complete"
	})

	recs := e.log.All()
	require.Len(t, recs, 2)
	require.Equal(t, "I feel sad", recs[0].Text)
	require.Equal(t, "I hear you.", recs[1].Display())
}

func TestWebFrontendRejectsUnknownMessage(t *testing.T) {
	stream := capture.NewStreamDevice()
	e := newEnv(t, stream, gatedGenerator{reply: "x"}, nil)
	server := httptest.NewServer(NewWebFrontend(e.shell, stream, nil, e.bus, newLogger()))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "dance"}))
	msg := readUntil(t, conn, ofType("error"))
	require.Contains(t, string(msg.Data), "unknown message type dance")

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "stop"}))
	msg = readUntil(t, conn, ofType("error"))
	require.Contains(t, string(msg.Data), capture.ErrNoSession.Error())
}

func TestStartWithoutClientFails(t *testing.T) {
	e := newEnv(t, capture.NewStreamDevice(), gatedGenerator{reply: "x"}, nil)
	err := e.shell.Start()
	require.ErrorIs(t, err, capture.ErrNoClient)
	require.Equal(t, "Could not access microphone", e.shell.Status().Error)
}

func testAudio() *tts.Audio {
	return &tts.Audio{Data: []byte("ID3fake"), MIME: "audio/mpeg", Duration: time.Second}
}

func TestRemotePlayerReportsError(t *testing.T) {
	bus := newMemBus()
	player := NewRemotePlayer(bus, newLogger())
	plays := make(chan protocol.Play, 1)
	_, err := bus.SubscribeAll(func(subject string, data []byte) {
		if subject != protocol.SubjectPlay {
			return
		}
		var p protocol.Play
		if json.Unmarshal(data, &p) == nil {
			plays <- p
		}
	})
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() { result <- player.Play(context.Background(), "turn-1", testAudio()) }()

	p := <-plays
	require.Equal(t, AudioPath+"turn-1", p.URL)
	player.Ended("turn-1", "decode failed")
	err = <-result
	require.ErrorIs(t, err, ErrRemotePlayback)
	require.Contains(t, err.Error(), "decode failed")
}

func TestRemotePlayerStopsOnCancel(t *testing.T) {
	bus := newMemBus()
	player := NewRemotePlayer(bus, newLogger())
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() { result <- player.Play(ctx, "turn-2", testAudio()) }()
	require.Eventually(t, func() bool { return bus.count(protocol.SubjectPlay) == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-result, context.Canceled)
	require.Equal(t, 1, bus.count(protocol.SubjectPlayStop))

	rec := httptest.NewRecorder()
	player.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, AudioPath+"turn-2", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemotePlayerIgnoresUnknownTurn(t *testing.T) {
	player := NewRemotePlayer(newMemBus(), newLogger())
	player.Ended("nope", "")
}
