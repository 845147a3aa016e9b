package shell

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/dyslu/internal/capture"
	"github.com/loqalabs/dyslu/internal/conversation"
	"github.com/loqalabs/dyslu/internal/protocol"
	"github.com/sourcegraph/conc"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 1 << 20
	outboundBuffer = 256
)

// Subscriber delivers every UI event published on the bus.
type Subscriber interface {
	SubscribeAll(fn func(subject string, data []byte)) (func(), error)
}

// clientMessage is what the browser sends as text frames. Binary frames are
// audio fragments for the open recording.
type clientMessage struct {
	Type     string `json:"type"` // toggle, start, stop, ended, playback_error
	Encoding string `json:"encoding,omitempty"`
	TurnID   string `json:"turn_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// serverMessage wraps a bus event for the browser.
type serverMessage struct {
	Type string          `json:"type"` // state, log, level, play, stop, error
	Data json.RawMessage `json:"data"`
}

var subjectTypes = map[string]string{
	protocol.SubjectStatus:   "state",
	protocol.SubjectTurn:     "log",
	protocol.SubjectLevel:    "level",
	protocol.SubjectPlay:     "play",
	protocol.SubjectPlayStop: "stop",
}

// WebFrontend serves the browser UI over a WebSocket.
type WebFrontend struct {
	shell    *Shell
	stream   *capture.StreamDevice
	remote   *RemotePlayer
	events   Subscriber
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWebFrontend builds the /ws handler. remote may be nil when replies are
// played locally.
func NewWebFrontend(shell *Shell, stream *capture.StreamDevice, remote *RemotePlayer, events Subscriber, logger *slog.Logger) *WebFrontend {
	return &WebFrontend{
		shell:  shell,
		stream: stream,
		remote: remote,
		events: events,
		logger: logger.With(slog.String("component", "web")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (f *WebFrontend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	if f.stream != nil {
		detach := f.stream.Attach()
		defer detach()
	}

	outbound := make(chan serverMessage, outboundBuffer)
	done := make(chan struct{})
	enqueue := func(msg serverMessage) {
		select {
		case outbound <- msg:
		case <-done:
		default:
			f.logger.Warn("client too slow, dropping event", slog.String("type", msg.Type))
		}
	}

	unsubscribe, err := f.events.SubscribeAll(func(subject string, data []byte) {
		if kind, ok := subjectTypes[subject]; ok {
			enqueue(serverMessage{Type: kind, Data: data})
		}
	})
	if err != nil {
		f.logger.Error("subscribe ui events", slog.String("error", err.Error()))
		return
	}
	defer unsubscribe()

	for _, msg := range f.snapshot() {
		enqueue(msg)
	}

	var wg conc.WaitGroup
	wg.Go(func() { f.writeLoop(conn, outbound, done) })
	f.readLoop(conn, enqueue)
	close(done)
	wg.Wait()
}

func (f *WebFrontend) snapshot() []serverMessage {
	var out []serverMessage
	if data, err := json.Marshal(f.shell.Status()); err == nil {
		out = append(out, serverMessage{Type: "state", Data: data})
	}
	for i, rec := range f.shell.State().Records {
		data, err := json.Marshal(TurnEvent(conversation.EventAppend, i, rec))
		if err != nil {
			continue
		}
		out = append(out, serverMessage{Type: "log", Data: data})
	}
	return out
}

func (f *WebFrontend) readLoop(conn *websocket.Conn, reply func(serverMessage)) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.logger.Warn("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		if kind == websocket.BinaryMessage {
			if f.stream != nil && !f.stream.Push(data) {
				f.logger.Debug("audio fragment dropped, not recording")
			}
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Warn("invalid client message", slog.String("error", err.Error()))
			continue
		}
		if err := f.handle(msg); err != nil {
			payload, _ := json.Marshal(map[string]string{"message": err.Error()})
			reply(serverMessage{Type: "error", Data: payload})
		}
	}
}

func (f *WebFrontend) handle(msg clientMessage) error {
	switch msg.Type {
	case "toggle", "start":
		if f.stream != nil && msg.Encoding != "" {
			f.stream.SetEncoding(msg.Encoding)
		}
		if msg.Type == "start" {
			return f.shell.Start()
		}
		return f.shell.Toggle()
	case "stop":
		return f.shell.Stop()
	case "ended", "playback_error":
		if f.remote == nil {
			return nil
		}
		reason := ""
		if msg.Type == "playback_error" {
			reason = msg.Error
			if reason == "" {
				reason = "unknown playback error"
			}
		}
		f.remote.Ended(msg.TurnID, reason)
		return nil
	default:
		return errors.New("unknown message type " + msg.Type)
	}
}

func (f *WebFrontend) writeLoop(conn *websocket.Conn, outbound <-chan serverMessage, done <-chan struct{}) {
	for {
		select {
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				f.logger.Warn("websocket write failed", slog.String("error", err.Error()))
				// Unblock the reader so the handler can return.
				_ = conn.Close()
				return
			}
		}
	}
}
