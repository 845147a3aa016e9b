package shell

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/dyslu/internal/protocol"
	"github.com/loqalabs/dyslu/internal/tts"
)

// AudioPath is where the remote player serves clips while they play.
const AudioPath = "/audio/"

// ErrRemotePlayback is reported when the front end could not play a clip.
var ErrRemotePlayback = errors.New("front end playback failed")

type pendingPlay struct {
	audio  *tts.Audio
	result chan error
}

// RemotePlayer plays clips in the browser. It publishes a play event with a
// URL, serves the clip from that URL while the turn is playing, and waits
// for the front end to report the end.
type RemotePlayer struct {
	pub    Publisher
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingPlay
}

func NewRemotePlayer(pub Publisher, logger *slog.Logger) *RemotePlayer {
	return &RemotePlayer{
		pub:     pub,
		logger:  logger.With(slog.String("component", "remote_player")),
		pending: make(map[string]*pendingPlay),
	}
}

func (p *RemotePlayer) Play(ctx context.Context, turnID string, audio *tts.Audio) error {
	play := &pendingPlay{audio: audio, result: make(chan error, 1)}
	p.mu.Lock()
	p.pending[turnID] = play
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.pending[turnID] == play {
			delete(p.pending, turnID)
		}
		p.mu.Unlock()
	}()

	if err := p.pub.PublishJSON(protocol.SubjectPlay, protocol.Play{
		TurnID:    turnID,
		URL:       AudioPath + turnID,
		MIME:      audio.MIME,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return err
	}

	select {
	case err := <-play.result:
		return err
	case <-ctx.Done():
		if err := p.pub.PublishJSON(protocol.SubjectPlayStop, protocol.PlayStop{TurnID: turnID, Timestamp: time.Now().UTC()}); err != nil {
			p.logger.Warn("publish stop failed", slog.String("turn_id", turnID), slog.String("error", err.Error()))
		}
		return ctx.Err()
	}
}

// Ended resolves a pending play. A non-empty reason marks a playback error.
func (p *RemotePlayer) Ended(turnID, reason string) {
	p.mu.Lock()
	play := p.pending[turnID]
	p.mu.Unlock()
	if play == nil {
		return
	}
	var err error
	if reason != "" {
		err = errors.Join(ErrRemotePlayback, errors.New(reason))
	}
	select {
	case play.result <- err:
	default:
	}
}

// ServeHTTP serves the clip of a turn that is currently playing.
func (p *RemotePlayer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	turnID := strings.TrimPrefix(r.URL.Path, AudioPath)
	p.mu.Lock()
	play := p.pending[turnID]
	p.mu.Unlock()
	if play == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", play.audio.MIME)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, play.audio.Filename(), time.Time{}, bytes.NewReader(play.audio.Data))
}
