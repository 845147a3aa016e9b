// Package playback reveals an assistant reply one character per tick while
// its audio plays, and marks the record complete only when both have ended.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/dyslu/internal/config"
	"github.com/loqalabs/dyslu/internal/conversation"
	"github.com/loqalabs/dyslu/internal/tts"
	"github.com/sourcegraph/conc"
)

var (
	// ErrPlaybackStall reports audio that never signalled its end in time.
	ErrPlaybackStall = errors.New("playback stalled")
	// ErrNotRevealable is returned for records that cannot be revealed.
	ErrNotRevealable = errors.New("record cannot be revealed")
)

// Player plays one clip and returns when it has ended. Cancelling ctx must
// stop playback and release the handle.
type Player interface {
	Play(ctx context.Context, turnID string, audio *tts.Audio) error
}

// Ticker is the reveal clock.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{t: time.NewTicker(d)} }

type Config struct {
	RevealInterval time.Duration
	StallGrace     time.Duration
	StallTimeout   time.Duration
}

func ConfigFromPlayback(cfg config.PlaybackConfig) Config {
	return Config{
		RevealInterval: time.Duration(cfg.RevealIntervalMS) * time.Millisecond,
		StallGrace:     time.Duration(cfg.StallGraceMS) * time.Millisecond,
		StallTimeout:   time.Duration(cfg.StallTimeoutMS) * time.Millisecond,
	}
}

type Option func(*Sync)

// WithTicker replaces the wall-clock reveal ticker.
func WithTicker(fn func(time.Duration) Ticker) Option {
	return func(s *Sync) { s.newTicker = fn }
}

// Sync starts reveals against a conversation log. At most one reveal runs at
// a time.
type Sync struct {
	log       *conversation.Log
	player    Player
	cfg       Config
	logger    *slog.Logger
	newTicker func(time.Duration) Ticker

	mu        sync.Mutex
	active    *Reveal
	onFailure func(turnID string, err error)
}

func NewSync(log *conversation.Log, player Player, cfg Config, logger *slog.Logger, opts ...Option) *Sync {
	if cfg.RevealInterval <= 0 {
		cfg.RevealInterval = 50 * time.Millisecond
	}
	s := &Sync{
		log:       log,
		player:    player,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "playback")),
		newTicker: newTimeTicker,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnFailure registers fn to receive playback errors and stalls. It is not
// called for reveals that were cancelled.
func (s *Sync) OnFailure(fn func(turnID string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = fn
}

// Start begins revealing the assistant record at index. A reveal still in
// progress is torn down first and its record settled as Complete with the
// text shown so far.
func (s *Sync) Start(ctx context.Context, index int) (*Reveal, error) {
	rec, ok := s.log.Get(index)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrNotRevealable, conversation.ErrNoRecord)
	}
	if rec.Role != conversation.RoleAssistant || rec.Audio == nil || rec.Reveal != conversation.NotStarted {
		return nil, fmt.Errorf("%w: record %d", ErrNotRevealable, index)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleLocked()

	if err := s.log.UpdateReveal(index, conversation.Revealing, 0); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &Reveal{
		index:     index,
		turnID:    rec.ID,
		runes:     rec.Runes(),
		log:       s.log,
		logger:    s.logger.With(slog.String("turn_id", rec.ID)),
		cancel:    cancel,
		onFailure: s.onFailure,
		done:      make(chan struct{}),
	}
	if r.runes == 0 {
		r.textDone = true
	}
	s.active = r

	ticker := s.newTicker(s.cfg.RevealInterval)
	r.wg.Go(func() { r.runText(runCtx, ticker) })
	r.wg.Go(func() { r.runAudio(runCtx, s.player, rec.Audio, s.stallTimeout(rec.Audio)) })
	return r, nil
}

// Stop tears down the active reveal, if any, settling its record.
func (s *Sync) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleLocked()
}

// Active returns the running reveal or nil.
func (s *Sync) Active() *Reveal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.Completed() {
		return nil
	}
	return s.active
}

func (s *Sync) settleLocked() {
	prev := s.active
	s.active = nil
	if prev == nil {
		return
	}
	prev.Cancel()
	if prev.Completed() {
		return
	}
	if err := s.log.UpdateReveal(prev.index, conversation.Complete, prev.Revealed()); err != nil {
		s.logger.Warn("failed to settle superseded reveal", slog.Int("index", prev.index), slog.String("error", err.Error()))
	}
}

func (s *Sync) stallTimeout(audio *tts.Audio) time.Duration {
	if audio.Duration > 0 {
		return audio.Duration + s.cfg.StallGrace
	}
	return s.cfg.StallTimeout
}

// Reveal is one running text/audio join for a record.
type Reveal struct {
	index  int
	turnID string
	runes  int
	log    *conversation.Log
	logger *slog.Logger
	cancel context.CancelFunc
	wg     conc.WaitGroup

	onFailure func(turnID string, err error)

	mu        sync.Mutex
	revealed  int
	textDone  bool
	audioDone bool
	torn      bool
	completed bool
	once      sync.Once
	done      chan struct{}
}

func (r *Reveal) Index() int     { return r.index }
func (r *Reveal) TurnID() string { return r.turnID }

// Done is closed when both text and audio have finished. It is never
// closed for a reveal that was cancelled first.
func (r *Reveal) Done() <-chan struct{} { return r.done }

func (r *Reveal) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

func (r *Reveal) Revealed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revealed
}

// Cancel stops both clocks and waits for them. It reports whether the
// reveal was still running. No log update happens after Cancel returns.
func (r *Reveal) Cancel() bool {
	r.mu.Lock()
	unfinished := !r.completed && !r.torn
	r.torn = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
	return unfinished
}

func (r *Reveal) runText(ctx context.Context, ticker Ticker) {
	defer ticker.Stop()
	if r.isTextDone() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
		r.mu.Lock()
		if r.torn {
			r.mu.Unlock()
			return
		}
		r.revealed++
		if err := r.log.UpdateReveal(r.index, conversation.Revealing, r.revealed); err != nil {
			r.logger.Warn("reveal update failed", slog.String("error", err.Error()))
		}
		if r.revealed >= r.runes {
			r.textDone = true
			r.completeLocked()
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
	}
}

func (r *Reveal) runAudio(ctx context.Context, player Player, audio *tts.Audio, timeout time.Duration) {
	playCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		playCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := player.Play(playCtx, r.turnID, audio)
	if ctx.Err() != nil {
		return
	}
	var failure error
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(playCtx.Err(), context.DeadlineExceeded):
		failure = fmt.Errorf("%w after %s", ErrPlaybackStall, timeout)
		r.logger.Warn("audio never ended, finishing reveal", slog.String("error", failure.Error()))
	default:
		failure = fmt.Errorf("play audio: %w", err)
		r.logger.Warn("audio playback failed, finishing reveal", slog.String("error", err.Error()))
	}

	r.mu.Lock()
	if r.torn {
		r.mu.Unlock()
		return
	}
	r.audioDone = true
	r.completeLocked()
	r.mu.Unlock()

	if failure != nil && r.onFailure != nil {
		r.onFailure(r.turnID, failure)
	}
}

func (r *Reveal) isTextDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.textDone
}

func (r *Reveal) completeLocked() {
	if !r.textDone || !r.audioDone || r.torn {
		return
	}
	r.once.Do(func() {
		r.completed = true
		if err := r.log.UpdateReveal(r.index, conversation.Complete, r.revealed); err != nil {
			r.logger.Warn("reveal completion failed", slog.String("error", err.Error()))
		}
		close(r.done)
	})
}
