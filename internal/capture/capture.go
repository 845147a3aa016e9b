// Package capture owns microphone sessions: it opens an input device, buffers
// the fragments it yields and finalises them into a single clip on stop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
)

var (
	// ErrDevice reports that no input device could be acquired.
	ErrDevice = errors.New("audio input device unavailable")
	// ErrEmptyCapture reports a session that ended with zero bytes.
	ErrEmptyCapture = errors.New("no audio captured")
	// ErrSessionActive is returned by StartSession while recording.
	ErrSessionActive = errors.New("recording session already active")
	// ErrNoSession is returned by StopSession when nothing is recording.
	ErrNoSession = errors.New("no recording session active")
)

// EncodingPCM16 marks raw little-endian signed 16-bit PCM. Any other
// encoding is a container MIME type passed through untouched.
const EncodingPCM16 = "pcm_s16le"

// Format is the sample configuration requested from a device.
type Format struct {
	SampleRate int
	Channels   int
}

// Clip is a finalised recording ready for transcription.
type Clip struct {
	SessionID  string
	Data       []byte
	MIME       string
	Filename   string
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Source yields audio fragments until closed. Implementations close the
// Fragments channel once Close has been called or the device ends.
type Source interface {
	Fragments() <-chan []byte
	Encoding() string
	Close() error
}

// Device opens capture sources.
type Device interface {
	Open(ctx context.Context, format Format) (Source, error)
}

type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Session accumulates the fragments of one recording.
type Session struct {
	ID string

	mu        sync.Mutex
	state     State
	fragments [][]byte
	size      int
	pending   [][]byte
}

func (s *Session) append(fragment []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments = append(s.fragments, fragment)
	s.pending = append(s.pending, fragment)
	s.size += len(fragment)
}

func (s *Session) drainPending() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	s.pending = nil
	return p
}

func (s *Session) finalize() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateStopped
	out := make([]byte, 0, s.size)
	for _, f := range s.fragments {
		out = append(out, f...)
	}
	s.fragments = nil
	s.pending = nil
	return out
}

// LevelFunc receives advisory amplitude samples while recording.
type LevelFunc func(sessionID string, rms float64)

// Recorder runs at most one capture session at a time.
type Recorder struct {
	device        Device
	format        Format
	levelInterval time.Duration
	onLevel       LevelFunc
	log           *slog.Logger

	mu      sync.Mutex
	session *Session
	source  Source
	cancel  context.CancelFunc
	wg      *conc.WaitGroup
}

func NewRecorder(device Device, format Format, levelInterval time.Duration, onLevel LevelFunc, logger *slog.Logger) *Recorder {
	if levelInterval <= 0 {
		levelInterval = 100 * time.Millisecond
	}
	return &Recorder{
		device:        device,
		format:        format,
		levelInterval: levelInterval,
		onLevel:       onLevel,
		log:           logger.With(slog.String("component", "capture")),
	}
}

// Active reports whether a session is recording.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// StartSession acquires the device and begins buffering fragments.
func (r *Recorder) StartSession(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return "", ErrSessionActive
	}

	sctx, cancel := context.WithCancel(ctx)
	src, err := r.device.Open(sctx, r.format)
	if err != nil {
		cancel()
		return "", fmt.Errorf("%w: %w", ErrDevice, err)
	}

	session := &Session{ID: uuid.NewString(), state: StateRecording}
	wg := conc.NewWaitGroup()
	wg.Go(func() {
		for fragment := range src.Fragments() {
			if len(fragment) == 0 {
				continue
			}
			session.append(fragment)
		}
	})
	if src.Encoding() == EncodingPCM16 && r.onLevel != nil {
		wg.Go(func() { r.sampleLevels(sctx, session) })
	}

	r.session = session
	r.source = src
	r.cancel = cancel
	r.wg = wg
	r.log.Info("capture session started", slog.String("session_id", session.ID), slog.String("encoding", src.Encoding()))
	return session.ID, nil
}

func (r *Recorder) sampleLevels(ctx context.Context, session *Session) {
	ticker := time.NewTicker(r.levelInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.onLevel(session.ID, rmsLevel(session.drainPending()))
		}
	}
}

// StopSession releases the device and returns the finalised clip.
func (r *Recorder) StopSession() (Clip, error) {
	r.mu.Lock()
	session, src, cancel, wg := r.session, r.source, r.cancel, r.wg
	r.session, r.source, r.cancel, r.wg = nil, nil, nil, nil
	r.mu.Unlock()

	if session == nil {
		return Clip{}, ErrNoSession
	}

	closeErr := src.Close()
	cancel()
	wg.Wait()
	if closeErr != nil {
		r.log.Warn("capture device close failed", slog.String("error", closeErr.Error()))
	}

	data := session.finalize()
	if len(data) == 0 {
		return Clip{}, ErrEmptyCapture
	}

	clip, err := r.buildClip(session.ID, src.Encoding(), data)
	if err != nil {
		return Clip{}, err
	}
	r.log.Info("capture session finalized",
		slog.String("session_id", session.ID),
		slog.Int("bytes", len(clip.Data)),
		slog.Duration("duration", clip.Duration))
	return clip, nil
}

func (r *Recorder) buildClip(sessionID, encoding string, data []byte) (Clip, error) {
	clip := Clip{
		SessionID:  sessionID,
		SampleRate: r.format.SampleRate,
		Channels:   r.format.Channels,
	}
	if encoding != EncodingPCM16 {
		clip.Data = data
		clip.MIME = encoding
		clip.Filename = "audio." + extensionFor(encoding)
		return clip, nil
	}
	// A cut-off device read can leave half a sample at the end.
	if len(data)%2 != 0 {
		r.log.Debug("dropping trailing half sample", slog.String("session_id", sessionID))
		data = data[:len(data)&^1]
	}
	if len(data) == 0 {
		return Clip{}, ErrEmptyCapture
	}
	wavData, err := EncodeWAV(data, r.format.SampleRate, r.format.Channels)
	if err != nil {
		return Clip{}, err
	}
	clip.Data = wavData
	clip.MIME = "audio/wav"
	clip.Filename = "audio.wav"
	bytesPerSecond := r.format.SampleRate * r.format.Channels * 2
	if bytesPerSecond > 0 {
		clip.Duration = time.Duration(len(data)) * time.Second / time.Duration(bytesPerSecond)
	}
	return clip, nil
}

func extensionFor(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.TrimSpace(base) {
	case "audio/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4", "audio/m4a":
		return "m4a"
	case "audio/mpeg":
		return "mp3"
	case "audio/wav", "audio/x-wav":
		return "wav"
	default:
		return "webm"
	}
}
