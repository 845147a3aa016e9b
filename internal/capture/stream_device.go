package capture

import (
	"context"
	"errors"
	"sync"
)

// ErrNoClient means no front end is attached to feed a stream device.
var ErrNoClient = errors.New("no audio client attached")

// StreamDevice is fed by a remote front end (the browser over WebSocket).
// The front end attaches, declares its encoding, then pushes fragments while
// a session is open.
type StreamDevice struct {
	mu       sync.Mutex
	attached int
	encoding string
	current  *streamSource
}

func NewStreamDevice() *StreamDevice {
	return &StreamDevice{encoding: EncodingPCM16}
}

// Attach registers a connected client. The returned func detaches it.
func (d *StreamDevice) Attach() func() {
	d.mu.Lock()
	d.attached++
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			d.attached--
			d.mu.Unlock()
		})
	}
}

// SetEncoding declares what the client will push: EncodingPCM16 or a
// container MIME type such as "audio/webm".
func (d *StreamDevice) SetEncoding(encoding string) {
	if encoding == "" {
		encoding = EncodingPCM16
	}
	d.mu.Lock()
	d.encoding = encoding
	d.mu.Unlock()
}

func (d *StreamDevice) Open(ctx context.Context, _ Format) (Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attached == 0 {
		return nil, ErrNoClient
	}
	if d.current != nil {
		return nil, ErrSessionActive
	}
	src := &streamSource{
		device:    d,
		encoding:  d.encoding,
		fragments: make(chan []byte, 64),
		done:      make(chan struct{}),
	}
	d.current = src
	go func() {
		select {
		case <-ctx.Done():
			_ = src.Close()
		case <-src.done:
		}
	}()
	return src, nil
}

// Push forwards a fragment to the open session. It reports false when no
// session is open and the fragment was dropped.
func (d *StreamDevice) Push(fragment []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	src := d.current
	if src == nil {
		return false
	}
	buf := append([]byte(nil), fragment...)
	select {
	case src.fragments <- buf:
		return true
	case <-src.done:
		return false
	}
}

type streamSource struct {
	device    *StreamDevice
	encoding  string
	fragments chan []byte
	done      chan struct{}
	once      sync.Once
}

func (s *streamSource) Fragments() <-chan []byte { return s.fragments }

func (s *streamSource) Encoding() string { return s.encoding }

func (s *streamSource) Close() error {
	s.once.Do(func() {
		// done is closed before taking the device lock so a blocked Push returns.
		close(s.done)
		s.device.mu.Lock()
		if s.device.current == s {
			s.device.current = nil
		}
		close(s.fragments)
		s.device.mu.Unlock()
	})
	return nil
}
