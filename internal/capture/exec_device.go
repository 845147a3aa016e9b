package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// ExecDevice records from a command that writes raw s16le PCM to stdout,
// for example `arecord -q -f S16_LE -r {rate} -c {channels} -t raw`.
type ExecDevice struct {
	cmd []string
}

func NewExecDevice(command string) (*ExecDevice, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &ExecDevice{cmd: args}, nil
}

func (d *ExecDevice) Open(ctx context.Context, format Format) (Source, error) {
	replacer := strings.NewReplacer(
		"{rate}", strconv.Itoa(format.SampleRate),
		"{channels}", strconv.Itoa(format.Channels),
	)
	args := make([]string, len(d.cmd))
	for i, a := range d.cmd {
		args[i] = replacer.Replace(a)
	}

	cctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start capture command: %w", err)
	}

	// 100ms of audio per fragment.
	chunk := format.SampleRate * format.Channels * 2 / 10
	if chunk <= 0 {
		chunk = 3200
	}
	src := &execSource{cmd: cmd, cancel: cancel, fragments: make(chan []byte, 16), done: make(chan struct{})}
	go src.read(stdout, chunk)
	return src, nil
}

type execSource struct {
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	fragments chan []byte
	done      chan struct{}
	once      sync.Once
}

func (s *execSource) read(r io.Reader, size int) {
	defer close(s.done)
	defer close(s.fragments)
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			s.fragments <- buf[:n]
		}
		if err != nil {
			return
		}
	}
}

func (s *execSource) Fragments() <-chan []byte { return s.fragments }

func (s *execSource) Encoding() string { return EncodingPCM16 }

// Close kills the recorder process; its exit status is expected to be a
// signal and is not reported.
func (s *execSource) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		_ = s.cmd.Wait()
	})
	return nil
}
