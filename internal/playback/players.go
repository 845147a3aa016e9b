package playback

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/loqalabs/dyslu/internal/tts"
	"github.com/mattn/go-shellwords"
)

type execPlayer struct {
	cmd []string
}

// NewExecPlayer plays clips with a local command, e.g.
// "ffplay -nodisp -autoexit -loglevel quiet". The clip path is appended.
func NewExecPlayer(command string) (Player, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("player command is empty")
	}
	return &execPlayer{cmd: args}, nil
}

func (p *execPlayer) Play(ctx context.Context, turnID string, audio *tts.Audio) error {
	file, err := os.CreateTemp(os.TempDir(), "dyslu_reply_*"+filepath.Ext(audio.Filename()))
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.Write(audio.Data); err != nil {
		file.Close()
		return fmt.Errorf("write clip: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close clip: %w", err)
	}

	args := append(append([]string{}, p.cmd[1:]...), file.Name())
	cmd := exec.CommandContext(ctx, p.cmd[0], args...)
	cmd.WaitDelay = time.Second
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("player command failed: %w: %s", err, out)
	}
	return nil
}

type clockPlayer struct{}

// NewClockPlayer pretends to play by waiting for the clip's duration. It
// drives reveals in headless runs and tests.
func NewClockPlayer() Player { return clockPlayer{} }

func (clockPlayer) Play(ctx context.Context, turnID string, audio *tts.Audio) error {
	length := audio.Duration
	if length <= 0 {
		d, err := tts.Duration(audio.Data, audio.MIME)
		if err != nil {
			return fmt.Errorf("clip length unknown: %w", err)
		}
		length = d
	}
	timer := time.NewTimer(length)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
