package playback

import (
	"context"
	"testing"
	"time"

	"github.com/loqalabs/dyslu/internal/config"
	"github.com/loqalabs/dyslu/internal/tts"
	"github.com/stretchr/testify/require"
)

func TestClockPlayerWaitsForDuration(t *testing.T) {
	start := time.Now()
	err := NewClockPlayer().Play(context.Background(), "t1", &tts.Audio{Duration: 30 * time.Millisecond})
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestClockPlayerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := NewClockPlayer().Play(ctx, "t1", &tts.Audio{Duration: time.Minute})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClockPlayerUnknownLength(t *testing.T) {
	err := NewClockPlayer().Play(context.Background(), "t1", &tts.Audio{Data: []byte{1, 2}, MIME: "audio/ogg"})
	require.Error(t, err)
}

func TestExecPlayerRejectsEmptyCommand(t *testing.T) {
	_, err := NewExecPlayer("")
	require.Error(t, err)
}

func TestExecPlayerRunsCommand(t *testing.T) {
	p, err := NewExecPlayer("sh -c 'test -s \"$0\"'")
	require.NoError(t, err)
	require.NoError(t, p.Play(context.Background(), "t1", &tts.Audio{Data: []byte("ID3"), MIME: "audio/mpeg"}))
}

func TestExecPlayerStopsOnCancel(t *testing.T) {
	p, err := NewExecPlayer("sh -c 'exec sleep 5'")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = p.Play(ctx, "t1", &tts.Audio{Data: []byte("ID3"), MIME: "audio/mpeg"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 4*time.Second)
}

func TestConfigFromPlayback(t *testing.T) {
	cfg := ConfigFromPlayback(config.Default().Playback)
	require.Equal(t, 50*time.Millisecond, cfg.RevealInterval)
	require.Equal(t, 3*time.Second, cfg.StallGrace)
	require.Equal(t, 2*time.Minute, cfg.StallTimeout)
}
