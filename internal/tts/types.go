package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/dyslu/internal/capture"
)

// ErrEmptyAudio reports a synthesis that produced no playable bytes.
var ErrEmptyAudio = errors.New("synthesizer returned no audio")

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	TurnID string
	Text   string
	Voice  string
	Model  string
	Format string
}

// SynthChunk carries a slice of synthesized audio. Encoding is either
// capture.EncodingPCM16 or a container MIME type.
type SynthChunk struct {
	TurnID     string
	Sequence   int
	Encoding   string
	SampleRate int
	Channels   int
	Data       []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Audio is a playable clip attached to an assistant turn.
type Audio struct {
	Data     []byte
	MIME     string
	Duration time.Duration
}

// Filename returns a name whose extension matches the MIME type.
func (a *Audio) Filename() string {
	switch a.MIME {
	case "audio/wav":
		return "reply.wav"
	case "audio/ogg":
		return "reply.ogg"
	case "audio/aac":
		return "reply.aac"
	case "audio/flac":
		return "reply.flac"
	default:
		return "reply.mp3"
	}
}

// Collect drains a synthesis into one Audio. PCM chunks are wrapped in a WAV
// container; container chunks are concatenated as-is.
func Collect(ctx context.Context, s Synthesizer, req SynthRequest) (*Audio, error) {
	chunks, errs := s.Synthesize(ctx, req)

	var data []byte
	var encoding string
	var rate, channels int
	for chunk := range chunks {
		if encoding == "" {
			encoding = chunk.Encoding
			rate = chunk.SampleRate
			channels = chunk.Channels
		}
		data = append(data, chunk.Data...)
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	audio := &Audio{Data: data, MIME: encoding}
	if encoding == capture.EncodingPCM16 {
		wav, err := capture.EncodeWAV(data, rate, channels)
		if err != nil {
			return nil, fmt.Errorf("wrap synthesized pcm: %w", err)
		}
		audio.Data = wav
		audio.MIME = "audio/wav"
	}
	if d, err := Duration(audio.Data, audio.MIME); err == nil {
		audio.Duration = d
	}
	return audio, nil
}

// MIMEForFormat maps a synthesis response format to its MIME type.
func MIMEForFormat(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	default:
		return "audio/mpeg"
	}
}
