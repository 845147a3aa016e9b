package tts

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/dyslu/internal/capture"
)

// mockSpeechRate is how long the mock speaks per rune of text.
const mockSpeechRate = 60 * time.Millisecond

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth produces silent PCM whose length tracks the text, so the
// playback clock behaves like real speech.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(50 * time.Millisecond):
		}
		runes := utf8.RuneCountInString(req.Text)
		if runes == 0 {
			runes = 1
		}
		length := time.Duration(runes) * mockSpeechRate
		samples := int(int64(m.sampleRate) * int64(length) / int64(time.Second))
		chunks <- SynthChunk{
			TurnID:     req.TurnID,
			Sequence:   0,
			Encoding:   capture.EncodingPCM16,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			Data:       make([]byte, samples*m.channels*2),
			Final:      true,
		}
	}()
	return chunks, errs
}
