package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/loqalabs/dyslu/internal/config"
	"github.com/sashabaranov/go-openai"
)

const openAIChunkSize = 32 * 1024

type openAISynth struct {
	client *openai.Client
	cfg    config.TTSConfig
}

// NewOpenAISynth streams speech from the hosted API in the configured format.
func NewOpenAISynth(client *openai.Client, cfg config.TTSConfig) Synthesizer {
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	if cfg.Format == "" {
		cfg.Format = string(openai.SpeechResponseFormatMp3)
	}
	return &openAISynth{client: client, cfg: cfg}
}

func (o *openAISynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		voice := req.Voice
		if voice == "" {
			voice = o.cfg.Voice
		}
		format := o.cfg.Format
		if req.Format != "" {
			format = req.Format
		}
		model := o.cfg.Model
		if req.Model != "" {
			model = req.Model
		}

		resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(model),
			Input:          req.Text,
			Voice:          openai.SpeechVoice(voice),
			ResponseFormat: openai.SpeechResponseFormat(format),
		})
		if err != nil {
			errs <- fmt.Errorf("openai speech: %w", err)
			return
		}
		defer resp.Close()

		mime := MIMEForFormat(format)
		buf := make([]byte, openAIChunkSize)
		sequence := 0
		for {
			n, readErr := io.ReadFull(resp, buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- SynthChunk{TurnID: req.TurnID, Sequence: sequence, Encoding: mime, Data: data}:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
				sequence++
			}
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				return
			}
			if readErr != nil {
				errs <- fmt.Errorf("read speech: %w", readErr)
				return
			}
		}
	}()
	return chunks, errs
}
