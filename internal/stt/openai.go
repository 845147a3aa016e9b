package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/dyslu/internal/capture"
	"github.com/loqalabs/dyslu/internal/config"
	"github.com/sashabaranov/go-openai"
)

type openAIRecognizer struct {
	client   *openai.Client
	model    string
	language string
}

// NewOpenAIRecognizer transcribes clips with the hosted whisper endpoint.
func NewOpenAIRecognizer(client *openai.Client, cfg config.STTConfig) Recognizer {
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &openAIRecognizer{client: client, model: model, language: cfg.Language}
}

func (r *openAIRecognizer) Transcribe(ctx context.Context, clip capture.Clip) (TranscriptResult, error) {
	if len(clip.Data) == 0 {
		return TranscriptResult{}, fmt.Errorf("transcribe: %w", capture.ErrEmptyCapture)
	}
	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: clip.Filename,
		Reader:   bytes.NewReader(clip.Data),
		Language: r.language,
	})
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("openai transcription: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return TranscriptResult{}, ErrEmptyTranscript
	}
	return TranscriptResult{Text: text}, nil
}
