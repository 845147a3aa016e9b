package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/dyslu/internal/capture"
)

type mockRecognizer struct {
	text string
}

// NewMockRecognizer returns text for every clip, or a length marker when text
// is empty.
func NewMockRecognizer(text string) Recognizer {
	return &mockRecognizer{text: text}
}

func (m *mockRecognizer) Transcribe(_ context.Context, clip capture.Clip) (TranscriptResult, error) {
	if m.text != "" {
		return TranscriptResult{Text: m.text, Confidence: 1}, nil
	}
	return TranscriptResult{
		Text:       fmt.Sprintf("[transcript %s length=%d]", clip.MIME, len(clip.Data)),
		Confidence: 0,
	}, nil
}
