package stt

import (
	"context"
	"errors"

	"github.com/loqalabs/dyslu/internal/capture"
)

// ErrEmptyTranscript is returned when the backend produced no words.
var ErrEmptyTranscript = errors.New("empty transcript")

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, clip capture.Clip) (TranscriptResult, error)
}
