package pipeline

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a turn is started while another is in flight.
var ErrBusy = errors.New("a turn is already being processed")

type Stage string

const (
	StageCapture    Stage = "capture"
	StageTranscribe Stage = "transcribe"
	StageComplete   Stage = "complete"
	StageSynthesize Stage = "synthesize"
	StagePlayback   Stage = "playback"
)

// Error is the single current failure surfaced to the user. It is never
// persisted and is cleared when the next turn starts.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the short text shown in the UI for each stage.
func (e *Error) Message() string {
	switch e.Stage {
	case StageCapture:
		return "Could not access microphone"
	case StageSynthesize:
		return "Could not speak the reply"
	case StagePlayback:
		return "Could not play the reply"
	default:
		return "Error processing audio. Please try again."
	}
}
