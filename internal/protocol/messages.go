package protocol

import "time"

// TurnEvent is published whenever a conversation record is appended or its
// reveal progresses.
type TurnEvent struct {
	Kind      string    `json:"kind"` // appended, reveal
	Index     int       `json:"index"`
	TurnID    string    `json:"turn_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Display   string    `json:"display"`
	Reveal    string    `json:"reveal"`
	HasAudio  bool      `json:"has_audio"`
	Timestamp time.Time `json:"timestamp"`
}

// Status mirrors the shell state flags a front end needs to render controls.
type Status struct {
	Recording  bool      `json:"recording"`
	Processing bool      `json:"processing"`
	Error      string    `json:"error,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Level is an advisory microphone amplitude sample in the range [0,1].
type Level struct {
	SessionID string    `json:"session_id"`
	RMS       float64   `json:"rms"`
	Timestamp time.Time `json:"timestamp"`
}

// Play asks the front end to fetch and play a reply clip, then report
// "ended" or "playback_error" for the same turn.
type Play struct {
	TurnID    string    `json:"turn_id"`
	URL       string    `json:"url"`
	MIME      string    `json:"mime"`
	Timestamp time.Time `json:"timestamp"`
}

// PlayStop tells the front end to pause and release a clip.
type PlayStop struct {
	TurnID    string    `json:"turn_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTurn     = "log.turn"
	SubjectStatus   = "shell.status"
	SubjectLevel    = "capture.level"
	SubjectPlay     = "playback.play"
	SubjectPlayStop = "playback.stop"
)
