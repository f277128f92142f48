package session

import (
	"time"

	"github.com/satindergrewal/screenrec/internal/library"
)

// State is the capture session lifecycle.
type State string

const (
	Idle      State = "idle"
	Starting  State = "starting"
	Recording State = "recording"
	Paused    State = "paused"
	Stopping  State = "stopping"
)

// Status line texts shown to the user.
const (
	StatusRequesting = "Requesting permissions..."
	StatusRecording  = "Recording"
	StatusPaused     = "Paused"
	StatusReady      = "Ready to Record"

	StartFailedMessage = "Failed to start recording. Please make sure you granted all necessary permissions."
)

// EventType classifies session events.
type EventType string

const (
	EventStatus    EventType = "status"
	EventElapsed   EventType = "elapsed"
	EventError     EventType = "error"
	EventRecording EventType = "recording"
)

// Event is pushed to subscribers whenever something user-visible changes.
type Event struct {
	Type      EventType          `json:"type"`
	State     State              `json:"state"`
	Status    string             `json:"status,omitempty"`
	Elapsed   string             `json:"elapsed,omitempty"`
	Error     string             `json:"error,omitempty"`
	Recording *library.Recording `json:"recording,omitempty"`
	Time      time.Time          `json:"time"`
}

// Status is a point-in-time view of the session.
type Status struct {
	State       State  `json:"state"`
	Status      string `json:"status"`
	Elapsed     string `json:"elapsed"`
	Seconds     int    `json:"seconds"`
	MimeType    string `json:"mimeType,omitempty"`
	Webcam      bool   `json:"webcam"`
	Microphone  bool   `json:"microphone"`
	SystemAudio bool   `json:"systemAudio"`
	Chunks      int    `json:"chunks"`
}
