package overlay

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidSettings is returned when a settings value is out of range.
var ErrInvalidSettings = errors.New("invalid settings")

// Position is one of the nine anchor points the webcam box can snap to.
type Position string

const (
	TopLeft      Position = "top-left"
	TopCenter    Position = "top-center"
	TopRight     Position = "top-right"
	MiddleLeft   Position = "middle-left"
	MiddleCenter Position = "middle-center"
	MiddleRight  Position = "middle-right"
	BottomLeft   Position = "bottom-left"
	BottomCenter Position = "bottom-center"
	BottomRight  Position = "bottom-right"
)

// Positions lists every anchor in grid order.
var Positions = []Position{
	TopLeft, TopCenter, TopRight,
	MiddleLeft, MiddleCenter, MiddleRight,
	BottomLeft, BottomCenter, BottomRight,
}

// Valid reports whether p is a known anchor.
func (p Position) Valid() bool {
	for _, known := range Positions {
		if p == known {
			return true
		}
	}
	return false
}

// Shape is the clip shape applied to the webcam box.
type Shape string

const (
	Circle  Shape = "circle"
	Rounded Shape = "rounded"
	Square  Shape = "square"
)

// Valid reports whether s is a known shape.
func (s Shape) Valid() bool {
	switch s {
	case Circle, Rounded, Square:
		return true
	}
	return false
}

const (
	MinSize = 1
	MaxSize = 100
)

// Settings controls how the webcam overlay is drawn and which audio is captured.
type Settings struct {
	Position     Position `json:"position" yaml:"position"`
	Shape        Shape    `json:"shape" yaml:"shape"`
	Size         int      `json:"size" yaml:"size"` // percent of canvas width
	ShowWebcam   bool     `json:"showWebcam" yaml:"showWebcam"`
	WebcamBorder bool     `json:"webcamBorder" yaml:"webcamBorder"`
	SystemAudio  bool     `json:"systemAudio" yaml:"systemAudio"`
	MicAudio     bool     `json:"micAudio" yaml:"micAudio"`
}

// DefaultSettings returns the initial overlay configuration.
func DefaultSettings() Settings {
	return Settings{
		Position:     BottomRight,
		Shape:        Circle,
		Size:         20,
		ShowWebcam:   true,
		WebcamBorder: true,
		SystemAudio:  true,
		MicAudio:     true,
	}
}

// Validate checks enumerations and the size range.
func (s Settings) Validate() error {
	if !s.Position.Valid() {
		return fmt.Errorf("%w: unknown position %q", ErrInvalidSettings, s.Position)
	}
	if !s.Shape.Valid() {
		return fmt.Errorf("%w: unknown shape %q", ErrInvalidSettings, s.Shape)
	}
	if s.Size < MinSize || s.Size > MaxSize {
		return fmt.Errorf("%w: size must be %d-%d, got %d", ErrInvalidSettings, MinSize, MaxSize, s.Size)
	}
	return nil
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Position     *Position `json:"position"`
	Shape        *Shape    `json:"shape"`
	Size         *int      `json:"size"`
	ShowWebcam   *bool     `json:"showWebcam"`
	WebcamBorder *bool     `json:"webcamBorder"`
	SystemAudio  *bool     `json:"systemAudio"`
	MicAudio     *bool     `json:"micAudio"`
}

// Apply returns s with the non-nil fields of p copied over.
func (p Patch) Apply(s Settings) Settings {
	if p.Position != nil {
		s.Position = *p.Position
	}
	if p.Shape != nil {
		s.Shape = *p.Shape
	}
	if p.Size != nil {
		s.Size = *p.Size
	}
	if p.ShowWebcam != nil {
		s.ShowWebcam = *p.ShowWebcam
	}
	if p.WebcamBorder != nil {
		s.WebcamBorder = *p.WebcamBorder
	}
	if p.SystemAudio != nil {
		s.SystemAudio = *p.SystemAudio
	}
	if p.MicAudio != nil {
		s.MicAudio = *p.MicAudio
	}
	return s
}

// Store holds the live settings. The compositor reads a fresh snapshot every
// tick, so updates take effect on the next frame.
type Store struct {
	mu       sync.RWMutex
	settings Settings
}

// NewStore creates a store seeded with initial.
func NewStore(initial Settings) *Store {
	return &Store{settings: initial}
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update applies p atomically. Nothing changes if the result is invalid.
func (s *Store) Update(p Patch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := p.Apply(s.settings)
	if err := next.Validate(); err != nil {
		return s.settings, err
	}
	s.settings = next
	return next, nil
}

// DisableWebcam turns the overlay off, used when the webcam cannot be acquired.
func (s *Store) DisableWebcam() {
	s.mu.Lock()
	s.settings.ShowWebcam = false
	s.mu.Unlock()
}
