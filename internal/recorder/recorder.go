package recorder

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidState is returned for calls that do not fit the recorder state.
	ErrInvalidState = errors.New("invalid recorder state")
	// ErrUnsupported is returned when no encoder can produce the requested type.
	ErrUnsupported = errors.New("unsupported mime type")
)

const (
	PreferredMimeType = "video/webm;codecs=vp9,opus"
	FallbackMimeType  = "video/webm"
)

// State mirrors the lifecycle of a media recorder.
type State string

const (
	Inactive  State = "inactive"
	Recording State = "recording"
	Paused    State = "paused"
)

// Surface is the composite video the recorder samples.
type Surface interface {
	Size() (w, h int)
	ReadPixels(dst []byte) int
}

// Stream is what gets recorded: the surface sampled at FrameRate, plus
// optional mixed PCM audio.
type Stream struct {
	Video     Surface
	FrameRate int
	Audio     <-chan []int16 // nil when there is no audio
}

// Options configure the encoder.
type Options struct {
	MimeType           string
	VideoBitsPerSecond int
}

// Handlers receive recorder output. OnData is called once per timeslice with
// a non-empty chunk. OnStop is called once, after the last OnData. Both run
// on the same goroutine.
type Handlers struct {
	OnData func(chunk []byte)
	OnStop func(err error)
}

// Recorder encodes a Stream into chunks.
type Recorder interface {
	Start(s Stream, timeslice time.Duration) error
	Pause() error
	Resume() error
	Stop() error
	State() State
	MimeType() string
}

// Engine creates recorders and reports which output types it supports.
type Engine interface {
	IsTypeSupported(mimeType string) bool
	NewRecorder(opts Options, h Handlers) (Recorder, error)
}

// ChooseMimeType returns the preferred type when the engine supports it,
// otherwise the plain fallback.
func ChooseMimeType(e Engine) string {
	if e.IsTypeSupported(PreferredMimeType) {
		return PreferredMimeType
	}
	return FallbackMimeType
}

// ParseMimeType splits "video/webm;codecs=vp9,opus" into its container and
// codec list. Codec names are lower-cased. Quoted codec lists are accepted.
func ParseMimeType(s string) (container string, codecs []string, err error) {
	parts := strings.Split(s, ";")
	container = strings.ToLower(strings.TrimSpace(parts[0]))
	if !strings.Contains(container, "/") {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(p, "=")
		if !ok || strings.ToLower(strings.TrimSpace(key)) != "codecs" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		for _, c := range strings.Split(value, ",") {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				codecs = append(codecs, c)
			}
		}
	}
	return container, codecs, nil
}
