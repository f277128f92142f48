package media

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned when a capture source cannot be acquired.
	ErrUnavailable = errors.New("media source unavailable")
	// ErrEnded is returned when a track ends before producing a frame.
	ErrEnded = errors.New("track ended")
)

// Kind identifies what a stream captures.
type Kind string

const (
	Screen     Kind = "screen"
	Webcam     Kind = "webcam"
	Microphone Kind = "microphone"
)

// Stream groups the tracks obtained from one acquisition.
type Stream struct {
	kind   Kind
	tracks []*Track
}

// NewStream bundles tracks of one source.
func NewStream(kind Kind, tracks ...*Track) *Stream {
	return &Stream{kind: kind, tracks: tracks}
}

func (s *Stream) Kind() Kind { return s.kind }

// Tracks returns every track.
func (s *Stream) Tracks() []*Track {
	return append([]*Track(nil), s.tracks...)
}

func (s *Stream) byKind(kind TrackKind) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// VideoTracks returns the video tracks.
func (s *Stream) VideoTracks() []*Track { return s.byKind(VideoTrack) }

// AudioTracks returns the audio tracks.
func (s *Stream) AudioTracks() []*Track { return s.byKind(AudioTrack) }

// Video returns the first video track or nil.
func (s *Stream) Video() *Track {
	if v := s.VideoTracks(); len(v) > 0 {
		return v[0]
	}
	return nil
}

// Audio returns the first audio track or nil.
func (s *Stream) Audio() *Track {
	if a := s.AudioTracks(); len(a) > 0 {
		return a[0]
	}
	return nil
}

// ActiveTracks counts tracks that have not ended.
func (s *Stream) ActiveTracks() int {
	n := 0
	for _, t := range s.tracks {
		if t.Live() {
			n++
		}
	}
	return n
}

// Stop ends every track.
func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// WaitReady waits for the first frame on every track.
func (s *Stream) WaitReady(ctx context.Context) error {
	for _, t := range s.tracks {
		if err := t.WaitReady(ctx); err != nil {
			return err
		}
	}
	return nil
}

// VideoConstraints are the ideal capture dimensions.
type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate int
}

// ScreenConstraints extend VideoConstraints with screen-only options.
type ScreenConstraints struct {
	VideoConstraints
	Cursor bool
	Audio  bool // capture system audio alongside the screen
}

// Acquirer obtains capture streams. Each call may fail independently.
type Acquirer interface {
	AcquireScreen(ctx context.Context, c ScreenConstraints) (*Stream, error)
	AcquireWebcam(ctx context.Context, c VideoConstraints) (*Stream, error)
	AcquireMicrophone(ctx context.Context) (*Stream, error)
}
