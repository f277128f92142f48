package media

import (
	"context"
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/satindergrewal/screenrec/internal/fanout"
)

// TrackKind is the media type a track carries.
type TrackKind string

const (
	VideoTrack TrackKind = "video"
	AudioTrack TrackKind = "audio"
)

// Track is a live media track. Video tracks keep the latest decoded frame,
// audio tracks fan out 20ms PCM frames to subscribers.
type Track struct {
	id    string
	kind  TrackKind
	label string

	mu    sync.RWMutex
	frame *image.RGBA

	audio *fanout.Broadcaster[[]int16]

	ready     chan struct{}
	readyOnce sync.Once
	ended     chan struct{}
	endOnce   sync.Once
	stopFn    func()
}

func newTrack(kind TrackKind, label string, stop func()) *Track {
	t := &Track{
		id:     uuid.NewString(),
		kind:   kind,
		label:  label,
		ready:  make(chan struct{}),
		ended:  make(chan struct{}),
		stopFn: stop,
	}
	if kind == AudioTrack {
		t.audio = fanout.NewBroadcaster[[]int16](fanout.DefaultBuffer)
	}
	return t
}

// NewVideoTrack creates a video track. stop is called once when the track is stopped.
func NewVideoTrack(label string, stop func()) *Track {
	return newTrack(VideoTrack, label, stop)
}

// NewAudioTrack creates an audio track. stop is called once when the track is stopped.
func NewAudioTrack(label string, stop func()) *Track {
	return newTrack(AudioTrack, label, stop)
}

func (t *Track) ID() string      { return t.id }
func (t *Track) Kind() TrackKind { return t.kind }
func (t *Track) Label() string   { return t.label }

// PublishFrame makes img the current frame and returns the previous one so
// the producer can reuse its buffer. The first frame marks the track ready.
func (t *Track) PublishFrame(img *image.RGBA) *image.RGBA {
	t.mu.Lock()
	prev := t.frame
	t.frame = img
	t.mu.Unlock()
	t.markReady()
	return prev
}

// ViewFrame calls fn with the current frame while holding it stable.
// It returns false when no frame has arrived yet. fn must not retain the image.
func (t *Track) ViewFrame(fn func(frame image.Image)) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.frame == nil {
		return false
	}
	fn(t.frame)
	return true
}

// FrameSize returns the dimensions of the latest frame, or zero before the first one.
func (t *Track) FrameSize() (w, h int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.frame == nil {
		return 0, 0
	}
	b := t.frame.Bounds()
	return b.Dx(), b.Dy()
}

// PublishAudio delivers a PCM frame to subscribers. The first frame marks the
// track ready.
func (t *Track) PublishAudio(frame []int16) {
	if t.audio == nil {
		return
	}
	t.audio.Publish(frame)
	t.markReady()
}

// SubscribeAudio registers a PCM listener. It returns nil for video tracks.
func (t *Track) SubscribeAudio() *fanout.Listener[[]int16] {
	if t.audio == nil {
		return nil
	}
	return t.audio.Subscribe()
}

// UnsubscribeAudio releases a listener obtained from SubscribeAudio.
func (t *Track) UnsubscribeAudio(l *fanout.Listener[[]int16]) {
	if t.audio == nil || l == nil {
		return
	}
	t.audio.Unsubscribe(l)
}

func (t *Track) markReady() {
	t.readyOnce.Do(func() { close(t.ready) })
}

// Ready is closed once the first frame has arrived.
func (t *Track) Ready() <-chan struct{} {
	return t.ready
}

// WaitReady blocks until the first frame, the end of the track, or ctx.
func (t *Track) WaitReady(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-t.ended:
		return ErrEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ended is closed when the track stops for any reason, including the
// capture device going away.
func (t *Track) Ended() <-chan struct{} {
	return t.ended
}

// Live reports whether the track has not ended.
func (t *Track) Live() bool {
	select {
	case <-t.ended:
		return false
	default:
		return true
	}
}

// Stop releases the underlying capture and ends the track. Safe to call twice.
func (t *Track) Stop() {
	t.end()
}

func (t *Track) end() {
	t.endOnce.Do(func() {
		if t.stopFn != nil {
			t.stopFn()
		}
		close(t.ended)
	})
}
