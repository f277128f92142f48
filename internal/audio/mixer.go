package audio

import (
	"context"
	"time"
)

// maxBacklog caps how many frames an input may queue before old ones are
// discarded, keeping capture devices with drifting clocks in sync.
const maxBacklog = 10

// MixFrames sums frames sample by sample and clips to the int16 range.
// Missing or short frames count as silence. The result is FrameSamples long.
func MixFrames(frames ...[]int16) []int16 {
	acc := make([]int32, FrameSamples)
	for _, f := range frames {
		n := len(f)
		if n > FrameSamples {
			n = FrameSamples
		}
		for i := 0; i < n; i++ {
			acc[i] += int32(f[i])
		}
	}

	result := make([]int16, FrameSamples)
	for i, v := range acc {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		result[i] = int16(v)
	}
	return result
}

// Mixer combines several PCM inputs (system audio, microphone) into a single
// stream of 20ms frames at real-time rate.
type Mixer struct {
	inputs  []<-chan []int16
	frameCh chan []int16
	tick    time.Duration
}

// NewMixer creates a mixer over inputs.
func NewMixer(inputs ...<-chan []int16) *Mixer {
	return &Mixer{
		inputs:  inputs,
		frameCh: make(chan []int16, 100),
		tick:    FrameDuration,
	}
}

// Frames returns the channel of mixed frames. It is closed when Run returns.
func (m *Mixer) Frames() <-chan []int16 {
	return m.frameCh
}

// Inputs returns the number of mixed sources.
func (m *Mixer) Inputs() int {
	return len(m.inputs)
}

// Run emits one mixed frame per tick until ctx is cancelled.
func (m *Mixer) Run(ctx context.Context) {
	defer close(m.frameCh)

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	pending := make([][]int16, len(m.inputs))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for i, in := range m.inputs {
			pending[i] = m.take(in)
		}
		frame := MixFrames(pending...)

		select {
		case m.frameCh <- frame:
		case <-ctx.Done():
			return
		default:
			// nobody draining, drop to stay real-time
		}
	}
}

// take pulls the next frame from in without blocking, discarding backlog
// beyond maxBacklog.
func (m *Mixer) take(in <-chan []int16) []int16 {
	for len(in) > maxBacklog {
		<-in
	}
	select {
	case f, ok := <-in:
		if ok {
			return f
		}
	default:
	}
	return nil
}
