package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

// --- Constants ---

func TestConstants(t *testing.T) {
	// 48kHz * 20ms = 960 samples per channel
	if got := SampleRate * int(FrameDuration/time.Millisecond) / 1000; got != FrameSize {
		t.Errorf("FrameSize mismatch: want %d, got %d", got, FrameSize)
	}
	if FrameSamples != FrameSize*Channels {
		t.Errorf("FrameSamples = %d, want %d", FrameSamples, FrameSize*Channels)
	}
	if FrameBytes != FrameSamples*2 {
		t.Errorf("FrameBytes = %d, want %d", FrameBytes, FrameSamples*2)
	}
}

// --- MixFrames ---

func TestMixFramesSum(t *testing.T) {
	a := []int16{1000, -1000, 500}
	b := []int16{2000, -2000}
	result := MixFrames(a, b)
	if len(result) != FrameSamples {
		t.Fatalf("len = %d, want %d", len(result), FrameSamples)
	}
	for i, want := range []int16{3000, -3000, 500, 0} {
		if result[i] != want {
			t.Errorf("sample[%d] = %d, want %d", i, result[i], want)
		}
	}
}

func TestMixFramesClipping(t *testing.T) {
	result := MixFrames([]int16{32000, -32000}, []int16{32000, -32000})
	if result[0] != 32767 {
		t.Errorf("Max clip: got %d, want 32767", result[0])
	}
	if result[1] != -32768 {
		t.Errorf("Min clip: got %d, want -32768", result[1])
	}
}

func TestMixFramesSilence(t *testing.T) {
	result := MixFrames(nil, nil)
	for i, v := range result {
		if v != 0 {
			t.Fatalf("sample[%d] = %d, want silence", i, v)
		}
	}
}

// --- Mixer ---

func TestMixerEmitsMixedFrames(t *testing.T) {
	sys := make(chan []int16, 4)
	mic := make(chan []int16, 4)
	sys <- []int16{100}
	mic <- []int16{23}

	m := NewMixer(sys, mic)
	m.tick = time.Millisecond
	if m.Inputs() != 2 {
		t.Errorf("Inputs = %d, want 2", m.Inputs())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	select {
	case f := <-m.Frames():
		if f[0] != 123 {
			t.Errorf("mixed sample = %d, want 123", f[0])
		}
	case <-time.After(time.Second):
		t.Fatal("no frame from mixer")
	}
}

func TestMixerClosesOnCancel(t *testing.T) {
	m := NewMixer()
	m.tick = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-m.Frames():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Frames not closed after cancel")
		}
	}
}

func TestMixerTakeDropsBacklog(t *testing.T) {
	in := make(chan []int16, 20)
	for i := 0; i < 15; i++ {
		in <- []int16{int16(i)}
	}
	m := NewMixer(in)
	f := m.take(in)
	if f[0] != 5 {
		t.Errorf("take = %d, want 5 after discarding backlog", f[0])
	}
	if len(in) != maxBacklog-1 {
		t.Errorf("remaining = %d, want %d", len(in), maxBacklog-1)
	}
}

// --- PCM helpers ---

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	buf := SamplesToBytes(samples)
	if len(buf) != len(samples)*2 {
		t.Fatalf("SamplesToBytes length = %d, want %d", len(buf), len(samples)*2)
	}

	// 256 = 0x0100 -> bytes [0x00, 0x01]
	idx := 5 * 2
	if buf[idx] != 0x00 || buf[idx+1] != 0x01 {
		t.Errorf("Sample 256 encoded as [%02x, %02x], want [00, 01]", buf[idx], buf[idx+1])
	}
}

func TestBytesToSamplesOddLength(t *testing.T) {
	got := BytesToSamples([]byte{0x00, 0x01, 0xff})
	if len(got) != 1 || got[0] != 256 {
		t.Errorf("BytesToSamples = %v, want [256]", got)
	}
}

func TestReadFrame(t *testing.T) {
	frame := make([]int16, FrameSamples)
	frame[0] = -7
	frame[FrameSamples-1] = 42
	r := bytes.NewReader(append(SamplesToBytes(frame), 0x01))

	buf := make([]byte, FrameBytes)
	got, err := ReadFrame(r, buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got[0] != -7 || got[FrameSamples-1] != 42 {
		t.Errorf("ReadFrame = [%d ... %d]", got[0], got[FrameSamples-1])
	}

	if _, err := ReadFrame(r, buf); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("partial frame err = %v, want ErrUnexpectedEOF", err)
	}
	if _, err := ReadFrame(r, make([]byte, 4)); err == nil {
		t.Error("small buffer accepted")
	}
}
