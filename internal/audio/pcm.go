package audio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadFrame reads one 20ms s16le frame from r. buf must hold FrameBytes.
// The returned slice is freshly allocated so it can be handed to other goroutines.
func ReadFrame(r io.Reader, buf []byte) ([]int16, error) {
	if len(buf) < FrameBytes {
		return nil, fmt.Errorf("frame buffer too small: %d < %d", len(buf), FrameBytes)
	}
	if _, err := io.ReadFull(r, buf[:FrameBytes]); err != nil {
		return nil, err
	}
	return BytesToSamples(buf[:FrameBytes]), nil
}

// BytesToSamples converts little-endian bytes to int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
