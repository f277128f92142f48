package stream

import (
	"context"
	"io"
	"strconv"
	"time"
)

// Surface is a fixed-size RGBA frame source, typically the compositor.
type Surface interface {
	Size() (w, h int)
	ReadPixels(dst []byte) int
}

// rawInputArgs describes raw RGBA frames arriving on stdin.
func rawInputArgs(w, h, fps int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", strconv.Itoa(w) + "x" + strconv.Itoa(h),
		"-framerate", strconv.Itoa(fps),
		"-i", "pipe:0",
	}
}

// feedSurface writes one surface frame to dst every 1/fps until ctx is done
// or a write fails.
func feedSurface(ctx context.Context, dst io.WriteCloser, surf Surface, fps int) {
	defer dst.Close()
	w, h := surf.Size()
	buf := make([]byte, w*h*4)
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			surf.ReadPixels(buf)
			if _, err := dst.Write(buf); err != nil {
				return
			}
		}
	}
}
