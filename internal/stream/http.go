package stream

import (
	"context"
	"io"
	"net/http"
	"os/exec"

	"github.com/rs/zerolog"
)

const mjpegBoundary = "frame"

// MJPEGHandler serves a live multipart JPEG preview of a surface.
// Each connection spawns an FFmpeg process encoding raw RGBA -> MJPEG.
type MJPEGHandler struct {
	ffmpeg string
	surf   Surface
	fps    int
	log    zerolog.Logger
}

// NewMJPEGHandler creates a preview handler sampling surf at fps.
func NewMJPEGHandler(ffmpeg string, surf Surface, fps int, logger zerolog.Logger) *MJPEGHandler {
	if fps <= 0 {
		fps = 15
	}
	return &MJPEGHandler{
		ffmpeg: ffmpeg,
		surf:   surf,
		fps:    fps,
		log:    logger.With().Str("context", "mjpeg").Logger(),
	}
}

func mjpegArgs(w, h, fps int) []string {
	return append(rawInputArgs(w, h, fps),
		"-q:v", "5",
		"-f", "mpjpeg",
		"-boundary_tag", mjpegBoundary,
		"-flush_packets", "1",
		"pipe:1",
	)
}

func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	width, height := h.surf.Size()
	cmd := exec.CommandContext(ctx, h.ffmpeg, mjpegArgs(width, height, h.fps)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Error().Err(err).Msg("stdin_pipe_failed")
		http.Error(w, "preview unavailable", http.StatusInternalServerError)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Error().Err(err).Msg("stdout_pipe_failed")
		http.Error(w, "preview unavailable", http.StatusInternalServerError)
		return
	}
	if err := cmd.Start(); err != nil {
		h.log.Error().Err(err).Msg("ffmpeg_start_failed")
		http.Error(w, "preview unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace;boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")

	h.log.Debug().Str("remote", r.RemoteAddr).Msg("preview_connected")
	defer h.log.Debug().Str("remote", r.RemoteAddr).Msg("preview_disconnected")

	go feedSurface(ctx, stdin, h.surf, h.fps)

	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				h.log.Warn().Err(err).Msg("ffmpeg_read_failed")
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}
