package media

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/satindergrewal/screenrec/internal/audio"
)

// DeviceConfig names the ffmpeg input formats and devices for each source.
type DeviceConfig struct {
	FFmpegPath string

	ScreenFormat string // x11grab, avfoundation, gdigrab
	ScreenDevice string
	WebcamFormat string // v4l2, avfoundation, dshow
	WebcamDevice string

	AudioFormat       string // pulse, alsa, avfoundation, dshow
	MicDevice         string
	SystemAudioDevice string // monitor source; empty disables system audio

	// Timeout bounds how long acquisition waits for the first frame.
	Timeout time.Duration
}

// cursorFlags maps input formats to their cursor capture option.
var cursorFlags = map[string]string{
	"x11grab":      "-draw_mouse",
	"gdigrab":      "-draw_mouse",
	"avfoundation": "-capture_cursor",
}

// FFmpegAcquirer captures devices by running one ffmpeg process per track.
// Video is read as raw RGBA frames, audio as 48kHz stereo s16le.
type FFmpegAcquirer struct {
	cfg DeviceConfig
	log zerolog.Logger
}

// NewFFmpegAcquirer creates an acquirer for the given devices.
func NewFFmpegAcquirer(cfg DeviceConfig, logger zerolog.Logger) *FFmpegAcquirer {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &FFmpegAcquirer{
		cfg: cfg,
		log: logger.With().Str("context", "capture").Logger(),
	}
}

// AcquireScreen starts screen capture and, when requested and configured,
// system audio capture. Failing system audio does not fail the screen.
func (a *FFmpegAcquirer) AcquireScreen(ctx context.Context, c ScreenConstraints) (*Stream, error) {
	if a.cfg.ScreenDevice == "" {
		return nil, fmt.Errorf("%w: no screen device configured", ErrUnavailable)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return nil, fmt.Errorf("screen: invalid frame size %dx%d", c.Width, c.Height)
	}
	video, err := a.startVideo("screen", screenArgs(a.cfg, c), rawFrames(c.Width, c.Height))
	if err != nil {
		return nil, err
	}
	if err := a.waitFirst(ctx, video); err != nil {
		video.Stop()
		return nil, fmt.Errorf("screen: %w", err)
	}

	tracks := []*Track{video}
	if c.Audio && a.cfg.SystemAudioDevice != "" {
		sys, err := a.startAudio("system-audio", a.cfg.SystemAudioDevice)
		if err == nil {
			err = a.waitFirst(ctx, sys)
			if err != nil {
				sys.Stop()
			}
		}
		if err != nil {
			a.log.Warn().Err(err).Msg("system_audio_unavailable")
		} else {
			tracks = append(tracks, sys)
		}
	}
	return NewStream(Screen, tracks...), nil
}

// AcquireWebcam starts webcam capture without audio. The device keeps its
// native resolution and aspect ratio; the constraints only bound the frame
// size.
func (a *FFmpegAcquirer) AcquireWebcam(ctx context.Context, c VideoConstraints) (*Stream, error) {
	if a.cfg.WebcamDevice == "" {
		return nil, fmt.Errorf("%w: no webcam device configured", ErrUnavailable)
	}
	video, err := a.startVideo("webcam", webcamArgs(a.cfg, c), readPAM)
	if err != nil {
		return nil, err
	}
	if err := a.waitFirst(ctx, video); err != nil {
		video.Stop()
		return nil, fmt.Errorf("webcam: %w", err)
	}
	w, h := video.FrameSize()
	a.log.Debug().Int("width", w).Int("height", h).Msg("webcam_frame_size")
	return NewStream(Webcam, video), nil
}

// AcquireMicrophone starts audio-only microphone capture.
func (a *FFmpegAcquirer) AcquireMicrophone(ctx context.Context) (*Stream, error) {
	if a.cfg.MicDevice == "" {
		return nil, fmt.Errorf("%w: no microphone configured", ErrUnavailable)
	}
	mic, err := a.startAudio("microphone", a.cfg.MicDevice)
	if err != nil {
		return nil, err
	}
	if err := a.waitFirst(ctx, mic); err != nil {
		mic.Stop()
		return nil, fmt.Errorf("microphone: %w", err)
	}
	return NewStream(Microphone, mic), nil
}

func (a *FFmpegAcquirer) waitFirst(ctx context.Context, t *Track) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	if err := t.WaitReady(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// startProcess launches ffmpeg with its stdout piped. The process lives until
// the returned cancel func is called or it exits on its own.
func (a *FFmpegAcquirer) startProcess(label string, args []string) (*exec.Cmd, io.ReadCloser, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, a.cfg.FFmpegPath, args...)
	cmd.Stderr = &stderrLog{log: a.log, label: label}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("%s stdout pipe: %w", label, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, label, err)
	}
	a.log.Debug().Str("source", label).Strs("args", args).Msg("capture_started")
	return cmd, stdout, cancel, nil
}

func (a *FFmpegAcquirer) startVideo(label string, args []string, read frameReader) (*Track, error) {
	cmd, stdout, cancel, err := a.startProcess(label, args)
	if err != nil {
		return nil, err
	}
	track := NewVideoTrack(label, cancel)

	go func() {
		defer track.end()
		frames := pumpFrames(bufio.NewReaderSize(stdout, 1<<16), read, track)
		err := cmd.Wait()
		a.log.Info().Str("source", label).Int("frames", frames).AnErr("exit", err).Msg("capture_ended")
	}()
	return track, nil
}

// pumpFrames publishes frames until read fails, reusing the buffer handed
// back by the track. It returns the number of frames published.
func pumpFrames(r *bufio.Reader, read frameReader, track *Track) int {
	var back *image.RGBA
	frames := 0
	for {
		img, err := read(r, back)
		if err != nil {
			return frames
		}
		frames++
		back = track.PublishFrame(img)
	}
}

func (a *FFmpegAcquirer) startAudio(label, device string) (*Track, error) {
	cmd, stdout, cancel, err := a.startProcess(label, audioArgs(a.cfg, device))
	if err != nil {
		return nil, err
	}
	track := NewAudioTrack(label, cancel)

	go func() {
		defer track.end()
		buf := make([]byte, audio.FrameBytes)
		for {
			frame, err := audio.ReadFrame(stdout, buf)
			if err != nil {
				break
			}
			track.PublishAudio(frame)
		}
		err := cmd.Wait()
		a.log.Info().Str("source", label).AnErr("exit", err).Msg("capture_ended")
	}()
	return track, nil
}

func baseArgs() []string {
	return []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
}

func rawVideoOut(w, h int) []string {
	return []string{
		"-vf", fmt.Sprintf("scale=%d:%d", w, h),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}
}

// pamVideoOut emits self-describing PAM frames. A positive bound shrinks
// larger frames to fit inside w x h without changing their aspect ratio.
func pamVideoOut(w, h int) []string {
	var out []string
	if w > 0 && h > 0 {
		out = append(out, "-vf", fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", w, h))
	}
	return append(out,
		"-f", "image2pipe",
		"-c:v", "pam",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
}

func screenArgs(cfg DeviceConfig, c ScreenConstraints) []string {
	args := append(baseArgs(), "-f", cfg.ScreenFormat)
	if flag, ok := cursorFlags[cfg.ScreenFormat]; ok {
		cursor := "0"
		if c.Cursor {
			cursor = "1"
		}
		args = append(args, flag, cursor)
	}
	if c.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(c.FrameRate))
	}
	args = append(args, "-i", cfg.ScreenDevice)
	return append(args, rawVideoOut(c.Width, c.Height)...)
}

func webcamArgs(cfg DeviceConfig, c VideoConstraints) []string {
	args := append(baseArgs(), "-f", cfg.WebcamFormat)
	if c.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(c.FrameRate))
	}
	args = append(args, "-i", cfg.WebcamDevice)
	return append(args, pamVideoOut(c.Width, c.Height)...)
}

func audioArgs(cfg DeviceConfig, device string) []string {
	return append(baseArgs(),
		"-f", cfg.AudioFormat,
		"-i", device,
		"-ac", strconv.Itoa(audio.Channels),
		"-ar", strconv.Itoa(audio.SampleRate),
		"-f", "s16le",
		"pipe:1",
	)
}

// stderrLog forwards ffmpeg diagnostics to the logger.
type stderrLog struct {
	log   zerolog.Logger
	label string
}

func (s *stderrLog) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		s.log.Debug().Str("source", s.label).Str("stderr", msg).Msg("ffmpeg_output")
	}
	return len(p), nil
}
