package recorder

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/satindergrewal/screenrec/internal/audio"
)

// stopTimeout bounds how long ffmpeg may take to flush after Stop.
const stopTimeout = 10 * time.Second

// codecEncoders maps codec names used in mime types to ffmpeg encoders.
var codecEncoders = map[string]string{
	"vp8":    "libvpx",
	"vp9":    "libvpx-vp9",
	"opus":   "libopus",
	"vorbis": "libvorbis",
}

var videoCodecs = map[string]bool{"vp8": true, "vp9": true}

// fallback encoders when the mime type names no codecs, in order of preference
var (
	defaultVideoEncoders = []string{"libvpx", "libvpx-vp9"}
	defaultAudioEncoders = []string{"libopus", "libvorbis"}
)

// FFmpegEngine records to WebM by piping raw frames through ffmpeg.
type FFmpegEngine struct {
	path string
	log  zerolog.Logger

	probe    func() (string, error)
	once     sync.Once
	encoders map[string]bool
	probeErr error
}

// NewFFmpegEngine creates an engine running the ffmpeg binary at path.
func NewFFmpegEngine(path string, logger zerolog.Logger) *FFmpegEngine {
	if path == "" {
		path = "ffmpeg"
	}
	e := &FFmpegEngine{
		path: path,
		log:  logger.With().Str("context", "recorder").Logger(),
	}
	e.probe = func() (string, error) {
		out, err := exec.Command(e.path, "-hide_banner", "-encoders").Output()
		return string(out), err
	}
	return e
}

// Encoders returns the encoders ffmpeg reports. The probe runs once.
func (e *FFmpegEngine) Encoders() (map[string]bool, error) {
	e.once.Do(func() {
		out, err := e.probe()
		if err != nil {
			e.probeErr = fmt.Errorf("probe ffmpeg encoders: %w", err)
			e.log.Warn().Err(err).Msg("encoder_probe_failed")
			return
		}
		e.encoders = parseEncoders(out)
		e.log.Debug().Int("count", len(e.encoders)).Msg("encoders_probed")
	})
	return e.encoders, e.probeErr
}

// parseEncoders reads the name column of `ffmpeg -encoders` output.
func parseEncoders(out string) map[string]bool {
	encoders := make(map[string]bool)
	listing := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "---") {
			listing = true
			continue
		}
		if !listing {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			encoders[fields[1]] = true
		}
	}
	return encoders
}

// resolve picks the video and audio encoders for mimeType.
func (e *FFmpegEngine) resolve(mimeType string) (videoEnc, audioEnc string, err error) {
	container, codecs, err := ParseMimeType(mimeType)
	if err != nil {
		return "", "", err
	}
	if container != "video/webm" {
		return "", "", fmt.Errorf("%w: container %s", ErrUnsupported, container)
	}
	available, err := e.Encoders()
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	for _, c := range codecs {
		enc, ok := codecEncoders[c]
		if !ok || !available[enc] {
			return "", "", fmt.Errorf("%w: codec %s", ErrUnsupported, c)
		}
		if videoCodecs[c] {
			videoEnc = enc
		} else {
			audioEnc = enc
		}
	}
	if videoEnc == "" {
		videoEnc = firstAvailable(defaultVideoEncoders, available)
	}
	if audioEnc == "" {
		audioEnc = firstAvailable(defaultAudioEncoders, available)
	}
	if videoEnc == "" {
		return "", "", fmt.Errorf("%w: no webm video encoder", ErrUnsupported)
	}
	return videoEnc, audioEnc, nil
}

func firstAvailable(candidates []string, available map[string]bool) string {
	for _, c := range candidates {
		if available[c] {
			return c
		}
	}
	return ""
}

// IsTypeSupported reports whether ffmpeg can produce mimeType.
func (e *FFmpegEngine) IsTypeSupported(mimeType string) bool {
	_, _, err := e.resolve(mimeType)
	return err == nil
}

// NewRecorder creates an inactive recorder.
func (e *FFmpegEngine) NewRecorder(opts Options, h Handlers) (Recorder, error) {
	videoEnc, audioEnc, err := e.resolve(opts.MimeType)
	if err != nil {
		return nil, err
	}
	return &ffmpegRecorder{
		path:     e.path,
		log:      e.log,
		opts:     opts,
		videoEnc: videoEnc,
		audioEnc: audioEnc,
		h:        h,
		state:    Inactive,
		stopCh:   make(chan struct{}),
		exited:   make(chan struct{}),
	}, nil
}

type ffmpegRecorder struct {
	path     string
	log      zerolog.Logger
	opts     Options
	videoEnc string
	audioEnc string
	h        Handlers

	mu       sync.Mutex
	state    State
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	exited   chan struct{}
	cmd      *exec.Cmd
}

func (r *ffmpegRecorder) MimeType() string { return r.opts.MimeType }

func (r *ffmpegRecorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// encodeArgs builds the ffmpeg command line: raw RGBA on stdin, optional
// s16le PCM on fd 3, WebM on stdout.
func encodeArgs(videoEnc, audioEnc string, w, h, fps, bitrate int, withAudio bool) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-framerate", strconv.Itoa(fps),
		"-i", "pipe:0",
	}
	if withAudio {
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(audio.SampleRate),
			"-ac", strconv.Itoa(audio.Channels),
			"-i", "pipe:3",
		)
	}
	args = append(args, "-map", "0:v")
	if withAudio {
		args = append(args, "-map", "1:a")
	}

	args = append(args,
		"-c:v", videoEnc,
		"-b:v", strconv.Itoa(bitrate),
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-pix_fmt", "yuv420p",
	)
	if videoEnc == "libvpx-vp9" {
		args = append(args, "-row-mt", "1")
	}
	if withAudio {
		args = append(args, "-c:a", audioEnc, "-b:a", "128k")
	}
	return append(args, "-f", "webm", "pipe:1")
}

func (r *ffmpegRecorder) Start(s Stream, timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("%w: already started", ErrInvalidState)
	}
	if s.Video == nil {
		return fmt.Errorf("start recorder: no video surface")
	}
	fps := s.FrameRate
	if fps <= 0 {
		fps = 30
	}
	if timeslice <= 0 {
		timeslice = time.Second
	}
	bitrate := r.opts.VideoBitsPerSecond
	if bitrate <= 0 {
		bitrate = 5_000_000
	}
	withAudio := s.Audio != nil && r.audioEnc != ""
	w, h := s.Video.Size()

	cmd := exec.Command(r.path, encodeArgs(r.videoEnc, r.audioEnc, w, h, fps, bitrate, withAudio)...)
	cmd.Stderr = &stderrLog{log: r.log}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("recorder stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("recorder stdout pipe: %w", err)
	}
	var audioR, audioW *os.File
	if withAudio {
		audioR, audioW, err = os.Pipe()
		if err != nil {
			return fmt.Errorf("recorder audio pipe: %w", err)
		}
		cmd.ExtraFiles = []*os.File{audioR}
	}
	if err := cmd.Start(); err != nil {
		if withAudio {
			audioR.Close()
			audioW.Close()
		}
		return fmt.Errorf("start ffmpeg encoder: %w", err)
	}
	if withAudio {
		audioR.Close()
		go r.feedAudio(audioW, s.Audio)
	}

	r.cmd = cmd
	r.started = true
	r.state = Recording
	r.log.Info().Str("mime", r.opts.MimeType).Str("video", r.videoEnc).Str("audio", r.audioEnc).
		Bool("with_audio", withAudio).Int("fps", fps).Int("bitrate", bitrate).Msg("recorder_started")

	go r.feedVideo(stdin, s.Video, w*h*4, fps)
	go r.collect(stdout, timeslice)
	return nil
}

func (r *ffmpegRecorder) paused() bool {
	return r.State() == Paused
}

func (r *ffmpegRecorder) feedVideo(w io.WriteCloser, surface Surface, frameBytes, fps int) {
	defer w.Close()
	buf := make([]byte, frameBytes)
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
		}
		if r.paused() {
			continue
		}
		surface.ReadPixels(buf)
		if _, err := w.Write(buf); err != nil {
			r.log.Error().Err(err).Msg("video_write_failed")
			return
		}
	}
}

func (r *ffmpegRecorder) feedAudio(w io.WriteCloser, frames <-chan []int16) {
	defer w.Close()
	for {
		select {
		case <-r.stopCh:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if r.paused() {
				continue
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				r.log.Error().Err(err).Msg("audio_write_failed")
				return
			}
		}
	}
}

func (r *ffmpegRecorder) collect(stdout io.Reader, timeslice time.Duration) {
	defer close(r.exited)

	chunks := 0
	err := pumpChunks(stdout, timeslice, func(chunk []byte) {
		if len(chunk) == 0 {
			r.log.Trace().Msg("empty_chunk_skipped")
			return
		}
		chunks++
		if r.h.OnData != nil {
			r.h.OnData(chunk)
		}
	})
	if waitErr := r.cmd.Wait(); err == nil {
		err = waitErr
	}

	r.mu.Lock()
	r.state = Inactive
	r.mu.Unlock()
	// unblock the feeders if ffmpeg died on its own
	r.stopOnce.Do(func() { close(r.stopCh) })

	r.log.Info().Int("chunks", chunks).AnErr("exit", err).Msg("recorder_stopped")
	if r.h.OnStop != nil {
		r.h.OnStop(err)
	}
}

func (r *ffmpegRecorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Recording {
		return fmt.Errorf("%w: pause while %s", ErrInvalidState, r.state)
	}
	r.state = Paused
	return nil
}

func (r *ffmpegRecorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Paused {
		return fmt.Errorf("%w: resume while %s", ErrInvalidState, r.state)
	}
	r.state = Recording
	return nil
}

// Stop closes the inputs so ffmpeg flushes the file and exits. OnStop fires
// once the last chunk has been delivered.
func (r *ffmpegRecorder) Stop() error {
	r.mu.Lock()
	if r.state == Inactive {
		r.mu.Unlock()
		return fmt.Errorf("%w: stop while inactive", ErrInvalidState)
	}
	r.state = Inactive
	cmd := r.cmd
	r.mu.Unlock()

	r.stopOnce.Do(func() { close(r.stopCh) })

	go func() {
		select {
		case <-r.exited:
		case <-time.After(stopTimeout):
			r.log.Warn().Msg("encoder_flush_timeout")
			cmd.Process.Kill()
		}
	}()
	return nil
}

// stderrLog forwards ffmpeg diagnostics to the logger.
type stderrLog struct {
	log zerolog.Logger
}

func (s *stderrLog) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		s.log.Warn().Str("stderr", msg).Msg("ffmpeg_output")
	}
	return len(p), nil
}
