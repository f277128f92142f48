package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/satindergrewal/screenrec/internal/audio"
	"github.com/satindergrewal/screenrec/internal/compositor"
	"github.com/satindergrewal/screenrec/internal/fanout"
	"github.com/satindergrewal/screenrec/internal/library"
	"github.com/satindergrewal/screenrec/internal/media"
	"github.com/satindergrewal/screenrec/internal/overlay"
	"github.com/satindergrewal/screenrec/internal/recorder"
)

var (
	// ErrBusy is returned by Start when a session is already active.
	ErrBusy = errors.New("capture session already active")
	// ErrInvalidTransition is returned for pause/resume/stop in the wrong state.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrScreenUnavailable is returned when the required screen source fails.
	ErrScreenUnavailable = errors.New("screen capture unavailable")
	// ErrRecorderFailed is returned when the recorder cannot be created or started.
	ErrRecorderFailed = errors.New("recorder failed")
)

// Sink receives the finished recording.
type Sink interface {
	Deliver(a library.Artifact) library.Recording
}

// Options tune capture and timing.
type Options struct {
	ScreenWidth, ScreenHeight int
	WebcamWidth, WebcamHeight int
	FrameRate                 int // capture stream rate
	RefreshRate               int // compositor ticks per second
	VideoBitrate              int
	Timeslice                 time.Duration
	ReadyTimeout              time.Duration
	StartDelay                time.Duration // after sources are ready, before drawing
	SettleDelay               time.Duration // after drawing starts, before recording
	TimerInterval             time.Duration
}

// DefaultOptions returns the stock capture settings.
func DefaultOptions() Options {
	return Options{
		ScreenWidth:   1920,
		ScreenHeight:  1080,
		WebcamWidth:   1280,
		WebcamHeight:  720,
		FrameRate:     30,
		RefreshRate:   60,
		VideoBitrate:  5_000_000,
		Timeslice:     time.Second,
		ReadyTimeout:  10 * time.Second,
		StartDelay:    100 * time.Millisecond,
		SettleDelay:   200 * time.Millisecond,
		TimerInterval: time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ScreenWidth <= 0 || o.ScreenHeight <= 0 {
		o.ScreenWidth, o.ScreenHeight = d.ScreenWidth, d.ScreenHeight
	}
	if o.WebcamWidth <= 0 || o.WebcamHeight <= 0 {
		o.WebcamWidth, o.WebcamHeight = d.WebcamWidth, d.WebcamHeight
	}
	if o.FrameRate <= 0 {
		o.FrameRate = d.FrameRate
	}
	if o.RefreshRate <= 0 {
		o.RefreshRate = d.RefreshRate
	}
	if o.VideoBitrate <= 0 {
		o.VideoBitrate = d.VideoBitrate
	}
	if o.Timeslice <= 0 {
		o.Timeslice = d.Timeslice
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = d.ReadyTimeout
	}
	if o.TimerInterval <= 0 {
		o.TimerInterval = d.TimerInterval
	}
	return o
}

// run holds everything owned by one start..idle cycle.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	idle   chan struct{}

	screen, webcam, mic *media.Stream
	rec                 recorder.Recorder
	mimeType            string
	recListener         *fanout.Listener[[]int16]
	drawDone            chan struct{}

	chunks        [][]byte
	recorderEnded bool
	finalizeOnce  sync.Once
}

// Session sequences source acquisition, compositing and recording.
// At most one run is active at a time.
type Session struct {
	acq   media.Acquirer
	eng   recorder.Engine
	sink  Sink
	store *overlay.Store
	comp  *compositor.Compositor
	opts  Options
	log   zerolog.Logger
	clock func() time.Time

	events *fanout.Broadcaster[Event]
	audio  *fanout.Broadcaster[[]int16]

	mu          sync.Mutex
	state       State
	status      string
	cur         *run
	startedAt   time.Time
	stoppedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
}

// New creates an idle session.
func New(acq media.Acquirer, eng recorder.Engine, sink Sink, store *overlay.Store, comp *compositor.Compositor, opts Options, logger zerolog.Logger) *Session {
	return &Session{
		acq:    acq,
		eng:    eng,
		sink:   sink,
		store:  store,
		comp:   comp,
		opts:   opts.withDefaults(),
		log:    logger.With().Str("context", "session").Logger(),
		clock:  time.Now,
		events: fanout.NewBroadcaster[Event](64),
		audio:  fanout.NewBroadcaster[[]int16](fanout.DefaultBuffer),
		state:  Idle,
		status: StatusReady,
	}
}

// Events returns the broadcaster of session events.
func (s *Session) Events() *fanout.Broadcaster[Event] { return s.events }

// Audio returns the broadcaster of mixed PCM for the active session.
func (s *Session) Audio() *fanout.Broadcaster[[]int16] { return s.audio }

// Compositor returns the surface being recorded.
func (s *Session) Compositor() *compositor.Compositor { return s.comp }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot for display.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := s.elapsedLocked(s.clock())
	st := Status{
		State:   s.state,
		Status:  s.status,
		Elapsed: library.FormatElapsed(elapsed),
		Seconds: int(elapsed / time.Second),
	}
	if r := s.cur; r != nil {
		st.MimeType = r.mimeType
		st.Webcam = r.webcam != nil
		st.Microphone = r.mic != nil && r.mic.Audio() != nil
		st.SystemAudio = r.screen != nil && r.screen.Audio() != nil
		st.Chunks = len(r.chunks)
	}
	return st
}

// elapsedLocked is the recorded time so far, excluding paused spans.
func (s *Session) elapsedLocked(now time.Time) time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	end := now
	if !s.stoppedAt.IsZero() {
		end = s.stoppedAt
	}
	paused := s.pausedTotal
	if s.state == Paused {
		paused += end.Sub(s.pausedAt)
	}
	if d := end.Sub(s.startedAt) - paused; d > 0 {
		return d
	}
	return 0
}

func (s *Session) emit(e Event) {
	e.Time = s.clock()
	s.events.Publish(e)
}

func (s *Session) emitStatus() {
	s.mu.Lock()
	e := Event{Type: EventStatus, State: s.state, Status: s.status, Elapsed: library.FormatElapsed(s.elapsedLocked(s.clock()))}
	s.mu.Unlock()
	s.emit(e)
}

// Start acquires sources and begins recording. It returns once the recorder
// is running or the start has failed and the session is idle again.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrBusy
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{ctx: runCtx, cancel: cancel, idle: make(chan struct{})}
	s.cur = r
	s.state = Starting
	s.status = StatusRequesting
	s.startedAt, s.stoppedAt, s.pausedAt = time.Time{}, time.Time{}, time.Time{}
	s.pausedTotal = 0
	s.mu.Unlock()
	s.emitStatus()

	settings := s.store.Snapshot()

	screen, err := s.acq.AcquireScreen(ctx, media.ScreenConstraints{
		VideoConstraints: media.VideoConstraints{Width: s.opts.ScreenWidth, Height: s.opts.ScreenHeight, FrameRate: s.opts.FrameRate},
		Cursor:           true,
		Audio:            settings.SystemAudio,
	})
	if err != nil {
		return s.abort(r, fmt.Errorf("%w: %v", ErrScreenUnavailable, err))
	}
	s.setSource(func() { r.screen = screen })

	webcam, err := s.acq.AcquireWebcam(ctx, media.VideoConstraints{Width: s.opts.WebcamWidth, Height: s.opts.WebcamHeight, FrameRate: s.opts.FrameRate})
	if err != nil {
		s.log.Warn().Err(err).Msg("webcam_unavailable")
		s.store.DisableWebcam()
	} else {
		s.setSource(func() { r.webcam = webcam })
	}

	if settings.MicAudio {
		mic, err := s.acq.AcquireMicrophone(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("microphone_unavailable")
		} else {
			s.setSource(func() { r.mic = mic })
		}
	}

	if err := s.waitReady(ctx, screen.Video()); err != nil {
		return s.abort(r, fmt.Errorf("%w: %v", ErrScreenUnavailable, err))
	}
	if webcam != nil {
		if err := s.waitReady(ctx, webcam.Video()); err != nil {
			s.log.Warn().Err(err).Msg("webcam_not_ready")
			webcam.Stop()
			s.setSource(func() { r.webcam = nil })
			s.store.DisableWebcam()
		}
	}

	if err := sleepCtx(ctx, s.opts.StartDelay); err != nil {
		return s.abort(r, err)
	}

	src := compositor.Sources{Screen: screen.Video()}
	if r.webcam != nil {
		src.Webcam = r.webcam.Video()
	}
	r.drawDone = make(chan struct{})
	go func() {
		defer close(r.drawDone)
		s.comp.Run(r.ctx, time.Second/time.Duration(s.opts.RefreshRate), src, s.store.Snapshot)
	}()

	if err := sleepCtx(ctx, s.opts.SettleDelay); err != nil {
		return s.abort(r, err)
	}

	audioCh := s.startAudio(r, s.store.Snapshot())

	mimeType := recorder.ChooseMimeType(s.eng)
	rec, err := s.eng.NewRecorder(recorder.Options{
		MimeType:           mimeType,
		VideoBitsPerSecond: s.opts.VideoBitrate,
	}, recorder.Handlers{
		OnData: func(chunk []byte) { s.onData(r, chunk) },
		OnStop: func(err error) { s.onStop(r, err) },
	})
	if err != nil {
		return s.abort(r, fmt.Errorf("%w: %v", ErrRecorderFailed, err))
	}
	s.setSource(func() {
		r.rec = rec
		r.mimeType = mimeType
	})

	if err := rec.Start(recorder.Stream{Video: s.comp, FrameRate: s.opts.FrameRate, Audio: audioCh}, s.opts.Timeslice); err != nil {
		return s.abort(r, fmt.Errorf("%w: %v", ErrRecorderFailed, err))
	}

	s.mu.Lock()
	if r.recorderEnded {
		s.mu.Unlock()
		return s.abort(r, fmt.Errorf("%w: encoder exited during start", ErrRecorderFailed))
	}
	s.state = Recording
	s.status = StatusRecording
	s.startedAt = s.clock()
	s.mu.Unlock()

	s.log.Info().Str("mime", mimeType).Bool("webcam", r.webcam != nil).Bool("audio", audioCh != nil).Msg("recording_started")
	s.emitStatus()

	go s.runTimer(r)
	go s.watchScreen(r, screen.Video())
	return nil
}

func (s *Session) setSource(fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
}

func (s *Session) waitReady(ctx context.Context, t *media.Track) error {
	if t == nil {
		return media.ErrEnded
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.ReadyTimeout)
	defer cancel()
	return t.WaitReady(ctx)
}

// startAudio mixes the enabled audio tracks and returns the recorder's feed,
// or nil when no audio is captured.
func (s *Session) startAudio(r *run, settings overlay.Settings) <-chan []int16 {
	var inputs []<-chan []int16
	subscribe := func(t *media.Track) {
		l := t.SubscribeAudio()
		if l == nil {
			return
		}
		inputs = append(inputs, l.C)
		go func() {
			<-r.ctx.Done()
			t.UnsubscribeAudio(l)
		}()
	}
	if settings.SystemAudio {
		if t := r.screen.Audio(); t != nil {
			subscribe(t)
		}
	}
	if settings.MicAudio && r.mic != nil {
		if t := r.mic.Audio(); t != nil {
			subscribe(t)
		}
	}
	if len(inputs) == 0 {
		return nil
	}

	mixer := audio.NewMixer(inputs...)
	go mixer.Run(r.ctx)
	l := s.audio.Subscribe()
	s.setSource(func() { r.recListener = l })
	go s.audio.Run(r.ctx, mixer.Frames())
	return l.C
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// abort undoes a failed start and returns err.
func (s *Session) abort(r *run, err error) error {
	s.log.Error().Err(err).Msg("start_failed")
	s.release(r)
	s.comp.Reset()

	s.mu.Lock()
	s.state = Idle
	s.status = StatusReady
	s.cur = nil
	s.startedAt = time.Time{}
	close(r.idle)
	s.mu.Unlock()

	s.emit(Event{Type: EventError, State: Idle, Error: StartFailedMessage})
	s.emitStatus()
	return err
}

// release stops every goroutine and source owned by r.
func (s *Session) release(r *run) {
	r.cancel()
	s.mu.Lock()
	streams := []*media.Stream{r.screen, r.webcam, r.mic}
	l := r.recListener
	s.mu.Unlock()

	for _, st := range streams {
		if st != nil {
			st.Stop()
		}
	}
	if l != nil {
		s.audio.Unsubscribe(l)
	}
	if r.drawDone != nil {
		<-r.drawDone
	}
}

func (s *Session) onData(r *run, chunk []byte) {
	if len(chunk) == 0 {
		s.log.Warn().Msg("empty_chunk_dropped")
		return
	}
	s.mu.Lock()
	if s.cur == r {
		r.chunks = append(r.chunks, chunk)
	}
	s.mu.Unlock()
}

func (s *Session) onStop(r *run, err error) {
	if err != nil {
		s.log.Warn().Err(err).Msg("recorder_exited_with_error")
	}
	s.mu.Lock()
	if s.cur != r || s.state == Starting {
		r.recorderEnded = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.finalize(r)
}

// finalize assembles the recording, hands it to the sink and returns to idle.
func (s *Session) finalize(r *run) {
	r.finalizeOnce.Do(func() {
		s.mu.Lock()
		if s.cur != r {
			s.mu.Unlock()
			return
		}
		now := s.clock()
		if s.stoppedAt.IsZero() {
			if s.state == Paused {
				s.pausedTotal += now.Sub(s.pausedAt)
			}
			s.stoppedAt = now
			s.state = Stopping
		}
		duration := s.elapsedLocked(now)
		data := bytes.Join(r.chunks, nil)
		mimeType := r.mimeType
		s.mu.Unlock()

		rec := s.sink.Deliver(library.Artifact{
			Data:      data,
			MimeType:  mimeType,
			Timestamp: now,
			Duration:  duration,
			Size:      len(data),
		})

		s.release(r)
		s.mu.Lock()
		r.chunks = nil
		s.mu.Unlock()
		s.comp.Reset()

		s.mu.Lock()
		s.state = Idle
		s.status = StatusReady
		s.cur = nil
		s.startedAt, s.stoppedAt, s.pausedAt = time.Time{}, time.Time{}, time.Time{}
		s.pausedTotal = 0
		close(r.idle)
		s.mu.Unlock()

		s.log.Info().Str("id", rec.ID).Str("duration", rec.Duration).Int("size", rec.Size).Msg("recording_finished")
		s.emit(Event{Type: EventRecording, State: Idle, Recording: &rec})
		s.emitStatus()
	})
}

// Pause suspends recording. Only valid while recording.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != Recording {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: pause while %s", ErrInvalidTransition, st)
	}
	if err := s.cur.rec.Pause(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	s.state = Paused
	s.status = StatusPaused
	s.pausedAt = s.clock()
	s.mu.Unlock()

	s.log.Info().Msg("recording_paused")
	s.emitStatus()
	return nil
}

// Resume continues a paused recording.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != Paused {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: resume while %s", ErrInvalidTransition, st)
	}
	if err := s.cur.rec.Resume(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	s.pausedTotal += s.clock().Sub(s.pausedAt)
	s.pausedAt = time.Time{}
	s.state = Recording
	s.status = StatusRecording
	s.mu.Unlock()

	s.log.Info().Msg("recording_resumed")
	s.emitStatus()
	return nil
}

// TogglePause pauses a recording session or resumes a paused one.
func (s *Session) TogglePause() error {
	if s.State() == Paused {
		return s.Resume()
	}
	return s.Pause()
}

// Stop ends the recording. The artifact reaches the sink once the recorder
// has flushed its last chunk; use WaitIdle to wait for that.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != Recording && s.state != Paused {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: stop while %s", ErrInvalidTransition, st)
	}
	now := s.clock()
	if s.state == Paused {
		s.pausedTotal += now.Sub(s.pausedAt)
	}
	s.stoppedAt = now
	s.state = Stopping
	r := s.cur
	s.mu.Unlock()

	s.log.Info().Msg("recording_stopping")
	if err := r.rec.Stop(); err != nil {
		s.log.Warn().Err(err).Msg("recorder_already_stopped")
		s.finalize(r)
	}
	return nil
}

// WaitIdle blocks until the current run, if any, is back to idle.
func (s *Session) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) runTimer(r *run) {
	ticker := time.NewTicker(s.opts.TimerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		if s.cur != r || s.state != Recording {
			s.mu.Unlock()
			continue
		}
		e := Event{Type: EventElapsed, State: s.state, Elapsed: library.FormatElapsed(s.elapsedLocked(s.clock()))}
		s.mu.Unlock()
		s.emit(e)
	}
}

// watchScreen stops the session when the screen track ends, e.g. when the
// shared display goes away.
func (s *Session) watchScreen(r *run, t *media.Track) {
	select {
	case <-r.ctx.Done():
	case <-t.Ended():
		if r.ctx.Err() != nil {
			return
		}
		s.log.Info().Msg("screen_track_ended")
		if err := s.Stop(); err != nil {
			s.log.Debug().Err(err).Msg("screen_end_stop_ignored")
		}
	}
}
