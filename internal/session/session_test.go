package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/satindergrewal/screenrec/internal/compositor"
	"github.com/satindergrewal/screenrec/internal/library"
	"github.com/satindergrewal/screenrec/internal/media"
	"github.com/satindergrewal/screenrec/internal/overlay"
	"github.com/satindergrewal/screenrec/internal/recorder"
)

// --- fakes ---

type fakeAcquirer struct {
	mu sync.Mutex

	screenErr, webcamErr, micErr error
	withSystemAudio              bool
	screenNeverReady             bool
	webcamNeverReady             bool

	screens, webcams, mics []*media.Stream
	micCalls, webcamCalls  int
}

func videoTrack(label string, ready bool) *media.Track {
	t := media.NewVideoTrack(label, nil)
	if ready {
		t.PublishFrame(image.NewRGBA(image.Rect(0, 0, 16, 9)))
	}
	return t
}

func audioTrack(label string) *media.Track {
	t := media.NewAudioTrack(label, nil)
	t.PublishAudio(make([]int16, 4))
	return t
}

func (f *fakeAcquirer) AcquireScreen(ctx context.Context, c media.ScreenConstraints) (*media.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.screenErr != nil {
		return nil, f.screenErr
	}
	tracks := []*media.Track{videoTrack("screen", !f.screenNeverReady)}
	if c.Audio && f.withSystemAudio {
		tracks = append(tracks, audioTrack("system-audio"))
	}
	s := media.NewStream(media.Screen, tracks...)
	f.screens = append(f.screens, s)
	return s, nil
}

func (f *fakeAcquirer) AcquireWebcam(ctx context.Context, c media.VideoConstraints) (*media.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webcamCalls++
	if f.webcamErr != nil {
		return nil, f.webcamErr
	}
	s := media.NewStream(media.Webcam, videoTrack("webcam", !f.webcamNeverReady))
	f.webcams = append(f.webcams, s)
	return s, nil
}

func (f *fakeAcquirer) AcquireMicrophone(ctx context.Context) (*media.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.micCalls++
	if f.micErr != nil {
		return nil, f.micErr
	}
	s := media.NewStream(media.Microphone, audioTrack("mic"))
	f.mics = append(f.mics, s)
	return s, nil
}

func (f *fakeAcquirer) all() []*media.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*media.Stream
	out = append(out, f.screens...)
	out = append(out, f.webcams...)
	return append(out, f.mics...)
}

type fakeEngine struct {
	mu           sync.Mutex
	noPreferred  bool
	newErr       error
	startErr     error
	chunks       [][]byte
	recorders    []*fakeRecorder
	lastMimeType string
}

func (e *fakeEngine) IsTypeSupported(mimeType string) bool {
	return !(e.noPreferred && mimeType == recorder.PreferredMimeType)
}

func (e *fakeEngine) NewRecorder(opts recorder.Options, h recorder.Handlers) (recorder.Recorder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.newErr != nil {
		return nil, e.newErr
	}
	chunks := e.chunks
	if chunks == nil {
		chunks = [][]byte{[]byte("chunk-1"), {}, []byte("chunk-2")}
	}
	r := &fakeRecorder{opts: opts, h: h, chunks: chunks, startErr: e.startErr, state: recorder.Inactive}
	e.recorders = append(e.recorders, r)
	e.lastMimeType = opts.MimeType
	return r, nil
}

func (e *fakeEngine) last() *fakeRecorder {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.recorders) == 0 {
		return nil
	}
	return e.recorders[len(e.recorders)-1]
}

type fakeRecorder struct {
	mu       sync.Mutex
	opts     recorder.Options
	h        recorder.Handlers
	chunks   [][]byte
	startErr error
	state    recorder.State
	stream   recorder.Stream
}

func (r *fakeRecorder) Start(s recorder.Stream, timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.stream = s
	r.state = recorder.Recording
	return nil
}

func (r *fakeRecorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != recorder.Recording {
		return recorder.ErrInvalidState
	}
	r.state = recorder.Paused
	return nil
}

func (r *fakeRecorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != recorder.Paused {
		return recorder.ErrInvalidState
	}
	r.state = recorder.Recording
	return nil
}

func (r *fakeRecorder) Stop() error {
	r.mu.Lock()
	if r.state == recorder.Inactive {
		r.mu.Unlock()
		return recorder.ErrInvalidState
	}
	r.state = recorder.Inactive
	r.mu.Unlock()
	go func() {
		for _, c := range r.chunks {
			r.h.OnData(c)
		}
		r.h.OnStop(nil)
	}()
	return nil
}

func (r *fakeRecorder) State() recorder.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *fakeRecorder) MimeType() string { return r.opts.MimeType }

func (r *fakeRecorder) audio() <-chan []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream.Audio
}

// --- harness ---

type harness struct {
	s     *Session
	acq   *fakeAcquirer
	eng   *fakeEngine
	lib   *library.Library
	store *overlay.Store
	comp  *compositor.Compositor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		acq:   &fakeAcquirer{withSystemAudio: true},
		eng:   &fakeEngine{},
		lib:   library.New(zerolog.Nop()),
		store: overlay.NewStore(overlay.DefaultSettings()),
		comp:  compositor.New(zerolog.Nop()),
	}
	h.s = New(h.acq, h.eng, h.lib, h.store, h.comp, Options{
		RefreshRate:   200,
		ReadyTimeout:  50 * time.Millisecond,
		StartDelay:    time.Millisecond,
		SettleDelay:   time.Millisecond,
		TimerInterval: time.Second,
	}, zerolog.Nop())
	t.Cleanup(func() {
		if h.s.State() == Recording || h.s.State() == Paused {
			h.s.Stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.s.WaitIdle(ctx)
	})
	return h
}

func (h *harness) stopAndWait(t *testing.T) {
	t.Helper()
	if err := h.s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.s.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func waitEvent(t *testing.T, ch <-chan Event, typ EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

// --- tests ---

func TestInitialState(t *testing.T) {
	h := newHarness(t)
	st := h.s.Status()
	if st.State != Idle || st.Status != StatusReady || st.Elapsed != "00:00" {
		t.Errorf("initial status = %+v", st)
	}
}

func TestTransitionsFromIdleAreNoops(t *testing.T) {
	h := newHarness(t)
	for name, fn := range map[string]func() error{
		"Pause":       h.s.Pause,
		"Resume":      h.s.Resume,
		"Stop":        h.s.Stop,
		"TogglePause": h.s.TogglePause,
	} {
		if err := fn(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s from idle = %v, want ErrInvalidTransition", name, err)
		}
		if h.s.State() != Idle {
			t.Errorf("%s changed state to %s", name, h.s.State())
		}
	}
	if h.lib.Len() != 0 {
		t.Error("no-op produced a recording")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t)
	events := h.s.Events().Subscribe()
	defer h.s.Events().Unsubscribe(events)

	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := h.s.Status()
	if st.State != Recording || st.Status != StatusRecording {
		t.Errorf("after Start status = %+v", st)
	}
	if !st.Webcam || !st.Microphone || !st.SystemAudio {
		t.Errorf("sources missing: %+v", st)
	}
	if st.MimeType != recorder.PreferredMimeType {
		t.Errorf("MimeType = %q, want preferred", st.MimeType)
	}
	if err := h.s.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start = %v, want ErrBusy", err)
	}

	r := func() *run { h.s.mu.Lock(); defer h.s.mu.Unlock(); return h.s.cur }()
	h.stopAndWait(t)

	if h.s.State() != Idle || h.s.Status().Status != StatusReady {
		t.Errorf("after stop status = %+v", h.s.Status())
	}
	for _, st := range h.acq.all() {
		if n := st.ActiveTracks(); n != 0 {
			t.Errorf("%s stream has %d live tracks after stop", st.Kind(), n)
		}
	}
	if len(r.chunks) != 0 {
		t.Errorf("chunks not cleared: %d", len(r.chunks))
	}

	recs := h.lib.List()
	if len(recs) != 1 {
		t.Fatalf("library has %d recordings, want 1", len(recs))
	}
	if recs[0].Size != len("chunk-1chunk-2") {
		t.Errorf("recording size = %d, want %d", recs[0].Size, len("chunk-1chunk-2"))
	}
	_, data, _ := h.lib.Open(recs[0].ID)
	if string(data) != "chunk-1chunk-2" {
		t.Errorf("recording data = %q", data)
	}
	if got := h.comp.Snapshot().RGBAAt(10, 10); got.R != 0 || got.G != 0 || got.B != 0 || got.A != 255 {
		t.Errorf("surface not reset to black: %v", got)
	}

	e := waitEvent(t, events.C, EventRecording)
	if e.Recording == nil || e.Recording.ID != recs[0].ID {
		t.Errorf("recording event = %+v", e)
	}

	// a new session can start again
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	h.stopAndWait(t)
	if h.lib.Len() != 2 {
		t.Errorf("library has %d recordings, want 2", h.lib.Len())
	}
}

func TestScreenFailureAbortsStart(t *testing.T) {
	h := newHarness(t)
	h.acq.screenErr = errors.New("permission denied")
	events := h.s.Events().Subscribe()
	defer h.s.Events().Unsubscribe(events)

	err := h.s.Start(context.Background())
	if !errors.Is(err, ErrScreenUnavailable) {
		t.Fatalf("Start = %v, want ErrScreenUnavailable", err)
	}
	if h.s.State() != Idle {
		t.Errorf("state = %s, want idle", h.s.State())
	}
	if h.acq.webcamCalls != 0 || h.acq.micCalls != 0 {
		t.Errorf("optional sources acquired after screen failure")
	}
	if h.eng.last() != nil {
		t.Error("recorder created after screen failure")
	}
	e := waitEvent(t, events.C, EventError)
	if e.Error != StartFailedMessage {
		t.Errorf("error event = %q", e.Error)
	}
}

func TestScreenNotReadyReleasesAllSources(t *testing.T) {
	h := newHarness(t)
	h.acq.screenNeverReady = true
	h.acq.withSystemAudio = true

	err := h.s.Start(context.Background())
	if !errors.Is(err, ErrScreenUnavailable) {
		t.Fatalf("Start = %v, want ErrScreenUnavailable", err)
	}
	if h.s.State() != Idle {
		t.Errorf("state = %s, want idle", h.s.State())
	}
	if h.acq.webcamCalls != 1 || h.acq.micCalls != 1 {
		t.Fatalf("webcam calls = %d, mic calls = %d, want both acquired before the screen wait", h.acq.webcamCalls, h.acq.micCalls)
	}
	all := h.acq.all()
	if len(all) != 3 {
		t.Fatalf("acquired %d streams, want 3", len(all))
	}
	for _, st := range all {
		if n := st.ActiveTracks(); n != 0 {
			t.Errorf("%s stream still has %d live tracks", st.Kind(), n)
		}
	}
	if h.eng.last() != nil {
		t.Error("recorder created without a ready screen")
	}
}

func TestWebcamFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.acq.webcamErr = errors.New("no camera")

	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.store.Snapshot().ShowWebcam {
		t.Error("ShowWebcam still true after webcam failure")
	}
	if h.s.Status().Webcam {
		t.Error("status reports a webcam")
	}
	if h.s.State() != Recording {
		t.Errorf("state = %s, want recording", h.s.State())
	}
	h.stopAndWait(t)
	if h.lib.Len() != 1 {
		t.Errorf("library has %d recordings, want 1", h.lib.Len())
	}
}

func TestWebcamNotReadyDegrades(t *testing.T) {
	h := newHarness(t)
	h.acq.webcamNeverReady = true

	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.store.Snapshot().ShowWebcam {
		t.Error("ShowWebcam still true after webcam timeout")
	}
	if n := h.acq.webcams[0].ActiveTracks(); n != 0 {
		t.Errorf("unready webcam still has %d live tracks", n)
	}
	h.stopAndWait(t)
}

func TestMicrophoneFailureSwallowed(t *testing.T) {
	h := newHarness(t)
	h.acq.micErr = errors.New("no mic")
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.s.Status().Microphone {
		t.Error("status reports a microphone")
	}
	h.stopAndWait(t)
}

func TestAudioWiring(t *testing.T) {
	h := newHarness(t)
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.eng.last().audio() == nil {
		t.Error("recorder has no audio with mic and system audio enabled")
	}
	h.stopAndWait(t)

	off := false
	if _, err := h.store.Update(overlay.Patch{MicAudio: &off, SystemAudio: &off}); err != nil {
		t.Fatal(err)
	}
	micCalls := h.acq.micCalls
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.acq.micCalls != micCalls {
		t.Error("microphone acquired with micAudio off")
	}
	if h.eng.last().audio() != nil {
		t.Error("recorder has audio with all audio disabled")
	}
	h.stopAndWait(t)
}

func TestMimeTypeFallback(t *testing.T) {
	h := newHarness(t)
	h.eng.noPreferred = true
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.eng.lastMimeType != recorder.FallbackMimeType {
		t.Errorf("mime = %q, want fallback", h.eng.lastMimeType)
	}
	if h.eng.last().opts.VideoBitsPerSecond != 5_000_000 {
		t.Errorf("bitrate = %d", h.eng.last().opts.VideoBitsPerSecond)
	}
	h.stopAndWait(t)
}

func TestRecorderStartFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.eng.startErr = errors.New("encoder missing")

	if err := h.s.Start(context.Background()); !errors.Is(err, ErrRecorderFailed) {
		t.Fatalf("Start = %v, want ErrRecorderFailed", err)
	}
	if h.s.State() != Idle {
		t.Errorf("state = %s, want idle", h.s.State())
	}
	for _, st := range h.acq.all() {
		if st.ActiveTracks() != 0 {
			t.Errorf("%s left running after failed start", st.Kind())
		}
	}
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.s.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resume while recording = %v", err)
	}

	if err := h.s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if st := h.s.Status(); st.State != Paused || st.Status != StatusPaused {
		t.Errorf("after Pause status = %+v", st)
	}
	if h.eng.last().State() != recorder.Paused {
		t.Error("recorder not paused")
	}
	if err := h.s.Pause(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Pause = %v", err)
	}

	if err := h.s.TogglePause(); err != nil {
		t.Fatalf("TogglePause: %v", err)
	}
	if st := h.s.Status(); st.State != Recording || st.Status != StatusRecording {
		t.Errorf("after toggle status = %+v", st)
	}

	if err := h.s.Pause(); err != nil {
		t.Fatal(err)
	}
	h.stopAndWait(t)
	if h.lib.Len() != 1 {
		t.Errorf("stop from paused produced %d recordings", h.lib.Len())
	}
}

func TestDurationExcludesPauses(t *testing.T) {
	h := newHarness(t)
	var (
		mu  sync.Mutex
		now = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	)
	h.s.clock = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	advance(5 * time.Second)
	h.s.Pause()
	advance(60 * time.Second)
	if got := h.s.Status().Elapsed; got != "00:05" {
		t.Errorf("elapsed while paused = %q, want frozen 00:05", got)
	}
	h.s.Resume()
	advance(5 * time.Second)
	h.stopAndWait(t)

	if got := h.lib.List()[0].Duration; got != "00:10" {
		t.Errorf("duration = %q, want 00:10", got)
	}
}

func TestScreenEndStopsSession(t *testing.T) {
	h := newHarness(t)
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.acq.screens[0].Video().Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.s.WaitIdle(ctx); err != nil {
		t.Fatalf("session did not stop after screen ended: %v", err)
	}
	if h.lib.Len() != 1 {
		t.Errorf("library has %d recordings, want 1", h.lib.Len())
	}
}

func TestRecorderEndingOnItsOwnFinalizes(t *testing.T) {
	h := newHarness(t)
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec := h.eng.last()
	rec.h.OnData([]byte("partial"))
	rec.h.OnStop(errors.New("encoder crashed"))

	if h.s.State() != Idle {
		t.Errorf("state = %s, want idle", h.s.State())
	}
	if recs := h.lib.List(); len(recs) != 1 || recs[0].Size != len("partial") {
		t.Errorf("recordings = %+v", recs)
	}
}

func TestElapsedEvents(t *testing.T) {
	h := newHarness(t)
	h.s.opts.TimerInterval = 10 * time.Millisecond
	events := h.s.Events().Subscribe()
	defer h.s.Events().Unsubscribe(events)

	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e := waitEvent(t, events.C, EventElapsed)
	if e.State != Recording || e.Elapsed == "" {
		t.Errorf("elapsed event = %+v", e)
	}
	h.stopAndWait(t)
}
