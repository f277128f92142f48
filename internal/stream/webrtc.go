package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/screenrec/internal/audio"
	"github.com/satindergrewal/screenrec/internal/fanout"
)

const opusBitrate = 128000

// WebRTCHandler negotiates low-latency preview peers. Each peer receives the
// surface as VP8 and the mixed session audio as Opus.
type WebRTCHandler struct {
	ffmpeg  string
	surf    Surface
	fps     int
	pcm     *fanout.Broadcaster[[]int16]
	origins []string
	log     zerolog.Logger

	mu    sync.Mutex
	peers []*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC preview handler. pcm may be nil for a
// video-only preview.
func NewWebRTCHandler(ffmpeg string, surf Surface, fps int, pcm *fanout.Broadcaster[[]int16], origins []string, logger zerolog.Logger) *WebRTCHandler {
	if fps <= 0 {
		fps = 15
	}
	return &WebRTCHandler{
		ffmpeg:  ffmpeg,
		surf:    surf,
		fps:     fps,
		pcm:     pcm,
		origins: origins,
		log:     logger.With().Str("context", "webrtc").Logger(),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) cors(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && slices.Contains(h.origins, origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.cors(w, r)
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		h.log.Error().Err(err).Msg("peer_connection_failed")
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		"screenrec-preview",
	)
	if err != nil {
		pc.Close()
		http.Error(w, "create video track failed", http.StatusInternalServerError)
		return
	}
	if _, err := pc.AddTrack(videoTrack); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	var audioTrack *webrtc.TrackLocalStaticSample
	if h.pcm != nil {
		audioTrack, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio",
			"screenrec-preview",
		)
		if err != nil {
			pc.Close()
			http.Error(w, "create audio track failed", http.StatusInternalServerError)
			return
		}
		if _, err := pc.AddTrack(audioTrack); err != nil {
			pc.Close()
			http.Error(w, "add track failed", http.StatusInternalServerError)
			return
		}
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}

	<-webrtc.GatheringCompletePromise(pc)

	h.mu.Lock()
	h.peers = append(h.peers, pc)
	h.mu.Unlock()

	h.log.Info().Int("peers", h.PeerCount()).Msg("peer_connected")

	ctx, cancel := context.WithCancel(context.Background())
	go h.streamVideo(ctx, videoTrack)
	if audioTrack != nil {
		go h.streamAudio(ctx, audioTrack)
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			cancel()
			if h.removePeer(pc) {
				pc.Close()
				h.log.Info().Int("peers", h.PeerCount()).Msg("peer_disconnected")
			}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func vp8Args(w, h, fps int) []string {
	return append(rawInputArgs(w, h, fps),
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "2M",
		"-g", "30",
		"-pix_fmt", "yuv420p",
		"-f", "ivf",
		"pipe:1",
	)
}

func (h *WebRTCHandler) streamVideo(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	w, ht := h.surf.Size()
	cmd := exec.CommandContext(ctx, h.ffmpeg, vp8Args(w, ht, h.fps)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Error().Err(err).Msg("stdin_pipe_failed")
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Error().Err(err).Msg("stdout_pipe_failed")
		return
	}
	if err := cmd.Start(); err != nil {
		h.log.Error().Err(err).Msg("ffmpeg_start_failed")
		return
	}
	defer cmd.Wait()

	go feedSurface(ctx, stdin, h.surf, h.fps)

	if err := writeIVF(stdout, track, time.Second/time.Duration(h.fps)); err != nil && ctx.Err() == nil {
		h.log.Warn().Err(err).Msg("video_stream_ended")
	}
}

// writeIVF forwards every IVF frame in r to the track.
func writeIVF(r io.Reader, track *webrtc.TrackLocalStaticSample, frameDuration time.Duration) error {
	ivf, _, err := ivfreader.NewWith(r)
	if err != nil {
		return err
	}
	for {
		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}
	}
}

func (h *WebRTCHandler) streamAudio(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	listener := h.pcm.Subscribe()
	defer h.pcm.Unsubscribe(listener)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		h.log.Error().Err(err).Msg("opus_encoder_failed")
		return
	}
	enc.SetBitrate(opusBitrate)

	opusBuf := make([]byte, 4000)

	for {
		select {
		case <-ctx.Done():
			return
		case <-listener.Done():
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, opusBuf)
			if err != nil {
				h.log.Debug().Err(err).Msg("opus_encode_failed")
				continue
			}
			if err := track.WriteSample(media.Sample{
				Data:     opusBuf[:n],
				Duration: audio.FrameDuration,
			}); err != nil {
				return
			}
		}
	}
}

func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.peers {
		if p == pc {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			return true
		}
	}
	return false
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = nil
	h.mu.Unlock()
	for _, pc := range peers {
		pc.Close()
	}
}
