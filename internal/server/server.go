// Package server exposes the capture session over HTTP: control endpoints,
// settings, the recordings library and live previews.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/satindergrewal/screenrec/internal/library"
	"github.com/satindergrewal/screenrec/internal/overlay"
	"github.com/satindergrewal/screenrec/internal/session"
	"github.com/satindergrewal/screenrec/internal/stream"
)

// Options configures the preview endpoints and origin checks.
type Options struct {
	FFmpegPath       string
	PreviewFrameRate int
	AllowedOrigins   []string
}

// Server routes HTTP requests to the session, settings store and library.
type Server struct {
	base   context.Context
	sess   *session.Session
	store  *overlay.Store
	lib    *library.Library
	webrtc *stream.WebRTCHandler
	router *mux.Router
	log    zerolog.Logger
}

// New builds the router. Start requests run on base rather than the request
// context, so a client hanging up mid-start does not abort the session.
func New(base context.Context, sess *session.Session, store *overlay.Store, lib *library.Library, opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		base:  base,
		sess:  sess,
		store: store,
		lib:   lib,
		log:   logger.With().Str("context", "server").Logger(),
	}
	comp := sess.Compositor()
	s.webrtc = stream.NewWebRTCHandler(opts.FFmpegPath, comp, opts.PreviewFrameRate, sess.Audio(), opts.AllowedOrigins, logger)

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handlePatchSettings).Methods(http.MethodPost)
	api.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/pause", s.transition(sess.Pause)).Methods(http.MethodPost)
	api.HandleFunc("/resume", s.transition(sess.Resume)).Methods(http.MethodPost)
	api.HandleFunc("/toggle", s.transition(sess.TogglePause)).Methods(http.MethodPost)
	api.HandleFunc("/stop", s.transition(sess.Stop)).Methods(http.MethodPost)
	api.HandleFunc("/recordings", s.handleListRecordings).Methods(http.MethodGet)
	api.HandleFunc("/recordings/{id}", s.handleGetRecording).Methods(http.MethodGet)
	api.HandleFunc("/recordings/{id}", s.handleDeleteRecording).Methods(http.MethodDelete)
	api.HandleFunc("/recordings/{id}/play", s.handleServeRecording(false)).Methods(http.MethodGet)
	api.HandleFunc("/recordings/{id}/download", s.handleServeRecording(true)).Methods(http.MethodGet)
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)

	r.Handle("/preview.mjpeg", stream.NewMJPEGHandler(opts.FFmpegPath, comp, opts.PreviewFrameRate, logger)).Methods(http.MethodGet)
	r.Handle("/offer", s.webrtc).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/ws", stream.NewWSHandler(sess.Events(), func() any { return sess.Status() }, opts.AllowedOrigins, logger))

	r.Use(s.logRequests)
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Close hangs up live preview peers.
func (s *Server) Close() { s.webrtc.Close() }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Trace().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		next.ServeHTTP(w, r)
	})
}
