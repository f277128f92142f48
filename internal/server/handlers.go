package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gogpu/gg"
	"github.com/gorilla/mux"

	"github.com/satindergrewal/screenrec/internal/library"
	"github.com/satindergrewal/screenrec/internal/overlay"
	"github.com/satindergrewal/screenrec/internal/session"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, session.ErrScreenUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, overlay.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]any{"ok": false, "error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"session":      s.sess.Status(),
		"settings":     s.store.Snapshot(),
		"recordings":   s.lib.Len(),
		"frames":       s.sess.Compositor().Frames(),
		"webrtc_peers": s.webrtc.PeerCount(),
		"ws_clients":   s.sess.Events().ListenerCount(),
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var p overlay.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	settings, err := s.store.Update(p)
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.Debug().Interface("settings", settings).Msg("settings_updated")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "settings": settings})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Start(s.base); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": s.sess.Status()})
}

// transition wraps a session state change that takes no input.
func (s *Server) transition(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": s.sess.Status()})
	}
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lib.List())
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.lib.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.lib.Remove(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleServeRecording(attachment bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, data, err := s.lib.Open(mux.Vars(r)["id"])
		if err != nil {
			writeError(w, err)
			return
		}
		disposition := "inline"
		if attachment {
			disposition = "attachment"
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf(`%s; filename="%s"`, disposition, rec.Filename))
		w.Header().Set("Content-Type", rec.MimeType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	dc := gg.NewContextForImage(s.sess.Compositor().Snapshot())
	defer dc.Close()

	w.Header().Set("Cache-Control", "no-cache, no-store")
	if r.URL.Query().Get("format") == "jpeg" {
		w.Header().Set("Content-Type", "image/jpeg")
		dc.EncodeJPEG(w, 85)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := dc.EncodePNG(w); err != nil {
		s.log.Warn().Err(err).Msg("snapshot_encode_failed")
	}
}
