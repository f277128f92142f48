package library

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned for an unknown recording ID.
var ErrNotFound = errors.New("recording not found")

// Artifact is a finished recording as handed over by the capture session.
type Artifact struct {
	Data      []byte
	MimeType  string
	Timestamp time.Time
	Duration  time.Duration
	Size      int
}

// Recording describes a stored artifact. The bytes are served separately.
type Recording struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Duration  string    `json:"duration"`
	Seconds   int       `json:"seconds"`
	Size      int       `json:"size"`
	SizeText  string    `json:"sizeText"`
	MimeType  string    `json:"mimeType"`
	Filename  string    `json:"filename"`
}

type entry struct {
	rec  Recording
	data []byte
}

// Library keeps finished recordings in memory, newest first.
// Nothing survives a restart.
type Library struct {
	mu      sync.RWMutex
	entries []entry
	log     zerolog.Logger
}

// New creates an empty library.
func New(logger zerolog.Logger) *Library {
	return &Library{log: logger.With().Str("context", "library").Logger()}
}

// Deliver stores an artifact and returns its summary.
func (l *Library) Deliver(a Artifact) Recording {
	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	mime := a.MimeType
	if mime == "" {
		mime = "video/webm"
	}
	secs := int(a.Duration / time.Second)
	rec := Recording{
		ID:        uuid.NewString(),
		Name:      "Recording - " + ts.Format("2006-01-02 15:04:05"),
		Timestamp: ts,
		Duration:  FormatDuration(secs),
		Seconds:   secs,
		Size:      a.Size,
		SizeText:  FormatBytes(int64(a.Size)),
		MimeType:  mime,
		Filename:  fmt.Sprintf("demo-recording-%d.webm", ts.UnixMilli()),
	}

	l.mu.Lock()
	l.entries = append([]entry{{rec: rec, data: a.Data}}, l.entries...)
	count := len(l.entries)
	l.mu.Unlock()

	l.log.Info().Str("id", rec.ID).Str("duration", rec.Duration).Str("size", rec.SizeText).Int("count", count).Msg("recording_stored")
	return rec
}

// List returns all recordings, newest first.
func (l *Library) List() []Recording {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Recording, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.rec
	}
	return out
}

// Get returns the summary for id.
func (l *Library) Get(id string) (Recording, error) {
	rec, _, err := l.Open(id)
	return rec, err
}

// Open returns the summary and bytes for id.
func (l *Library) Open(id string) (Recording, []byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.rec.ID == id {
			return e.rec, e.data, nil
		}
	}
	return Recording{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Remove drops a recording and releases its bytes.
func (l *Library) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.rec.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Len returns the number of stored recordings.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
