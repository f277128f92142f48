package library

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "00:00"},
		{5, "00:05"},
		{65, "01:05"},
		{600, "10:00"},
		{3661, "61:01"},
		{-3, "00:00"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatElapsedTruncates(t *testing.T) {
	if got := FormatElapsed(65*time.Second + 999*time.Millisecond); got != "01:05" {
		t.Errorf("FormatElapsed = %q, want 01:05", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 Bytes"},
		{1, "1 Bytes"},
		{1023, "1023 Bytes"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1048576, "1 MB"},
		{1572864, "1.5 MB"},
		{1073741824, "1 GB"},
		{1234567, "1.18 MB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeliverNewestFirst(t *testing.T) {
	lib := New(zerolog.Nop())

	first := lib.Deliver(Artifact{Data: []byte("a"), Size: 1, Duration: 3 * time.Second, Timestamp: time.Unix(100, 0)})
	second := lib.Deliver(Artifact{Data: []byte("bb"), Size: 2, Duration: 65 * time.Second, Timestamp: time.Unix(200, 0)})

	list := lib.List()
	if len(list) != 2 {
		t.Fatalf("List len = %d, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("List order = [%s %s], want newest first", list[0].ID, list[1].ID)
	}
	if second.Duration != "01:05" {
		t.Errorf("Duration = %q, want 01:05", second.Duration)
	}
	if second.Filename != "demo-recording-200000.webm" {
		t.Errorf("Filename = %q", second.Filename)
	}
	if !strings.HasPrefix(second.Name, "Recording - ") {
		t.Errorf("Name = %q", second.Name)
	}
	if second.MimeType != "video/webm" {
		t.Errorf("MimeType = %q, want video/webm default", second.MimeType)
	}
}

func TestOpenAndRemove(t *testing.T) {
	lib := New(zerolog.Nop())
	rec := lib.Deliver(Artifact{Data: []byte("webm"), Size: 4, MimeType: "video/webm;codecs=vp9,opus"})

	got, data, err := lib.Open(rec.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(data) != "webm" || got.SizeText != "4 Bytes" {
		t.Errorf("Open = %+v %q", got, data)
	}

	if err := lib.Remove(rec.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := lib.Get(rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after remove err = %v, want ErrNotFound", err)
	}
	if err := lib.Remove(rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove err = %v, want ErrNotFound", err)
	}
	if lib.Len() != 0 {
		t.Errorf("Len = %d, want 0", lib.Len())
	}
}
