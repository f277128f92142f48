package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/screenrec/internal/overlay"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "MODE", "LOG_LEVEL", "FFMPEG", "REFRESH_RATE", "FRAME_RATE",
		"VIDEO_BITRATE", "TIMESLICE", "ACQUIRE_TIMEOUT", "ALLOWED_ORIGINS", "SYSTEM_AUDIO_DEVICE"} {
		t.Setenv(envPrefix+k, "")
	}

	cfg := Load()

	if cfg.Port != 8090 {
		t.Errorf("Port = %d, want 8090", cfg.Port)
	}
	if cfg.Mode != "PROD" {
		t.Errorf("Mode = %q, want PROD", cfg.Mode)
	}
	if cfg.LogLevel != 2 {
		t.Errorf("LogLevel = %d, want 2", cfg.LogLevel)
	}
	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %q, want ffmpeg", cfg.FFmpegPath)
	}
	if cfg.RefreshRate != 60 {
		t.Errorf("RefreshRate = %d, want 60", cfg.RefreshRate)
	}
	if cfg.FrameRate != 30 {
		t.Errorf("FrameRate = %d, want 30", cfg.FrameRate)
	}
	if cfg.VideoBitrate != 5000000 {
		t.Errorf("VideoBitrate = %d, want 5000000", cfg.VideoBitrate)
	}
	if cfg.Timeslice != time.Second {
		t.Errorf("Timeslice = %v, want 1s", cfg.Timeslice)
	}
	if cfg.AcquireTimeout != 10*time.Second {
		t.Errorf("AcquireTimeout = %v, want 10s", cfg.AcquireTimeout)
	}
	if cfg.SystemAudioDevice != "" {
		t.Errorf("SystemAudioDevice = %q, want empty", cfg.SystemAudioDevice)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "http://localhost:8090" {
		t.Errorf("AllowedOrigins = %v, want localhost defaults", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SCREENREC_PORT", "9000")
	t.Setenv("SCREENREC_MODE", "dev")
	t.Setenv("SCREENREC_LOG_STDOUT", "true")
	t.Setenv("SCREENREC_SCREEN_DEVICE", ":1.0")
	t.Setenv("SCREENREC_TIMESLICE", "250ms")
	t.Setenv("SCREENREC_ACQUIRE_TIMEOUT", "3")
	t.Setenv("SCREENREC_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg := Load()

	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.Mode != "DEV" {
		t.Errorf("Mode = %q, want DEV", cfg.Mode)
	}
	if !cfg.LogStdout {
		t.Error("LogStdout = false, want true")
	}
	if cfg.ScreenDevice != ":1.0" {
		t.Errorf("ScreenDevice = %q, want :1.0", cfg.ScreenDevice)
	}
	if cfg.Timeslice != 250*time.Millisecond {
		t.Errorf("Timeslice = %v, want 250ms", cfg.Timeslice)
	}
	if cfg.AcquireTimeout != 3*time.Second {
		t.Errorf("AcquireTimeout = %v, want 3s", cfg.AcquireTimeout)
	}
	// DEV mode adds the local origins after the configured ones
	want := []string{"https://a.example", "https://b.example", "http://localhost:9000", "http://127.0.0.1:9000"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Errorf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
}

func TestLoadInvalidFallsBack(t *testing.T) {
	t.Setenv("SCREENREC_PORT", "not-a-number")
	t.Setenv("SCREENREC_LOG_STDOUT", "maybe")
	t.Setenv("SCREENREC_TIMESLICE", "soon")

	cfg := Load()

	if cfg.Port != 8090 {
		t.Errorf("Port = %d, want fallback 8090", cfg.Port)
	}
	if cfg.LogStdout {
		t.Error("LogStdout = true, want fallback false")
	}
	if cfg.Timeslice != time.Second {
		t.Errorf("Timeslice = %v, want fallback 1s", cfg.Timeslice)
	}
}

func TestDefaultDevices(t *testing.T) {
	tests := []struct {
		goos   string
		screen string
		webcam string
	}{
		{"linux", "x11grab", "v4l2"},
		{"darwin", "avfoundation", "avfoundation"},
		{"windows", "gdigrab", "dshow"},
	}
	for _, tt := range tests {
		d := defaultDevices(tt.goos)
		if d.screenFormat != tt.screen || d.webcamFormat != tt.webcam {
			t.Errorf("defaultDevices(%s) = %s/%s, want %s/%s", tt.goos, d.screenFormat, d.webcamFormat, tt.screen, tt.webcam)
		}
	}
}

func TestDerivedOptions(t *testing.T) {
	cfg := Config{FFmpegPath: "/usr/bin/ffmpeg", ScreenDevice: ":0.0", MicDevice: "default",
		AcquireTimeout: 5 * time.Second, FrameRate: 24, RefreshRate: 50, VideoBitrate: 1000, Timeslice: 2 * time.Second}

	d := cfg.Devices()
	if d.FFmpegPath != "/usr/bin/ffmpeg" || d.ScreenDevice != ":0.0" || d.MicDevice != "default" || d.Timeout != 5*time.Second {
		t.Errorf("Devices = %+v", d)
	}

	o := cfg.SessionOptions()
	if o.FrameRate != 24 || o.RefreshRate != 50 || o.VideoBitrate != 1000 {
		t.Errorf("SessionOptions rates = %+v", o)
	}
	if o.Timeslice != 2*time.Second || o.ReadyTimeout != 5*time.Second {
		t.Errorf("SessionOptions timings = %v/%v", o.Timeslice, o.ReadyTimeout)
	}
	if o.ScreenWidth != 1920 || o.ScreenHeight != 1080 {
		t.Errorf("SessionOptions screen = %dx%d, want 1920x1080", o.ScreenWidth, o.ScreenHeight)
	}
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	os.WriteFile(path, []byte("SCREENREC_TEST_DOTENV_VALUE=from-file\n"), 0o644)
	t.Cleanup(func() { os.Unsetenv("SCREENREC_TEST_DOTENV_VALUE") })

	if err := LoadDotenv(path); err != nil {
		t.Fatalf("LoadDotenv: %v", err)
	}
	if got := os.Getenv("SCREENREC_TEST_DOTENV_VALUE"); got != "from-file" {
		t.Errorf("env = %q, want from-file", got)
	}
	if err := LoadDotenv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing .env err = %v, want nil", err)
	}
}

func TestLoadSettings(t *testing.T) {
	s, err := LoadSettings("")
	if err != nil || s != overlay.DefaultSettings() {
		t.Errorf("LoadSettings(\"\") = %+v, %v; want defaults", s, err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.yaml")
	os.WriteFile(path, []byte("position: top-left\nshape: rounded\nsize: 30\n"), 0o644)

	s, err = LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Position != overlay.TopLeft || s.Shape != overlay.Rounded || s.Size != 30 {
		t.Errorf("LoadSettings = %+v", s)
	}
	if s.ShowWebcam != overlay.DefaultSettings().ShowWebcam {
		t.Error("missing key did not keep default")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("size: 500\n"), 0o644)
	if _, err := LoadSettings(bad); !errors.Is(err, overlay.ErrInvalidSettings) {
		t.Errorf("LoadSettings(size 500) err = %v, want ErrInvalidSettings", err)
	}
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screenrec.log")
	logger, closer, err := NewLogger(Config{LogLevel: 3, LogFile: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug().Str("context", "test").Msg("hello")
	closer.Close()

	data, _ := os.ReadFile(path)
	if len(data) == 0 {
		t.Error("log file is empty")
	}
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Errorf("level = %v, want debug", logger.GetLevel())
	}
}

func TestConvertLevel(t *testing.T) {
	tests := map[int]zerolog.Level{0: zerolog.FatalLevel, 1: zerolog.ErrorLevel, 2: zerolog.InfoLevel,
		3: zerolog.DebugLevel, 4: zerolog.TraceLevel, 9: zerolog.DebugLevel}
	for in, want := range tests {
		if got := convertLevel(in); got != want {
			t.Errorf("convertLevel(%d) = %v, want %v", in, got, want)
		}
	}
}
