package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/satindergrewal/screenrec/internal/media"
	"github.com/satindergrewal/screenrec/internal/session"
)

const (
	envPrefix = "SCREENREC_"
	// TimeFormat is used for log timestamps.
	TimeFormat = "20060102-150405.000"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port           int
	AllowedOrigins []string

	// Logging
	Mode      string // PROD or DEV
	LogLevel  int    // 0 fatal .. 4 trace
	LogFile   string
	LogStdout bool

	// Capture devices (ffmpeg input formats and names)
	FFmpegPath        string
	ScreenFormat      string
	ScreenDevice      string
	WebcamFormat      string
	WebcamDevice      string
	AudioFormat       string
	MicDevice         string
	SystemAudioDevice string
	AcquireTimeout    time.Duration

	// Compositing and recording
	RefreshRate      int // compositor ticks per second
	FrameRate        int // recorded frames per second
	VideoBitrate     int
	Timeslice        time.Duration
	PreviewFrameRate int

	// Overlay defaults file (YAML)
	SettingsFile string
}

// devices are the per-OS capture defaults.
type devices struct {
	screenFormat, screenDevice string
	webcamFormat, webcamDevice string
	audioFormat, micDevice     string
}

func defaultDevices(goos string) devices {
	switch goos {
	case "darwin":
		return devices{"avfoundation", "1:none", "avfoundation", "0:none", "avfoundation", ":0"}
	case "windows":
		return devices{"gdigrab", "desktop", "dshow", "", "dshow", ""}
	default:
		return devices{"x11grab", ":0.0", "v4l2", "/dev/video0", "pulse", "default"}
	}
}

// LoadDotenv applies a .env file to the process environment. A missing file
// is not an error; variables already set in the environment are kept.
func LoadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	d := defaultDevices(runtime.GOOS)
	cfg := Config{
		Port: envInt("PORT", 8090),

		Mode:      strings.ToUpper(envStr("MODE", "PROD")),
		LogLevel:  envInt("LOG_LEVEL", 2),
		LogFile:   envStr("LOG_FILE", ""),
		LogStdout: envBool("LOG_STDOUT", false),

		FFmpegPath:        envStr("FFMPEG", "ffmpeg"),
		ScreenFormat:      envStr("SCREEN_FORMAT", d.screenFormat),
		ScreenDevice:      envStr("SCREEN_DEVICE", d.screenDevice),
		WebcamFormat:      envStr("WEBCAM_FORMAT", d.webcamFormat),
		WebcamDevice:      envStr("WEBCAM_DEVICE", d.webcamDevice),
		AudioFormat:       envStr("AUDIO_FORMAT", d.audioFormat),
		MicDevice:         envStr("MIC_DEVICE", d.micDevice),
		SystemAudioDevice: envStr("SYSTEM_AUDIO_DEVICE", ""),
		AcquireTimeout:    envDuration("ACQUIRE_TIMEOUT", 10*time.Second),

		RefreshRate:      envInt("REFRESH_RATE", 60),
		FrameRate:        envInt("FRAME_RATE", 30),
		VideoBitrate:     envInt("VIDEO_BITRATE", 5_000_000),
		Timeslice:        envDuration("TIMESLICE", time.Second),
		PreviewFrameRate: envInt("PREVIEW_FRAME_RATE", 15),

		SettingsFile: envStr("SETTINGS_FILE", ""),
	}

	cfg.AllowedOrigins = envList("ALLOWED_ORIGINS")
	if cfg.Mode == "DEV" || len(cfg.AllowedOrigins) == 0 {
		port := strconv.Itoa(cfg.Port)
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, "http://localhost:"+port, "http://127.0.0.1:"+port)
	}
	return cfg
}

func envStr(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("250ms") or bare seconds ("2").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(envPrefix+key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Devices returns the capture device setup for media acquisition.
func (c Config) Devices() media.DeviceConfig {
	return media.DeviceConfig{
		FFmpegPath:        c.FFmpegPath,
		ScreenFormat:      c.ScreenFormat,
		ScreenDevice:      c.ScreenDevice,
		WebcamFormat:      c.WebcamFormat,
		WebcamDevice:      c.WebcamDevice,
		AudioFormat:       c.AudioFormat,
		MicDevice:         c.MicDevice,
		SystemAudioDevice: c.SystemAudioDevice,
		Timeout:           c.AcquireTimeout,
	}
}

// SessionOptions returns capture session tuning derived from the config.
func (c Config) SessionOptions() session.Options {
	o := session.DefaultOptions()
	o.FrameRate = c.FrameRate
	o.RefreshRate = c.RefreshRate
	o.VideoBitrate = c.VideoBitrate
	o.Timeslice = c.Timeslice
	o.ReadyTimeout = c.AcquireTimeout
	return o
}
