package app

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/satindergrewal/screenrec/internal/compositor"
	"github.com/satindergrewal/screenrec/internal/config"
	"github.com/satindergrewal/screenrec/internal/library"
	"github.com/satindergrewal/screenrec/internal/media"
	"github.com/satindergrewal/screenrec/internal/overlay"
	"github.com/satindergrewal/screenrec/internal/recorder"
	"github.com/satindergrewal/screenrec/internal/session"
)

// App holds the long-lived components shared by every command.
type App struct {
	Config   config.Config
	Log      zerolog.Logger
	Store    *overlay.Store
	Library  *library.Library
	Engine   *recorder.FFmpegEngine
	Acquirer *media.FFmpegAcquirer
	Session  *session.Session

	logCloser io.Closer
}

func New(cfg config.Config) (*App, error) {
	logger, closer, err := config.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("loading overlay settings: %w", err)
	}

	store := overlay.NewStore(settings)
	lib := library.New(logger)
	engine := recorder.NewFFmpegEngine(cfg.FFmpegPath, logger)
	acq := media.NewFFmpegAcquirer(cfg.Devices(), logger)
	sess := session.New(acq, engine, lib, store, compositor.New(logger), cfg.SessionOptions(), logger)

	return &App{
		Config:    cfg,
		Log:       logger,
		Store:     store,
		Library:   lib,
		Engine:    engine,
		Acquirer:  acq,
		Session:   sess,
		logCloser: closer,
	}, nil
}

// Close releases the log file.
func (a *App) Close() error {
	return a.logCloser.Close()
}
