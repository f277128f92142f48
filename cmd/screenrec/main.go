package main

import (
	"fmt"
	"os"

	"github.com/satindergrewal/screenrec/internal/app"
	"github.com/satindergrewal/screenrec/internal/cli"
	"github.com/satindergrewal/screenrec/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotenv(".env"); err != nil {
		return err
	}
	cfg := config.Load()

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	defer application.Close()

	return cli.NewRootCmd(&cli.Dependencies{App: application}).Execute()
}
