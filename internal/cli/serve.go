package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/screenrec/internal/server"
	"github.com/satindergrewal/screenrec/internal/session"
)

const shutdownGrace = 15 * time.Second

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control API and live previews",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := deps.App
			log := a.Log.With().Str("context", "serve").Logger()
			if port == 0 {
				port = a.Config.Port
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			srv := server.New(ctx, a.Session, a.Store, a.Library, server.Options{
				FFmpegPath:       a.Config.FFmpegPath,
				PreviewFrameRate: a.Config.PreviewFrameRate,
				AllowedOrigins:   a.Config.AllowedOrigins,
			}, a.Log)
			defer srv.Close()

			addr := fmt.Sprintf(":%d", port)
			httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

			go func() {
				<-ctx.Done()
				log.Info().Msg("shutting_down")
				finishRecording(a.Session, shutdownGrace)
				httpServer.Close()
			}()

			log.Info().Str("addr", addr).Msg("listening")
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from SCREENREC_PORT)")
	return cmd
}

// finishRecording stops an active recording and waits for it to reach the
// library, so an interrupt does not lose the take.
func finishRecording(sess *session.Session, grace time.Duration) {
	switch sess.State() {
	case session.Recording, session.Paused:
		sess.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	sess.WaitIdle(ctx)
}
