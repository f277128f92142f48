package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/screenrec/internal/overlay"
	"github.com/satindergrewal/screenrec/internal/session"
)

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var (
		duration time.Duration
		output   string
		position string
		shape    string
		size     int
		noWebcam bool
		noMic    bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record once without the control API",
		Long:  "Starts a capture session, records for --duration (or until interrupted), then writes the WebM file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := deps.App
			log := a.Log.With().Str("context", "record").Logger()

			var p overlay.Patch
			if cmd.Flags().Changed("position") {
				pos := overlay.Position(position)
				p.Position = &pos
			}
			if cmd.Flags().Changed("shape") {
				sh := overlay.Shape(shape)
				p.Shape = &sh
			}
			if cmd.Flags().Changed("size") {
				p.Size = &size
			}
			if noWebcam {
				off := false
				p.ShowWebcam = &off
			}
			if noMic {
				off := false
				p.MicAudio = &off
			}
			if _, err := a.Store.Update(p); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			events := a.Session.Events().Subscribe()
			defer a.Session.Events().Unsubscribe(events)
			go printEvents(cmd, events.C, events.Done())

			if err := a.Session.Start(ctx); err != nil {
				return err
			}

			select {
			case <-time.After(duration):
			case <-ctx.Done():
				log.Info().Msg("interrupted")
			}

			if err := a.Session.Stop(); err != nil && !errors.Is(err, session.ErrInvalidTransition) {
				return err
			}
			waitCtx, waitCancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer waitCancel()
			if err := a.Session.WaitIdle(waitCtx); err != nil {
				return fmt.Errorf("waiting for recorder: %w", err)
			}

			recs := a.Library.List()
			if len(recs) == 0 {
				return errors.New("no recording was produced")
			}
			rec, data, err := a.Library.Open(recs[0].ID)
			if err != nil {
				return err
			}
			if output == "" {
				output = rec.Filename
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s, %s)\n", output, rec.Duration, rec.SizeText)
			return nil
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "how long to record")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default demo-recording-<unix-ms>.webm)")
	cmd.Flags().StringVar(&position, "position", "", "webcam position, e.g. bottom-right")
	cmd.Flags().StringVar(&shape, "shape", "", "webcam shape: circle, rounded or square")
	cmd.Flags().IntVar(&size, "size", 0, "webcam width as a percentage of the screen")
	cmd.Flags().BoolVar(&noWebcam, "no-webcam", false, "record without the webcam overlay")
	cmd.Flags().BoolVar(&noMic, "no-mic", false, "record without the microphone")
	return cmd
}

func printEvents(cmd *cobra.Command, events <-chan session.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case e := <-events:
			switch e.Type {
			case session.EventStatus:
				cmd.PrintErrln(e.Status)
			case session.EventElapsed:
				cmd.PrintErrf("\r%s", e.Elapsed)
			case session.EventError:
				cmd.PrintErrln("\n" + e.Error)
			}
		}
	}
}
