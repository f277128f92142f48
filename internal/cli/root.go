package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/screenrec/internal/app"
	"github.com/satindergrewal/screenrec/internal/version"
)

type Dependencies struct {
	App *app.App
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "screenrec",
		Short:         "Record the screen with a webcam overlay",
		Long:          "Captures the screen, composites a shaped webcam bubble on top, mixes microphone and system audio, and records WebM.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
