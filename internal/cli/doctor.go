package cli

import (
	"io"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/screenrec/internal/config"
	"github.com/satindergrewal/screenrec/internal/recorder"
)

func check(w io.Writer, name string, ok bool, detail string) {
	mark := "ok"
	if !ok {
		mark = "!!"
	}
	io.WriteString(w, "["+mark+"] "+name+": "+detail+"\n")
}

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			a := deps.App
			ok := runChecks(out, a.Config, a.Engine)
			if ok {
				io.WriteString(out, "\nAll prerequisites met. Ready to record!\n")
			} else {
				io.WriteString(out, "\nSome prerequisites are missing.\n")
			}
			return nil
		},
	}
}

// typeChecker reports whether a recording MIME type can be produced.
type typeChecker interface {
	IsTypeSupported(mimeType string) bool
}

func runChecks(out io.Writer, cfg config.Config, eng typeChecker) bool {
	ok := true

	if path, err := exec.LookPath(cfg.FFmpegPath); err != nil {
		check(out, "ffmpeg", false, "not found ("+cfg.FFmpegPath+"). Install ffmpeg or set SCREENREC_FFMPEG")
		ok = false
	} else {
		check(out, "ffmpeg", true, path)
	}

	preferred := eng.IsTypeSupported(recorder.PreferredMimeType)
	check(out, "Encoder "+recorder.PreferredMimeType, preferred, supportedText(preferred))
	fallback := eng.IsTypeSupported(recorder.FallbackMimeType)
	check(out, "Encoder "+recorder.FallbackMimeType, fallback, supportedText(fallback))
	if !preferred && !fallback {
		ok = false
	}

	if cfg.ScreenDevice == "" {
		check(out, "Screen", false, "no device. Set SCREENREC_SCREEN_DEVICE")
		ok = false
	} else {
		check(out, "Screen", true, cfg.ScreenFormat+" "+cfg.ScreenDevice)
	}
	optional(out, "Webcam", cfg.WebcamFormat, cfg.WebcamDevice, "SCREENREC_WEBCAM_DEVICE")
	optional(out, "Microphone", cfg.AudioFormat, cfg.MicDevice, "SCREENREC_MIC_DEVICE")
	optional(out, "System audio", cfg.AudioFormat, cfg.SystemAudioDevice, "SCREENREC_SYSTEM_AUDIO_DEVICE")

	if cfg.SettingsFile != "" {
		if _, err := config.LoadSettings(cfg.SettingsFile); err != nil {
			check(out, "Overlay settings", false, err.Error())
			ok = false
		} else {
			check(out, "Overlay settings", true, cfg.SettingsFile)
		}
	}
	return ok
}

// optional devices never fail the check; a missing one only disables a feature.
func optional(out io.Writer, name, format, device, env string) {
	if strings.TrimSpace(device) == "" {
		check(out, name, true, "disabled (set "+env+" to enable)")
		return
	}
	check(out, name, true, format+" "+device)
}

func supportedText(ok bool) string {
	if ok {
		return "supported"
	}
	return "not supported by this ffmpeg build"
}
