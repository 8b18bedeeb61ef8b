package main

import (
	"fmt"
	"os"
	"time"

	"github.com/petems/whisper-probe/internal/config"
	"github.com/petems/whisper-probe/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

// flags overriding values from the config file
type flags struct {
	configPath  string
	host        string
	path        string
	secure      bool
	logLevel    string
	device      string
	duration    time.Duration
	copySummary bool
}

var opts flags

var rootCmd = &cobra.Command{
	Use:   "whisper-probe",
	Short: "Audio pipeline debugger for WhisperLive style backends",
	Long: `whisper-probe checks that this machine can capture microphone audio and
stream it over a WebSocket to a transcription backend.

Without a subcommand it runs the full debug session: capability check,
WebSocket check, microphone check, then live capture until interrupted.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", fmt.Sprintf("config file (default is %s)", config.Path()))
	pf.StringVar(&opts.host, "host", "", "backend host and port, e.g. localhost:8000")
	pf.StringVar(&opts.path, "path", "", "WebSocket path, e.g. /transcription")
	pf.BoolVar(&opts.secure, "secure", false, "use wss instead of ws")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.device, "device", "", "capture device name (default input device if empty)")

	rootCmd.Flags().DurationVar(&opts.duration, "duration", 0, "stop the session after this long (0 runs until interrupted)")
	rootCmd.Flags().BoolVar(&opts.copySummary, "copy-summary", false, "copy the final stats line to the clipboard")

	rootCmd.AddCommand(newSessionCmd())
	rootCmd.AddCommand(capabilitiesCmd)
	rootCmd.AddCommand(transportCmd)
	rootCmd.AddCommand(microphoneCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log := logging.New()
		log.Error().Err(err).Msg("Failed to load config")
		return nil, log, err
	}

	if err := applyFlags(cfg, cmd, opts); err != nil {
		log := logging.New()
		log.Error().Err(err).Msg("Invalid flags")
		return nil, log, err
	}

	return cfg, logging.NewWithLevel(cfg.LogLevel), nil
}

// applyFlags overlays every flag the user set explicitly onto cfg
func applyFlags(cfg *config.Config, cmd *cobra.Command, f flags) error {
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}

	if changed("host") {
		cfg.Endpoint.Host = f.host
	}
	if changed("path") {
		cfg.Endpoint.Path = f.path
	}
	if changed("secure") {
		cfg.Endpoint.Secure = f.secure
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("device") {
		cfg.Audio.DeviceID = f.device
	}
	if changed("copy-summary") {
		cfg.CopySummary = f.copySummary
	}

	return cfg.Validate()
}
