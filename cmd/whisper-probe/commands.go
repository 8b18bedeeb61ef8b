package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/whisper-probe/internal/audio"
	"github.com/petems/whisper-probe/internal/config"
	"github.com/petems/whisper-probe/internal/logging"
	"github.com/petems/whisper-probe/internal/probe"
	"github.com/petems/whisper-probe/internal/summary"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var errHealthFailed = errors.New("health check failed")

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Run every check, then capture and stream until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd)
		},
	}
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "stop the session after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&opts.copySummary, "copy-summary", false, "copy the final stats line to the clipboard")
	return cmd
}

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Report which host capabilities the audio pipeline can use",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, func(s *probe.Session, ctx context.Context) bool {
			s.CheckCapabilities()
			return true
		})
	},
}

var transportCmd = &cobra.Command{
	Use:   "transport",
	Short: "Open and close a test WebSocket to the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, (*probe.Session).CheckTransport)
	},
}

var microphoneCmd = &cobra.Command{
	Use:   "microphone",
	Short: "Request the microphone and release it again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, (*probe.Session).CheckMicrophone)
	},
}

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Check the WebSocket endpoint through the reverse proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, (*probe.Session).CheckProxy)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Verify the front page, transcription and TTS backends answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		h := probe.NewHealthChecker(cfg.Health, nil, &http.Client{Timeout: cfg.Health.ResponseTimeout()}, log)
		if !h.Run(ctx).OK() {
			return errHealthFailed
		}
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		host, err := audio.New(cfg.Audio)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize audio")
			return err
		}
		defer host.Close()

		devices, err := host.ListDevices()
		if err != nil {
			log.Error().Err(err).Msg("Failed to list devices")
			return err
		}

		out := cmd.OutOrStdout()
		for _, d := range devices {
			marker := " "
			if d.Default {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s (%d ch, %.0f Hz)\n", marker, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
		}
		return nil
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := opts.configPath
		if path == "" {
			path = config.Path()
		}
		log := logging.New().With().Str("path", path).Logger()

		if _, err := os.Stat(path); err == nil {
			log.Error().Msg("Config file already exists")
			return fmt.Errorf("config file %s already exists", path)
		}

		if err := config.Default().Save(path); err != nil {
			log.Error().Err(err).Msg("Failed to write config")
			return err
		}
		log.Info().Msg("Wrote default config")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "whisper-probe %s (%s)\n", Version, Commit)
	},
}

func newSession(cfg *config.Config, log zerolog.Logger, status probe.StatusUpdater) *probe.Session {
	return probe.New(probe.Config{
		Endpoint:      cfg.Endpoint.URL(),
		Audio:         cfg.Audio,
		Probe:         cfg.Probe,
		Logger:        log,
		StatusUpdater: status,
	})
}

// runCheck runs a single probe. Debugger checks only log, so a failed check
// still exits cleanly.
func runCheck(cmd *cobra.Command, check func(*probe.Session, context.Context) bool) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	check(newSession(cfg, log, nil), ctx)
	return nil
}

func runSession(cmd *cobra.Command) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := newConsoleStatus(log)
	s := newSession(cfg, log, status)

	if !s.Start(ctx) {
		return nil
	}

	var timeout <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("Interrupted")
	case <-timeout:
		log.Info().Dur("duration", opts.duration).Msg("Duration elapsed")
	case <-status.ended:
	}

	stats := s.Stop()
	line := stats.String()
	fmt.Fprintln(cmd.OutOrStdout(), line)

	if cfg.CopySummary {
		if err := summary.NewClipboard().Copy(line); err != nil {
			log.Warn().Err(err).Msg("Failed to copy summary")
		} else {
			log.Info().Msg("Summary copied to clipboard")
		}
	}
	return nil
}
