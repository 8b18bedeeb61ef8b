package main

import (
	"github.com/petems/whisper-probe/internal/probe"
	"github.com/rs/zerolog"
)

// consoleStatus reports session state changes and signals when a
// recording session has ended
type consoleStatus struct {
	log   zerolog.Logger
	ended chan struct{}
}

func newConsoleStatus(log zerolog.Logger) *consoleStatus {
	return &consoleStatus{
		log:   log,
		ended: make(chan struct{}, 1),
	}
}

func (c *consoleStatus) SetIdle() {
	c.log.Debug().Str("state", probe.StateIdle.String()).Msg("Session state")
	select {
	case c.ended <- struct{}{}:
	default:
	}
}

func (c *consoleStatus) SetStarting() {
	c.log.Debug().Str("state", probe.StateStarting.String()).Msg("Session state")
}

func (c *consoleStatus) SetRecording() {
	c.log.Debug().Str("state", probe.StateRecording.String()).Msg("Session state")
}

func (c *consoleStatus) SetFailed() {
	c.log.Warn().Str("state", probe.StateFailed.String()).Msg("Session state")
}
