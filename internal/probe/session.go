// Package probe runs the audio pipeline diagnostics: capability detection,
// WebSocket reachability, microphone permission and an end-to-end capture
// and send loop, all owned by an explicit Session.
package probe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/whisper-probe/internal/audio"
	"github.com/petems/whisper-probe/internal/config"
	"github.com/petems/whisper-probe/internal/summary"
	"github.com/petems/whisper-probe/internal/transport"
	"github.com/rs/zerolog"
)

// ErrSessionActive is reported when streaming is started twice
var ErrSessionActive = errors.New("session already active")

type State int

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// StatusUpdater is an interface for observing session state.
// Methods are called with the session lock held and must not call back.
type StatusUpdater interface {
	SetIdle()
	SetStarting()
	SetRecording()
	SetFailed()
}

// AudioOpener opens an audio context
type AudioOpener func(cfg config.AudioConfig) (audio.Host, error)

type Config struct {
	Endpoint      string
	Audio         config.AudioConfig
	Probe         config.ProbeConfig
	Dialer        transport.Dialer // Optional - defaults to gorilla/websocket
	OpenAudio     AudioOpener      // Optional - defaults to PortAudio
	Environment   Environment      // Optional - defaults to detecting the host
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
}

// Session owns the transport and audio handles of one diagnostic run.
// Only Start/StartStreaming/Stop mutate them.
type Session struct {
	endpoint  string
	audioCfg  config.AudioConfig
	probeCfg  config.ProbeConfig
	dialer    transport.Dialer
	openAudio AudioOpener
	env       Environment
	log       zerolog.Logger
	status    StatusUpdater

	mu        sync.Mutex
	state     State
	recording bool
	conn      transport.Conn
	host      audio.Host
	mic       audio.Stream
	unit      *audio.Processor
	startedAt time.Time

	stopMu sync.Mutex
	pumps  sync.WaitGroup

	sent     atomic.Int64
	received atomic.Int64
	dropped  atomic.Int64
}

func New(cfg Config) *Session {
	s := &Session{
		endpoint:  cfg.Endpoint,
		audioCfg:  cfg.Audio,
		probeCfg:  cfg.Probe,
		dialer:    cfg.Dialer,
		openAudio: cfg.OpenAudio,
		env:       cfg.Environment,
		log:       cfg.Logger.With().Str("component", "probe").Logger(),
		status:    cfg.StatusUpdater,
	}
	if s.dialer == nil {
		s.dialer = transport.NewDialer()
	}
	if s.openAudio == nil {
		s.openAudio = audio.New
	}
	return s
}

// Start runs every check in order and leaves the session recording if the
// streaming probe succeeds. Each check runs regardless of earlier results.
func (s *Session) Start(ctx context.Context) bool {
	s.log.Info().Str("endpoint", s.endpoint).Msg("Starting audio debug session")

	s.CheckCapabilities()
	s.CheckTransport(ctx)
	s.CheckMicrophone(ctx)
	return s.StartStreaming(ctx)
}

func (s *Session) Endpoint() string {
	return s.endpoint
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

func (s *Session) BytesSent() int64     { return s.sent.Load() }
func (s *Session) BytesReceived() int64 { return s.received.Load() }
func (s *Session) ChunksDropped() int64 { return s.dropped.Load() }

// Stats returns the current totals
func (s *Session) Stats() summary.Stats {
	s.mu.Lock()
	started := s.startedAt
	s.mu.Unlock()
	return s.statsSince(started)
}

func (s *Session) statsSince(started time.Time) summary.Stats {
	st := summary.Stats{
		Endpoint:      s.endpoint,
		BytesSent:     s.sent.Load(),
		BytesReceived: s.received.Load(),
		ChunksDropped: s.dropped.Load(),
	}
	if !started.IsZero() {
		st.Duration = time.Since(started)
	}
	return st
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	if s.status == nil {
		return
	}
	switch state {
	case StateIdle:
		s.status.SetIdle()
	case StateStarting:
		s.status.SetStarting()
	case StateRecording:
		s.status.SetRecording()
	case StateFailed:
		s.status.SetFailed()
	}
}
