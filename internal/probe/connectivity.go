package probe

import (
	"context"
	"errors"
	"time"

	"github.com/petems/whisper-probe/internal/transport"
)

// ErrTimeout is the error of a connection attempt that did not settle in time
var ErrTimeout = errors.New("connection timed out")

type Outcome int

const (
	OutcomeConnected Outcome = iota
	OutcomeErrored
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConnected:
		return "connected"
	case OutcomeErrored:
		return "errored"
	}
	return "timed out"
}

// Result is the single resolution of a connection attempt.
// Conn is set only for OutcomeConnected and belongs to the caller.
type Result struct {
	Outcome Outcome
	Conn    transport.Conn
	Err     error
	Elapsed time.Duration
}

// Connect dials endpoint and resolves exactly once: connected, errored, or
// timed out after timeout. On timeout the dial is cancelled and a connection
// that still completes afterwards is closed.
func Connect(ctx context.Context, d transport.Dialer, endpoint string, timeout time.Duration) Result {
	start := time.Now()
	dialCtx, cancel := context.WithCancel(ctx)

	done := make(chan Result, 1)
	go func() {
		conn, err := d.Dial(dialCtx, endpoint)
		if err != nil {
			done <- Result{Outcome: OutcomeErrored, Err: err}
			return
		}
		done <- Result{Outcome: OutcomeConnected, Conn: conn}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var r Result
	select {
	case r = <-done:
		cancel()
	case <-timer.C:
		cancel()
		go func() {
			if late := <-done; late.Conn != nil {
				late.Conn.Close(transport.CloseNormal, "connect timeout")
			}
		}()
		r = Result{Outcome: OutcomeTimedOut, Err: ErrTimeout}
	}

	r.Elapsed = time.Since(start)
	return r
}

type connectivityMessages struct {
	start   string
	ok      string
	failed  string
	timeout string
	hint    string
}

var transportMessages = connectivityMessages{
	start:   "Testing WebSocket connection",
	ok:      "WebSocket connected successfully",
	failed:  "WebSocket connection error",
	timeout: "WebSocket connection timeout",
}

var proxyMessages = connectivityMessages{
	start:   "Testing reverse proxy configuration",
	ok:      "Reverse proxy working correctly",
	failed:  "Reverse proxy connection failed",
	timeout: "Reverse proxy test timeout",
	hint:    "Check the reverse proxy logs, e.g. docker logs <nginx-container>",
}

// CheckTransport verifies the endpoint accepts a WebSocket connection
func (s *Session) CheckTransport(ctx context.Context) bool {
	return s.checkConnectivity(ctx, s.probeCfg.ConnectTimeout(), transportMessages)
}

// CheckProxy verifies the endpoint is reachable through the reverse proxy,
// with the shorter proxy timeout
func (s *Session) CheckProxy(ctx context.Context) bool {
	return s.checkConnectivity(ctx, s.probeCfg.ProxyTimeout(), proxyMessages)
}

func (s *Session) checkConnectivity(ctx context.Context, timeout time.Duration, msgs connectivityMessages) bool {
	s.log.Info().Str("endpoint", s.endpoint).Dur("timeout", timeout).Msg(msgs.start)

	r := Connect(ctx, s.dialer, s.endpoint, timeout)
	switch r.Outcome {
	case OutcomeConnected:
		s.log.Info().Dur("elapsed", r.Elapsed).Msg(msgs.ok)
		if err := r.Conn.Close(transport.CloseNormal, ""); err != nil {
			s.log.Debug().Err(err).Msg("Close handshake failed")
		}
		if ev := r.Conn.CloseEvent(); !ev.Normal() {
			s.log.Warn().Int("code", ev.Code).Str("reason", ev.Reason).Msg("WebSocket closed unexpectedly")
		}
		return true
	case OutcomeErrored:
		s.log.Error().Err(r.Err).Msg(msgs.failed)
	default:
		s.log.Error().Dur("timeout", timeout).Msg(msgs.timeout)
	}

	if msgs.hint != "" {
		s.log.Info().Msg(msgs.hint)
	}
	return false
}
