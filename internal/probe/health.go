package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/petems/whisper-probe/internal/config"
	"github.com/petems/whisper-probe/internal/transport"
	"github.com/rs/zerolog"
)

// transcriptionTestPayload stands in for audio; the backend only has to answer
var transcriptionTestPayload = []byte("test_audio_data")

type ttsTestRequest struct {
	Text string `json:"text"`
	Test bool   `json:"test"`
}

// HealthCheck is the result of one step of the backend health chain
type HealthCheck struct {
	Name   string
	OK     bool
	Detail string
	Err    error
}

type HealthReport struct {
	Checks []HealthCheck
}

// OK reports whether every check passed
func (r HealthReport) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return len(r.Checks) > 0
}

// HealthChecker verifies the full chain: front page through the proxy, then
// the transcription and TTS WebSockets, each answering a test request.
type HealthChecker struct {
	cfg    config.HealthConfig
	dialer transport.Dialer
	client *http.Client
	log    zerolog.Logger
}

func NewHealthChecker(cfg config.HealthConfig, dialer transport.Dialer, client *http.Client, log zerolog.Logger) *HealthChecker {
	if dialer == nil {
		dialer = transport.NewDialer()
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HealthChecker{
		cfg:    cfg,
		dialer: dialer,
		client: client,
		log:    log.With().Str("component", "health").Logger(),
	}
}

func (h *HealthChecker) Run(ctx context.Context) HealthReport {
	h.log.Info().Msg("Testing complete audio chain")

	report := HealthReport{Checks: []HealthCheck{
		h.checkPage(ctx),
		h.roundTrip(ctx, "transcription", h.cfg.TranscriptionURL, func(conn transport.Conn) error {
			return conn.Send(transcriptionTestPayload)
		}),
		h.roundTrip(ctx, "tts", h.cfg.TTSURL, func(conn transport.Conn) error {
			data, err := json.Marshal(ttsTestRequest{Text: "Hello world", Test: true})
			if err != nil {
				return err
			}
			return conn.SendText(data)
		}),
	}}

	for _, c := range report.Checks {
		ev := h.log.Info()
		if !c.OK {
			ev = h.log.Error().Err(c.Err)
		}
		ev.Str("check", c.Name).Bool("ok", c.OK).Str("detail", c.Detail).Msg("Health result")
	}
	if report.OK() {
		h.log.Info().Msg("All tests passed, audio chain is ready")
	} else {
		h.log.Error().Msg("Some tests failed, check the logs above")
	}

	return report
}

// checkPage passes when the page answers at all; a non-200 status is only a warning
func (h *HealthChecker) checkPage(ctx context.Context) HealthCheck {
	check := HealthCheck{Name: "proxy"}
	h.log.Info().Str("url", h.cfg.PageURL).Msg("Testing reverse proxy endpoints")

	ctx, cancel := context.WithTimeout(ctx, h.cfg.ResponseTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.PageURL, nil)
	if err != nil {
		check.Err = fmt.Errorf("failed to build request: %w", err)
		return check
	}

	resp, err := h.client.Do(req)
	if err != nil {
		check.Err = fmt.Errorf("failed to reach %s: %w", h.cfg.PageURL, err)
		return check
	}
	resp.Body.Close()

	check.OK = true
	check.Detail = resp.Status
	if resp.StatusCode != http.StatusOK {
		h.log.Warn().Int("status", resp.StatusCode).Msg("Main page returned unexpected status")
	}
	return check
}

func (h *HealthChecker) roundTrip(ctx context.Context, name, endpoint string, send func(transport.Conn) error) HealthCheck {
	check := HealthCheck{Name: name}
	timeout := h.cfg.ResponseTimeout()
	h.log.Info().Str("url", endpoint).Msgf("Testing %s WebSocket", name)

	r := Connect(ctx, h.dialer, endpoint, timeout)
	if r.Outcome != OutcomeConnected {
		check.Err = fmt.Errorf("%s: %w", r.Outcome, r.Err)
		return check
	}
	conn := r.Conn
	defer conn.Close(transport.CloseNormal, "")

	if err := send(conn); err != nil {
		check.Err = fmt.Errorf("failed to send test request: %w", err)
		return check
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-conn.Messages():
		if !ok {
			ev := conn.CloseEvent()
			check.Err = fmt.Errorf("connection closed before responding (code %d)", ev.Code)
			return check
		}
		check.OK = true
		check.Detail = preview(msg, 100)
	case <-timer.C:
		check.Err = errors.New("timeout waiting for response")
	case <-ctx.Done():
		check.Err = ctx.Err()
	}
	return check
}
