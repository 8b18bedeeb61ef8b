package probe

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/petems/whisper-probe/internal/audio"
	"github.com/petems/whisper-probe/internal/summary"
	"github.com/petems/whisper-probe/internal/transport"
)

// pipeline holds the handles acquired while wiring the streaming probe
type pipeline struct {
	host audio.Host
	conn transport.Conn
	mic  audio.Stream
	unit *audio.Processor
}

// release frees whatever was acquired, processing first and transport last
func (p *pipeline) release() {
	if p.unit != nil {
		p.unit.Disconnect()
	}
	if p.mic != nil {
		p.mic.Stop()
	}
	if p.host != nil {
		p.host.Close()
	}
	if p.conn != nil {
		p.conn.Close(transport.CloseNormal, "")
	}
}

// StartStreaming wires microphone -> processing unit -> WebSocket and leaves
// the session recording until Stop. Any setup error releases everything
// acquired so far and returns the session to idle.
func (s *Session) StartStreaming(ctx context.Context) bool {
	s.log.Info().Msg("Testing audio capture and WebSocket sending")

	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		s.log.Error().Err(ErrSessionActive).Str("state", state.String()).Msg("Audio capture setup failed")
		return false
	}
	s.setStateLocked(StateStarting)
	s.mu.Unlock()

	p, err := s.setup(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Audio capture setup failed")

		s.mu.Lock()
		s.setStateLocked(StateFailed)
		s.mu.Unlock()

		p.release()
		s.pumps.Wait()

		s.mu.Lock()
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		return false
	}

	s.mu.Lock()
	s.host, s.conn, s.mic, s.unit = p.host, p.conn, p.mic, p.unit
	s.recording = true
	s.startedAt = time.Now()
	s.setStateLocked(StateRecording)
	s.mu.Unlock()

	go s.watchTransport(p.conn)

	s.log.Info().Msg("Audio capture started, speak into the microphone")
	return true
}

func (s *Session) setup(ctx context.Context) (*pipeline, error) {
	p := &pipeline{}

	host, err := s.openAudio(s.audioCfg)
	if err != nil {
		return p, fmt.Errorf("failed to open audio context: %w", err)
	}
	p.host = host

	r := Connect(ctx, s.dialer, s.endpoint, s.probeCfg.ConnectTimeout())
	if r.Outcome != OutcomeConnected {
		return p, fmt.Errorf("WebSocket %s: %w", r.Outcome, r.Err)
	}
	p.conn = r.Conn
	s.log.Info().Msg("WebSocket ready for audio data")

	s.pumps.Add(1)
	go s.pumpMessages(p.conn)

	mic, err := host.Open(ctx, audio.Constraints{DeviceID: s.audioCfg.DeviceID})
	if err != nil {
		return p, fmt.Errorf("failed to open microphone: %w", err)
	}
	p.mic = mic

	unit, err := audio.NewProcessor(s.audioCfg.ChunkBytes)
	if err != nil {
		return p, fmt.Errorf("failed to create audio processor: %w", err)
	}
	p.unit = unit

	s.pumps.Add(1)
	go s.pumpChunks(unit, p.conn)

	if err := unit.Connect(mic.Frames()); err != nil {
		return p, fmt.Errorf("failed to connect microphone: %w", err)
	}

	return p, nil
}

func (s *Session) pumpMessages(conn transport.Conn) {
	defer s.pumps.Done()

	for msg := range conn.Messages() {
		s.received.Add(int64(len(msg.Data)))
		s.log.Info().
			Str("type", msg.Type.String()).
			Int("bytes", len(msg.Data)).
			Str("preview", preview(msg, s.probeCfg.PreviewChars)).
			Msg("Received response")
	}
}

func (s *Session) pumpChunks(unit *audio.Processor, conn transport.Conn) {
	defer s.pumps.Done()

	for chunk := range unit.Chunks() {
		s.forward(conn, chunk)
	}
}

// forward sends one chunk. Chunks produced while the transport is not open
// are dropped, never buffered.
func (s *Session) forward(conn transport.Conn, chunk []byte) {
	if conn.State() != transport.StateOpen {
		s.dropped.Add(1)
		return
	}
	if err := conn.Send(chunk); err != nil {
		s.dropped.Add(1)
		s.log.Debug().Err(err).Msg("Dropped audio chunk")
		return
	}

	n := int64(len(chunk))
	total := s.sent.Add(n)
	if every := int64(s.probeCfg.StatsEveryBytes); every > 0 && (total-n)/every != total/every {
		s.log.Info().
			Int64("sent", total).
			Int64("received", s.received.Load()).
			Msg("Audio stats")
	}
}

// watchTransport fails the session when the connection drops while recording
func (s *Session) watchTransport(conn transport.Conn) {
	<-conn.Closed()

	ev := conn.CloseEvent()
	s.mu.Lock()
	current := s.conn == conn && s.state == StateRecording
	s.mu.Unlock()
	if !current {
		return
	}

	s.log.Warn().Int("code", ev.Code).Str("reason", ev.Reason).Msg("WebSocket closed while recording")
	s.teardown(conn)
}

// Stop releases every handle and logs the final totals. Calling it again, or
// on a session that never started, only logs the totals.
func (s *Session) Stop() summary.Stats {
	return s.teardown(nil)
}

// teardown releases the session's handles. With lost set, it only acts if
// lost is still the session's transport, and passes through StateFailed.
func (s *Session) teardown(lost transport.Conn) summary.Stats {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	s.mu.Lock()
	if s.state == StateStarting {
		s.mu.Unlock()
		s.log.Warn().Msg("Session is still starting, stop ignored")
		return s.Stats()
	}
	if lost != nil && s.conn != lost {
		s.mu.Unlock()
		return s.Stats()
	}

	p := &pipeline{host: s.host, conn: s.conn, mic: s.mic, unit: s.unit}
	s.host, s.conn, s.mic, s.unit = nil, nil, nil, nil
	s.recording = false
	started := s.startedAt
	s.startedAt = time.Time{}
	if lost != nil {
		s.setStateLocked(StateFailed)
	}
	s.mu.Unlock()

	s.log.Info().Msg("Stopping debug session")
	p.release()
	s.pumps.Wait()

	stats := s.statsSince(started)
	s.log.Info().
		Int64("sent", stats.BytesSent).
		Int64("received", stats.BytesReceived).
		Int64("dropped", stats.ChunksDropped).
		Dur("duration", stats.Duration).
		Msg("Final stats")

	s.mu.Lock()
	s.setStateLocked(StateIdle)
	s.mu.Unlock()

	s.log.Info().Msg("Debug session ended")
	return stats
}

func preview(msg transport.Message, limit int) string {
	if limit <= 0 {
		limit = 100
	}

	if msg.Type == transport.BinaryMessage {
		n := min(len(msg.Data), limit/2)
		out := hex.EncodeToString(msg.Data[:n])
		if n < len(msg.Data) {
			out += "..."
		}
		return out
	}

	text := msg.Data
	if !utf8.Valid(text) {
		return fmt.Sprintf("<%d bytes of invalid UTF-8>", len(text))
	}
	if utf8.RuneCount(text) <= limit {
		return string(text)
	}
	runes := []rune(string(text))
	return string(runes[:limit]) + "..."
}
