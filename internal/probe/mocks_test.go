package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petems/whisper-probe/internal/audio"
	"github.com/petems/whisper-probe/internal/config"
	"github.com/petems/whisper-probe/internal/transport"
	"github.com/rs/zerolog"
)

const testEndpoint = "ws://localhost:8000/transcription"

// Mock implementations for testing

type mockConn struct {
	mu         sync.Mutex
	state      transport.State
	sent       [][]byte
	closeCodes []int
	event      transport.CloseEvent

	messages  chan transport.Message
	closed    chan struct{}
	closeOnce sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		messages: make(chan transport.Message, 16),
		closed:   make(chan struct{}),
	}
}

func (c *mockConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != transport.StateOpen {
		return transport.ErrNotOpen
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *mockConn) SendText(data []byte) error {
	return c.Send(data)
}

func (c *mockConn) Messages() <-chan transport.Message { return c.messages }
func (c *mockConn) Closed() <-chan struct{}            { return c.closed }

func (c *mockConn) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *mockConn) CloseEvent() transport.CloseEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.event
}

func (c *mockConn) Close(code int, reason string) error {
	c.mu.Lock()
	c.closeCodes = append(c.closeCodes, code)
	if c.state == transport.StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = transport.StateClosed
	c.event = transport.CloseEvent{Code: code, Reason: reason}
	c.mu.Unlock()

	c.finish()
	return nil
}

// serverClose simulates the backend dropping the connection
func (c *mockConn) serverClose(code int, reason string) {
	c.mu.Lock()
	if c.state == transport.StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = transport.StateClosed
	c.event = transport.CloseEvent{Code: code, Reason: reason}
	c.mu.Unlock()

	c.finish()
}

func (c *mockConn) finish() {
	c.closeOnce.Do(func() {
		close(c.messages)
		close(c.closed)
	})
}

func (c *mockConn) sentBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sent {
		n += len(s)
	}
	return n
}

func (c *mockConn) codes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.closeCodes...)
}

type mockDialer struct {
	dial  func(ctx context.Context, endpoint string) (transport.Conn, error)
	calls atomic.Int32
}

func (d *mockDialer) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	d.calls.Add(1)
	return d.dial(ctx, endpoint)
}

// dialerFor always hands out conn
func dialerFor(conn *mockConn) *mockDialer {
	return &mockDialer{dial: func(ctx context.Context, endpoint string) (transport.Conn, error) {
		return conn, nil
	}}
}

// hangingDialer never connects; aborted is closed once the dial is cancelled
func hangingDialer() (*mockDialer, <-chan struct{}) {
	aborted := make(chan struct{})
	var once sync.Once
	return &mockDialer{dial: func(ctx context.Context, endpoint string) (transport.Conn, error) {
		<-ctx.Done()
		once.Do(func() { close(aborted) })
		return nil, ctx.Err()
	}}, aborted
}

type mockTrack struct {
	settings audio.TrackSettings
	stops    atomic.Int32
}

func (t *mockTrack) Settings() audio.TrackSettings { return t.settings }

func (t *mockTrack) Stop() error {
	t.stops.Add(1)
	return nil
}

type mockStream struct {
	tracks    []*mockTrack
	frames    chan []float32
	stopped   chan struct{}
	stopOnce  sync.Once
	stopCalls atomic.Int32
}

func newMockStream(tracks int) *mockStream {
	s := &mockStream{
		frames:  make(chan []float32, 16),
		stopped: make(chan struct{}),
	}
	for i := 0; i < tracks; i++ {
		s.tracks = append(s.tracks, &mockTrack{settings: audio.TrackSettings{
			DeviceID:     "Mock Microphone",
			SampleRate:   16000,
			ChannelCount: 1,
			Latency:      10 * time.Millisecond,
		}})
	}
	return s
}

func (s *mockStream) Tracks() []audio.Track {
	out := make([]audio.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *mockStream) Frames() <-chan []float32 { return s.frames }

func (s *mockStream) Stop() error {
	s.stopCalls.Add(1)
	s.stopOnce.Do(func() { close(s.stopped) })
	return nil
}

// push feeds a frame unless the stream has been stopped
func (s *mockStream) push(frame []float32) bool {
	select {
	case s.frames <- frame:
		return true
	case <-s.stopped:
		return false
	}
}

type mockHost struct {
	mu      sync.Mutex
	stream  *mockStream
	openErr error
	opened  []audio.Constraints
	closes  int
	devices []audio.AudioDevice
	format  error
}

func newMockHost(stream *mockStream) *mockHost {
	return &mockHost{
		stream:  stream,
		devices: []audio.AudioDevice{{ID: "mock", Name: "Mock Microphone", Default: true, MaxInputChannels: 1}},
	}
}

func (h *mockHost) Open(ctx context.Context, c audio.Constraints) (audio.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, c)
	if h.openErr != nil {
		return nil, h.openErr
	}
	return h.stream, nil
}

func (h *mockHost) ListDevices() ([]audio.AudioDevice, error) { return h.devices, nil }

func (h *mockHost) SupportsFormat(deviceID string, sampleRate int, channels int) error {
	return h.format
}

func (h *mockHost) SampleRate() int { return 16000 }

func (h *mockHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return nil
}

func (h *mockHost) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

func openerFor(h *mockHost) AudioOpener {
	return func(cfg config.AudioConfig) (audio.Host, error) {
		return h, nil
	}
}

type mapEnv map[Capability]bool

func (e mapEnv) Has(c Capability) bool { return e[c] }

func allPresent() mapEnv {
	env := mapEnv{}
	for _, c := range Capabilities {
		env[c] = true
	}
	return env
}

type recordingUpdater struct {
	mu     sync.Mutex
	states []State
}

func (u *recordingUpdater) add(s State) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.states = append(u.states, s)
}

func (u *recordingUpdater) SetIdle()      { u.add(StateIdle) }
func (u *recordingUpdater) SetStarting()  { u.add(StateStarting) }
func (u *recordingUpdater) SetRecording() { u.add(StateRecording) }
func (u *recordingUpdater) SetFailed()    { u.add(StateFailed) }

func (u *recordingUpdater) seen() []State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]State(nil), u.states...)
}

// logBuffer collects JSON log lines written from several goroutines
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) entries(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

// withMessage returns the log entries whose message is msg
func (b *logBuffer) withMessage(t *testing.T, msg string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, e := range b.entries(t) {
		if e["message"] == msg {
			out = append(out, e)
		}
	}
	return out
}

type sessionOpts struct {
	dialer  transport.Dialer
	host    *mockHost
	env     Environment
	updater StatusUpdater
}

func newTestSession(t *testing.T, opts sessionOpts) (*Session, *logBuffer) {
	t.Helper()

	cfg := config.Default()
	cfg.Audio.ChunkBytes = 8
	cfg.Probe.ConnectTimeoutMS = 200
	cfg.Probe.ProxyTimeoutMS = 100
	cfg.Probe.StatsEveryBytes = 16

	logs := &logBuffer{}
	sc := Config{
		Endpoint:      testEndpoint,
		Audio:         cfg.Audio,
		Probe:         cfg.Probe,
		Dialer:        opts.dialer,
		Environment:   opts.env,
		Logger:        zerolog.New(logs),
		StatusUpdater: opts.updater,
	}
	if opts.host != nil {
		sc.OpenAudio = openerFor(opts.host)
	}
	return New(sc), logs
}

// handlesReleased reports whether every owned handle is nil
func (s *Session) handlesReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == nil && s.host == nil && s.mic == nil && s.unit == nil && !s.recording
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ { // Poll for 2 seconds
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
