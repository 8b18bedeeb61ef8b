package probe

import (
	"errors"
	"testing"

	"github.com/petems/whisper-probe/internal/audio"
	"github.com/petems/whisper-probe/internal/config"
)

func TestCapabilityReportCoversFixedSet(t *testing.T) {
	env := mapEnv{MediaCapture: true, SocketTransport: true}
	report := NewCapabilityReport(env)

	entries := report.Entries()
	if len(entries) != len(Capabilities) {
		t.Fatalf("expected %d entries, got %d", len(Capabilities), len(entries))
	}
	for i, c := range Capabilities {
		if entries[i].Name != c {
			t.Errorf("entry %d: expected %s, got %s", i, c, entries[i].Name)
		}
		if entries[i].Present != env[c] {
			t.Errorf("%s: expected present=%v", c, env[c])
		}
	}

	if _, ok := report.Present("webgpu"); ok {
		t.Error("report should not cover unknown capabilities")
	}
	if present, ok := report.Present(MediaCapture); !ok || !present {
		t.Error("expected media-capture present")
	}
}

func TestCheckCapabilitiesAllPresent(t *testing.T) {
	s, logs := newTestSession(t, sessionOpts{env: allPresent()})

	report := s.CheckCapabilities()
	if missing := report.Missing(); len(missing) != 0 {
		t.Fatalf("expected nothing missing, got %v", missing)
	}
	if got := logs.withMessage(t, "Missing capabilities"); len(got) != 0 {
		t.Errorf("expected no missing-capability warning, got %v", got)
	}
	if got := logs.withMessage(t, "All capabilities available"); len(got) != 1 {
		t.Errorf("expected one all-available line, got %d", len(got))
	}
	if got := logs.withMessage(t, "Capability"); len(got) != len(Capabilities) {
		t.Errorf("expected one row per capability, got %d", len(got))
	}
}

func TestCheckCapabilitiesWarnsAboutMissing(t *testing.T) {
	env := allPresent()
	env[AudioContext] = false
	s, logs := newTestSession(t, sessionOpts{env: env})

	s.CheckCapabilities()

	warnings := logs.withMessage(t, "Missing capabilities")
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(warnings))
	}
	if warnings[0]["level"] != "warn" {
		t.Errorf("expected warn level, got %v", warnings[0]["level"])
	}
	missing, _ := warnings[0]["missing"].([]any)
	if len(missing) != 1 || missing[0] != string(AudioContext) {
		t.Errorf("expected exactly [audio-context], got %v", warnings[0]["missing"])
	}
}

func TestDetectHost(t *testing.T) {
	host := newMockHost(newMockStream(1))
	cfg := config.Default().Audio

	tests := []struct {
		name     string
		endpoint string
		socket   bool
		secure   bool
	}{
		{"plain remote", "ws://speech.example.com/transcription", true, false},
		{"tls remote", "wss://speech.example.com/transcription", true, true},
		{"localhost", "ws://localhost:8000/transcription", true, true},
		{"loopback ip", "ws://127.0.0.1:8000/transcription", true, true},
		{"not a websocket", "http://localhost:8000", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := DetectHost(openerFor(host), cfg, tt.endpoint)
			if env.Has(SocketTransport) != tt.socket {
				t.Errorf("socket-transport: expected %v", tt.socket)
			}
			if env.Has(SecureContext) != tt.secure {
				t.Errorf("secure-context: expected %v", tt.secure)
			}
			if !env.Has(AudioContext) || !env.Has(MediaCapture) || !env.Has(AudioWorklet) {
				t.Error("expected audio capabilities from the mock host")
			}
		})
	}

	if host.closeCount() != len(tests) {
		t.Errorf("expected the audio context closed after every detection, got %d closes", host.closeCount())
	}
}

func TestDetectHostWithoutAudio(t *testing.T) {
	failing := func(cfg config.AudioConfig) (audio.Host, error) {
		return nil, errors.New("no audio backend")
	}

	env := DetectHost(failing, config.Default().Audio, testEndpoint)
	for _, c := range []Capability{MediaCapture, AudioContext, AudioWorklet} {
		if env.Has(c) {
			t.Errorf("expected %s missing", c)
		}
	}
	if !env.Has(SocketTransport) {
		t.Error("expected socket-transport present")
	}
}

func TestDetectHostUnsupportedFormat(t *testing.T) {
	host := newMockHost(newMockStream(1))
	host.format = errors.New("invalid sample rate")
	host.devices = nil

	env := DetectHost(openerFor(host), config.Default().Audio, testEndpoint)
	if env.Has(AudioWorklet) {
		t.Error("expected real-time-audio-worklet missing")
	}
	if env.Has(MediaCapture) {
		t.Error("expected media-capture missing without input devices")
	}
	if !env.Has(AudioContext) {
		t.Error("expected audio-context present")
	}
}
