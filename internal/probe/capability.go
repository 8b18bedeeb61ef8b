package probe

import (
	"net"
	"strings"

	"github.com/petems/whisper-probe/internal/config"
	"github.com/petems/whisper-probe/internal/transport"
)

type Capability string

const (
	MediaCapture    Capability = "media-capture"
	AudioContext    Capability = "audio-context"
	AudioWorklet    Capability = "real-time-audio-worklet"
	SocketTransport Capability = "socket-transport"
	SecureContext   Capability = "secure-context"
)

// Capabilities is the fixed, ordered set every report covers
var Capabilities = []Capability{
	MediaCapture,
	AudioContext,
	AudioWorklet,
	SocketTransport,
	SecureContext,
}

// Environment answers whether a capability is present
type Environment interface {
	Has(c Capability) bool
}

type CapabilityEntry struct {
	Name    Capability
	Present bool
}

// CapabilityReport is an immutable, ordered capability -> presence mapping
type CapabilityReport struct {
	entries []CapabilityEntry
}

// NewCapabilityReport evaluates every capability against env
func NewCapabilityReport(env Environment) CapabilityReport {
	entries := make([]CapabilityEntry, 0, len(Capabilities))
	for _, c := range Capabilities {
		entries = append(entries, CapabilityEntry{Name: c, Present: env.Has(c)})
	}
	return CapabilityReport{entries: entries}
}

func (r CapabilityReport) Entries() []CapabilityEntry {
	out := make([]CapabilityEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Present returns whether c is present and whether the report covers c at all
func (r CapabilityReport) Present(c Capability) (present, ok bool) {
	for _, e := range r.entries {
		if e.Name == c {
			return e.Present, true
		}
	}
	return false, false
}

// Missing lists absent capabilities in report order
func (r CapabilityReport) Missing() []Capability {
	var missing []Capability
	for _, e := range r.entries {
		if !e.Present {
			missing = append(missing, e.Name)
		}
	}
	return missing
}

// CheckCapabilities inspects the environment and logs a summary. Missing
// capabilities are reported, never treated as errors.
func (s *Session) CheckCapabilities() CapabilityReport {
	s.log.Info().Msg("Checking host capabilities")

	env := s.env
	if env == nil {
		env = DetectHost(s.openAudio, s.audioCfg, s.endpoint)
	}
	report := NewCapabilityReport(env)

	for _, e := range report.entries {
		s.log.Info().Str("capability", string(e.Name)).Bool("present", e.Present).Msg("Capability")
	}

	missing := report.Missing()
	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = string(m)
		}
		s.log.Warn().Strs("missing", names).Msg("Missing capabilities")
	} else {
		s.log.Info().Msg("All capabilities available")
	}

	return report
}

// HostEnvironment is the capability set of the machine the probe runs on
type HostEnvironment struct {
	present map[Capability]bool
}

// DetectHost opens an audio context once to discover what the host supports
func DetectHost(openAudio AudioOpener, cfg config.AudioConfig, endpoint string) *HostEnvironment {
	env := &HostEnvironment{present: make(map[Capability]bool, len(Capabilities))}

	if u, err := transport.ParseEndpoint(endpoint); err == nil {
		env.present[SocketTransport] = true
		env.present[SecureContext] = u.Scheme == "wss" || isLoopback(u.Hostname())
	}

	host, err := openAudio(cfg)
	if err != nil {
		return env
	}
	defer host.Close()

	env.present[AudioContext] = true
	if devices, err := host.ListDevices(); err == nil && len(devices) > 0 {
		env.present[MediaCapture] = true
	}
	// The processing unit needs the input device at the target rate, mono
	env.present[AudioWorklet] = host.SupportsFormat(cfg.DeviceID, cfg.SampleRate, 1) == nil

	return env
}

func (e *HostEnvironment) Has(c Capability) bool {
	return e.present[c]
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
