package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel    string         `json:"log_level" yaml:"log_level"`
	CopySummary bool           `json:"copy_summary" yaml:"copy_summary"`
	Endpoint    EndpointConfig `json:"endpoint" yaml:"endpoint"`
	Audio       AudioConfig    `json:"audio" yaml:"audio"`
	Probe       ProbeConfig    `json:"probe" yaml:"probe"`
	Health      HealthConfig   `json:"health" yaml:"health"`
}

// EndpointConfig locates the transcription WebSocket behind the reverse proxy
type EndpointConfig struct {
	Host   string `json:"host" yaml:"host"`     // "localhost:8000"
	Path   string `json:"path" yaml:"path"`     // "/transcription"
	Secure bool   `json:"secure" yaml:"secure"` // wss instead of ws
}

type AudioConfig struct {
	DeviceID         string `json:"device_id" yaml:"device_id"`
	SampleRate       int    `json:"sample_rate" yaml:"sample_rate"`
	Channels         int    `json:"channels" yaml:"channels"`
	EchoCancellation bool   `json:"echo_cancellation" yaml:"echo_cancellation"`
	NoiseSuppression bool   `json:"noise_suppression" yaml:"noise_suppression"`
	FramesPerBuffer  int    `json:"frames_per_buffer" yaml:"frames_per_buffer"`
	ChunkBytes       int    `json:"chunk_bytes" yaml:"chunk_bytes"` // PCM16 bytes per outbound frame
}

type ProbeConfig struct {
	ConnectTimeoutMS int `json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	ProxyTimeoutMS   int `json:"proxy_timeout_ms" yaml:"proxy_timeout_ms"`
	StatsEveryBytes  int `json:"stats_every_bytes" yaml:"stats_every_bytes"`
	PreviewChars     int `json:"preview_chars" yaml:"preview_chars"`
}

// HealthConfig holds the endpoints of the backend health chain
type HealthConfig struct {
	PageURL           string `json:"page_url" yaml:"page_url"`
	TranscriptionURL  string `json:"transcription_url" yaml:"transcription_url"`
	TTSURL            string `json:"tts_url" yaml:"tts_url"`
	ResponseTimeoutMS int    `json:"response_timeout_ms" yaml:"response_timeout_ms"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Endpoint: EndpointConfig{
			Host: "localhost:8000",
			Path: "/transcription",
		},
		Audio: AudioConfig{
			DeviceID:         "",
			SampleRate:       16000,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
			FramesPerBuffer:  512,
			ChunkBytes:       4096,
		},
		Probe: ProbeConfig{
			ConnectTimeoutMS: 5000,
			ProxyTimeoutMS:   3000,
			StatsEveryBytes:  32000, // ~1s of 16 kHz PCM16 mono
			PreviewChars:     100,
		},
		Health: HealthConfig{
			PageURL:           "http://localhost:8000",
			TranscriptionURL:  "ws://localhost:6006",
			TTSURL:            "ws://localhost:8888",
			ResponseTimeoutMS: 5000,
		},
	}
}

// Load reads the config from disk or returns defaults.
// An empty path means the platform default location.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the config to disk, as YAML when the extension asks for it
func (c *Config) Save(path string) error {
	if path == "" {
		path = Path()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks that sizes, rates and timeouts are usable
func (c *Config) Validate() error {
	if c.Endpoint.Host == "" {
		return fmt.Errorf("endpoint.host is required")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels <= 0 {
		return fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels)
	}
	if c.Audio.FramesPerBuffer <= 0 {
		return fmt.Errorf("audio.frames_per_buffer must be positive, got %d", c.Audio.FramesPerBuffer)
	}
	if c.Audio.ChunkBytes <= 0 || c.Audio.ChunkBytes%2 != 0 {
		return fmt.Errorf("audio.chunk_bytes must be a positive even number, got %d", c.Audio.ChunkBytes)
	}
	if c.Probe.ConnectTimeoutMS <= 0 || c.Probe.ProxyTimeoutMS <= 0 {
		return fmt.Errorf("probe timeouts must be positive")
	}
	if c.Probe.StatsEveryBytes <= 0 {
		return fmt.Errorf("probe.stats_every_bytes must be positive, got %d", c.Probe.StatsEveryBytes)
	}
	if c.Health.ResponseTimeoutMS <= 0 {
		return fmt.Errorf("health.response_timeout_ms must be positive, got %d", c.Health.ResponseTimeoutMS)
	}
	return nil
}

// URL returns the WebSocket address of the transcription endpoint
func (e EndpointConfig) URL() string {
	scheme := "ws"
	if e.Secure {
		scheme = "wss"
	}
	path := e.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{Scheme: scheme, Host: e.Host, Path: path}
	return u.String()
}

func (p ProbeConfig) ConnectTimeout() time.Duration {
	return time.Duration(p.ConnectTimeoutMS) * time.Millisecond
}

func (p ProbeConfig) ProxyTimeout() time.Duration {
	return time.Duration(p.ProxyTimeoutMS) * time.Millisecond
}

func (h HealthConfig) ResponseTimeout() time.Duration {
	return time.Duration(h.ResponseTimeoutMS) * time.Millisecond
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Path returns the platform-specific config file path
func Path() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "whisper-probe", "config.json")
}
