package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned when the OS refuses microphone access
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceNotFound is returned when no matching input device exists
	ErrDeviceNotFound = errors.New("input device not found")
)

// Host is an open audio context. Streams opened from it are released by Close.
type Host interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
	ListDevices() ([]AudioDevice, error)
	SupportsFormat(deviceID string, sampleRate int, channels int) error
	SampleRate() int
	Close() error
}

// Stream is a live microphone capture
type Stream interface {
	Tracks() []Track
	// Frames delivers mono float32 frames; closed once every track stopped
	Frames() <-chan []float32
	Stop() error
}

// Track is one captured input; stopping it releases the device
type Track interface {
	Settings() TrackSettings
	Stop() error
}

// Constraints describes a capture request. Zero values mean the host default.
type Constraints struct {
	DeviceID         string
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

// TrackSettings are the values the device actually negotiated
type TrackSettings struct {
	DeviceID         string
	SampleRate       int
	ChannelCount     int
	Latency          time.Duration
	EchoCancellation bool
	NoiseSuppression bool
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID                string
	Name              string
	Default           bool
	MaxInputChannels  int
	DefaultSampleRate float64
}
