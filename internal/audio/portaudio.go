package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/whisper-probe/internal/config"
	"github.com/petems/whisper-probe/internal/permissions"
)

type portAudioHost struct {
	sampleRate      int
	framesPerBuffer int

	mu      sync.Mutex
	streams []*portAudioStream
	closed  bool
}

// New initializes PortAudio and returns it as an audio context running at
// cfg.SampleRate. Close must be called to release it.
func New(cfg config.AudioConfig) (Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	if _, err := portaudio.DefaultHostApi(); err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("no audio host API available: %w", err)
	}

	frames := cfg.FramesPerBuffer
	if frames <= 0 {
		frames = 512
	}
	return &portAudioHost{
		sampleRate:      cfg.SampleRate,
		framesPerBuffer: frames,
	}, nil
}

func (h *portAudioHost) SampleRate() int {
	return h.sampleRate
}

func (h *portAudioHost) Open(ctx context.Context, c Constraints) (Stream, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("audio context is closed")
	}

	switch status := permissions.Microphone(); status {
	case permissions.StatusAuthorized:
	case permissions.StatusNotDetermined:
		permissions.RequestMicrophone()
		return nil, fmt.Errorf("%w: approval prompt shown, re-run once granted", ErrPermissionDenied)
	default:
		return nil, fmt.Errorf("%w: system status %s", ErrPermissionDenied, status)
	}

	device, err := findDevice(c.DeviceID)
	if err != nil {
		return nil, err
	}

	sampleRate := c.SampleRate
	if sampleRate <= 0 {
		sampleRate = h.sampleRate
	}
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	if channels > device.MaxInputChannels {
		return nil, fmt.Errorf("device %s supports %d input channels, %d requested", device.Name, device.MaxInputChannels, channels)
	}

	// Open stream: interleaved float32, downmixed to mono in the read loop
	buffer := make([]float32, h.framesPerBuffer*channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: h.framesPerBuffer,
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}

	settings := TrackSettings{
		DeviceID:     device.Name,
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Latency:      device.DefaultLowInputLatency,
		// PortAudio delivers the raw signal; no processing is applied
		EchoCancellation: false,
		NoiseSuppression: false,
	}
	if info := stream.Info(); info != nil {
		settings.SampleRate = int(info.SampleRate)
		settings.Latency = info.InputLatency
	}

	s := &portAudioStream{
		stream:   stream,
		buffer:   buffer,
		channels: channels,
		settings: settings,
		frames:   make(chan []float32, 8),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}

	h.mu.Lock()
	h.streams = append(h.streams, s)
	h.mu.Unlock()

	go s.readLoop(ctx)

	return s, nil
}

func (h *portAudioHost) SupportsFormat(deviceID string, sampleRate int, channels int) error {
	device, err := findDevice(deviceID)
	if err != nil {
		return err
	}
	return portaudio.IsFormatSupported(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: h.framesPerBuffer,
	}, make([]float32, h.framesPerBuffer*channels))
}

func (h *portAudioHost) ListDevices() ([]AudioDevice, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, AudioDevice{
				ID:                d.Name,
				Name:              d.Name,
				Default:           d == defaultDevice,
				MaxInputChannels:  d.MaxInputChannels,
				DefaultSampleRate: d.DefaultSampleRate,
			})
		}
	}

	return result, nil
}

// Close stops any stream still open and terminates PortAudio. Safe to call twice.
func (h *portAudioHost) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	streams := h.streams
	h.streams = nil
	h.mu.Unlock()

	for _, s := range streams {
		s.Stop()
	}
	return portaudio.Terminate()
}

func findDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: no default input device: %v", ErrDeviceNotFound, err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
}

type portAudioStream struct {
	stream   *portaudio.Stream
	buffer   []float32
	channels int
	settings TrackSettings

	frames   chan []float32
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

func (s *portAudioStream) readLoop(ctx context.Context) {
	defer close(s.exited)
	defer close(s.frames)
	defer func() {
		s.stream.Stop()
		s.stream.Close()
	}()

	frames := len(s.buffer) / s.channels
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if err == portaudio.InputOverflowed {
				continue
			}
			return
		}
		samples := downmixInterleaved(s.buffer, s.channels, frames)

		select {
		case s.frames <- samples:
		case <-s.done:
			return
		default:
			// Drop if channel full (no backpressure)
		}
	}
}

func (s *portAudioStream) Tracks() []Track {
	return []Track{&portAudioTrack{stream: s}}
}

func (s *portAudioStream) Frames() <-chan []float32 {
	return s.frames
}

// Stop ends the read loop and waits until the device is released
func (s *portAudioStream) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })
	<-s.exited
	return nil
}

// portAudioTrack is the single input track of a PortAudio stream
type portAudioTrack struct {
	stream *portAudioStream
}

func (t *portAudioTrack) Settings() TrackSettings {
	return t.stream.settings
}

func (t *portAudioTrack) Stop() error {
	return t.stream.Stop()
}
