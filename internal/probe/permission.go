package probe

import (
	"context"
	"errors"

	"github.com/petems/whisper-probe/internal/audio"
	"github.com/rs/zerolog"
)

const permissionHint = "Grant microphone access: System Settings > Privacy & Security > Microphone"

// CheckMicrophone requests the microphone with the capture configuration
// the backend expects, reports what was granted and releases it again.
// No device stays open once it returns.
func (s *Session) CheckMicrophone(ctx context.Context) bool {
	s.log.Info().Msg("Testing microphone access")

	host, err := s.openAudio(s.audioCfg)
	if err != nil {
		s.log.Error().Err(err).Msg("Microphone access failed")
		return false
	}
	defer host.Close()

	stream, err := host.Open(ctx, audio.Constraints{
		DeviceID:         s.audioCfg.DeviceID,
		SampleRate:       s.audioCfg.SampleRate,
		Channels:         s.audioCfg.Channels,
		EchoCancellation: s.audioCfg.EchoCancellation,
		NoiseSuppression: s.audioCfg.NoiseSuppression,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Microphone access failed")
		if errors.Is(err, audio.ErrPermissionDenied) {
			s.log.Info().Msg(permissionHint)
		}
		return false
	}

	tracks := stream.Tracks()
	ev := s.log.Info().Int("tracks", len(tracks))
	if len(tracks) > 0 {
		st := tracks[0].Settings()
		ev = ev.Dict("settings", zerolog.Dict().
			Str("device", st.DeviceID).
			Int("sample_rate", st.SampleRate).
			Int("channels", st.ChannelCount).
			Dur("latency", st.Latency).
			Bool("echo_cancellation", st.EchoCancellation).
			Bool("noise_suppression", st.NoiseSuppression))
	}
	ev.Msg("Microphone access granted")

	for _, t := range tracks {
		if err := t.Stop(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to stop track")
		}
	}

	return true
}
