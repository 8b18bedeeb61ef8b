package summary

import (
	"testing"
	"time"
)

func TestStatsString(t *testing.T) {
	s := Stats{
		Endpoint:      "ws://localhost:8000/transcription",
		BytesSent:     64000,
		BytesReceived: 512,
		ChunksDropped: 2,
		Duration:      2*time.Second + 345678*time.Microsecond,
	}

	want := "whisper-probe ws://localhost:8000/transcription: sent 64000 bytes, received 512 bytes, dropped 2 chunks in 2.346s"
	if got := s.String(); got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}
