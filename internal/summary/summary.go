package summary

import (
	"errors"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
)

// ErrUnsupported is returned when no clipboard utility is available
var ErrUnsupported = errors.New("clipboard not supported on this system")

// Stats are the byte totals of a streaming session
type Stats struct {
	Endpoint      string
	BytesSent     int64
	BytesReceived int64
	ChunksDropped int64
	Duration      time.Duration
}

// String renders the stats as one line suitable for a bug report
func (s Stats) String() string {
	return fmt.Sprintf("whisper-probe %s: sent %d bytes, received %d bytes, dropped %d chunks in %s",
		s.Endpoint, s.BytesSent, s.BytesReceived, s.ChunksDropped, s.Duration.Round(time.Millisecond))
}

// Copier places text somewhere the operator can paste it from
type Copier interface {
	Copy(text string) error
}

type clipboardCopier struct{}

// NewClipboard returns a Copier backed by the system clipboard
func NewClipboard() Copier {
	return clipboardCopier{}
}

func (clipboardCopier) Copy(text string) error {
	if clipboard.Unsupported {
		return ErrUnsupported
	}
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	return nil
}
