package audio

import (
	"errors"
	"fmt"
	"sync"
)

// ErrProcessorConnected is returned by Connect on a processor already wired
// to a source, or one that has been disconnected.
var ErrProcessorConnected = errors.New("processor already connected")

// Processor turns a continuous stream of float32 frames into discrete
// PCM16 little-endian chunks of a fixed size. It runs on its own goroutine
// and hands chunks over on Chunks; there is no backpressure toward the source.
type Processor struct {
	chunkBytes int
	chunks     chan []byte
	stop       chan struct{}
	done       chan struct{}

	mu        sync.Mutex
	connected bool
	stopped   bool
}

// NewProcessor creates a processor emitting chunks of chunkBytes bytes
func NewProcessor(chunkBytes int) (*Processor, error) {
	if chunkBytes <= 0 || chunkBytes%2 != 0 {
		return nil, fmt.Errorf("chunk size must be a positive even number of bytes, got %d", chunkBytes)
	}
	return &Processor{
		chunkBytes: chunkBytes,
		chunks:     make(chan []byte, 16),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Connect starts pulling frames from src. When src is closed the buffered
// remainder is emitted as a short final chunk and Chunks is closed.
func (p *Processor) Connect(src <-chan []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected || p.stopped {
		return ErrProcessorConnected
	}
	p.connected = true

	go p.run(src)
	return nil
}

// Chunks delivers framed audio. It is closed after Disconnect or once the
// source ends.
func (p *Processor) Chunks() <-chan []byte {
	return p.chunks
}

// Disconnect stops processing and discards any partial chunk. Safe to call twice.
func (p *Processor) Disconnect() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	connected := p.connected
	close(p.stop)
	p.mu.Unlock()

	if connected {
		<-p.done
		return
	}
	close(p.chunks)
}

func (p *Processor) run(src <-chan []float32) {
	defer close(p.done)
	defer close(p.chunks)

	pending := make([]byte, 0, p.chunkBytes*2)
	for {
		select {
		case <-p.stop:
			return
		case frame, ok := <-src:
			if !ok {
				if len(pending) > 0 {
					p.emit(append([]byte(nil), pending...))
				}
				return
			}

			pending = EncodePCM16(pending, frame)
			for len(pending) >= p.chunkBytes {
				chunk := make([]byte, p.chunkBytes)
				copy(chunk, pending)
				pending = append(pending[:0], pending[p.chunkBytes:]...)
				if !p.emit(chunk) {
					return
				}
			}
		}
	}
}

func (p *Processor) emit(chunk []byte) bool {
	select {
	case p.chunks <- chunk:
		return true
	case <-p.stop:
		return false
	}
}
