// Package virtual provides cgo-free audio devices for headless operation and
// tests.
//
// [Capture] replays raw s16le mono PCM from a file or reader at real-time
// cadence, falling back to silence once the source is exhausted (or from the
// start when no source is configured). [Output] renders a scheduling
// [mixer.Timeline] on a wall-clock ticker and writes the mix as s16le PCM to
// an optional sink.
package virtual

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hudlink/pkg/audio"
	"github.com/MrWong99/hudlink/pkg/pcm"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice = (*Capture)(nil)
	_ audio.InputStream   = (*captureStream)(nil)
)

const frameBuffer = 8

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithFile replays the s16le mono PCM file at path. The file is opened on
// every [Capture.Open]; a missing file makes Open fail.
func WithFile(path string) CaptureOption {
	return func(c *Capture) { c.path = path }
}

// WithReader replays s16le mono PCM from r. The reader is consumed by the
// first stream opened.
func WithReader(r io.Reader) CaptureOption {
	return func(c *Capture) { c.src = r }
}

// WithCaptureRate sets the sample rate the source is assumed to be recorded
// at. Defaults to 16000.
func WithCaptureRate(hz int) CaptureOption {
	return func(c *Capture) {
		if hz > 0 {
			c.rate = hz
		}
	}
}

// Capture is a virtual microphone.
type Capture struct {
	path string
	src  io.Reader
	rate int
}

// NewCapture returns a virtual microphone. Without a file or reader it
// produces silence.
func NewCapture(opts ...CaptureOption) *Capture {
	c := &Capture{rate: pcm.InputSampleRate}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open implements [audio.CaptureDevice].
func (c *Capture) Open(ctx context.Context, blockSize int) (audio.InputStream, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("virtual: invalid block size %d", blockSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := c.src
	var closer io.Closer
	if c.path != "" {
		f, err := os.Open(c.path)
		if err != nil {
			return nil, fmt.Errorf("virtual: open capture file: %w", err)
		}
		src, closer = f, f
	}

	s := &captureStream{
		src:       src,
		closer:    closer,
		rate:      c.rate,
		blockSize: blockSize,
		frames:    make(chan audio.Frame, frameBuffer),
		done:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

type captureStream struct {
	src       io.Reader
	closer    io.Closer
	rate      int
	blockSize int
	frames    chan audio.Frame
	dropped   atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (s *captureStream) Frames() <-chan audio.Frame { return s.frames }

func (s *captureStream) SampleRate() int { return s.rate }

func (s *captureStream) run() {
	defer s.wg.Done()
	defer close(s.frames)

	period := time.Duration(s.blockSize) * time.Second / time.Duration(s.rate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	raw := make([]byte, s.blockSize*2)
	var elapsed time.Duration
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		samples := make([]float32, s.blockSize)
		if s.src != nil {
			n, err := io.ReadFull(s.src, raw)
			if n > 0 {
				decoded, _ := pcm.FromS16LE(raw[:n&^1])
				copy(samples, decoded)
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					slog.Warn("virtual capture: read failed, continuing with silence", "err", err)
				}
				s.src = nil
			}
		}

		select {
		case s.frames <- audio.Frame{Samples: samples, SampleRate: s.rate, Timestamp: elapsed}:
		default:
			s.dropped.Add(1)
		}
		elapsed += period
	}
}

// Close stops the stream and waits for its goroutine to exit. Idempotent.
func (s *captureStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		if n := s.dropped.Load(); n > 0 {
			slog.Debug("virtual capture: frames dropped by slow consumer", "count", n)
		}
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}
