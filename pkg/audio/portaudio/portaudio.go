//go:build portaudio

// Package portaudio provides microphone and speaker devices backed by the
// PortAudio C library. Build with -tags portaudio; the library and its headers
// must be installed.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/hudlink/pkg/audio"
	"github.com/MrWong99/hudlink/pkg/audio/mixer"
	"github.com/MrWong99/hudlink/pkg/pcm"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice = (*Microphone)(nil)
	_ audio.OutputDevice  = (*Speaker)(nil)
	_ audio.InputStream   = (*inputStream)(nil)
	_ audio.Output        = (*output)(nil)
)

const (
	frameBuffer = 8

	// OutputFramesPerBuffer is 40ms of audio at 24kHz.
	OutputFramesPerBuffer = 960
)

// Microphone opens the default PortAudio input device as a 16 kHz mono stream.
type Microphone struct {
	Rate int
}

// NewMicrophone returns a microphone capturing at the live wire rate.
func NewMicrophone() *Microphone {
	return &Microphone{Rate: pcm.InputSampleRate}
}

// Open implements [audio.CaptureDevice].
func (m *Microphone) Open(_ context.Context, blockSize int) (audio.InputStream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	buf := make([]float32, blockSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.Rate), blockSize, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}

	s := &inputStream{
		stream: stream,
		buf:    buf,
		rate:   m.Rate,
		frames: make(chan audio.Frame, frameBuffer),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.captureLoop()
	return s, nil
}

type inputStream struct {
	stream *portaudio.Stream
	buf    []float32
	rate   int
	frames chan audio.Frame

	sent    uint64
	dropped atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (s *inputStream) Frames() <-chan audio.Frame { return s.frames }

func (s *inputStream) SampleRate() int { return s.rate }

func (s *inputStream) captureLoop() {
	defer s.wg.Done()
	defer close(s.frames)

	period := time.Duration(len(s.buf)) * time.Second / time.Duration(s.rate)
	var elapsed time.Duration
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("portaudio: input overflowed")
			} else {
				select {
				case <-s.done:
					return
				default:
				}
				time.Sleep(10 * time.Millisecond)
				continue
			}
		}

		f := audio.Frame{
			Samples:    append([]float32(nil), s.buf...),
			SampleRate: s.rate,
			Timestamp:  elapsed,
		}
		elapsed += period

		select {
		case s.frames <- f:
			s.sent++
		default:
			s.dropped.Add(1)
		}
	}
}

// Close aborts the stream so a blocked Read returns, then releases PortAudio.
func (s *inputStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		abortErr := s.stream.Abort()
		s.wg.Wait()
		err = errors.Join(abortErr, s.stream.Close(), portaudio.Terminate())
		if d := s.dropped.Load(); d > 0 {
			slog.Warn("portaudio: capture dropped frames", "sent", s.sent, "dropped", d)
		}
	})
	return err
}

// Speaker opens the default PortAudio output device as a 24 kHz mono stream
// fed by a scheduling timeline.
type Speaker struct {
	Rate int
}

// NewSpeaker returns a speaker at the model's output rate.
func NewSpeaker() *Speaker {
	return &Speaker{Rate: pcm.OutputSampleRate}
}

// Open implements [audio.OutputDevice].
func (sp *Speaker) Open(_ context.Context) (audio.Output, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	buf := make([]float32, OutputFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sp.Rate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}

	o := &output{
		Timeline: mixer.NewTimeline(sp.Rate),
		stream:   stream,
		buf:      buf,
		done:     make(chan struct{}),
	}
	o.wg.Add(1)
	go o.playbackLoop()
	return o, nil
}

type output struct {
	*mixer.Timeline

	stream *portaudio.Stream
	buf    []float32

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// playbackLoop renders one device buffer at a time. Write blocks until the
// device has room, so the timeline clock follows the hardware clock.
func (o *output) playbackLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		default:
		}
		o.Render(o.buf)
		if err := o.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			select {
			case <-o.done:
				return
			default:
			}
			slog.Debug("portaudio: output write failed", "err", err)
		}
	}
}

func (o *output) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.done)
		abortErr := o.stream.Abort()
		o.wg.Wait()
		_ = o.Timeline.Close()
		err = errors.Join(abortErr, o.stream.Close(), portaudio.Terminate())
	})
	return err
}
