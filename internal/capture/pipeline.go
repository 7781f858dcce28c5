// Package capture turns microphone frames into encoded realtime input for the
// live session.
//
// A [Pipeline] reads frames from an [audio.InputStream], measures their RMS
// level, resamples them to the 16 kHz wire rate when needed, encodes them
// with [pcm.Encode] and submits the blob to an [Outbound] queue. Submission
// never blocks, so the capture cadence is independent of the network.
package capture

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/MrWong99/hudlink/internal/observe"
	"github.com/MrWong99/hudlink/pkg/audio"
	"github.com/MrWong99/hudlink/pkg/pcm"
)

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMetrics sets the metrics the pipeline records to.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithLevelFunc registers fn to receive the RMS level of every frame.
func WithLevelFunc(fn func(level float64)) Option {
	return func(p *Pipeline) { p.onLevel = fn }
}

// Pipeline is one activation's capture loop.
type Pipeline struct {
	stream  audio.InputStream
	out     *Outbound
	conv    *audio.FormatConverter
	metrics *observe.Metrics
	logger  *slog.Logger
	onLevel func(float64)

	level  atomic.Uint64 // math.Float64bits
	frames atomic.Int64
}

// New returns a pipeline that reads stream and submits to out.
func New(stream audio.InputStream, out *Outbound, opts ...Option) *Pipeline {
	p := &Pipeline{
		stream: stream,
		out:    out,
		conv:   &audio.FormatConverter{TargetRate: pcm.InputSampleRate},
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.NopMetrics()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Run processes frames until ctx is cancelled or the stream closes. It
// returns nil in both cases.
func (p *Pipeline) Run(ctx context.Context) error {
	frames := p.stream.Frames()
	p.logger.Debug("capture: pipeline started", "device_rate", p.stream.SampleRate())
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				p.logger.Debug("capture: input stream closed", "frames", p.frames.Load())
				return nil
			}
			p.Process(ctx, f)
		}
	}
}

// Process handles a single frame.
func (p *Pipeline) Process(ctx context.Context, f audio.Frame) {
	if f.SampleRate == 0 {
		f.SampleRate = p.stream.SampleRate()
	}

	lvl := audio.RMS(f.Samples)
	p.level.Store(math.Float64bits(lvl))
	p.metrics.InputLevel.Record(ctx, lvl)
	if p.onLevel != nil {
		p.onLevel(lvl)
	}

	f = p.conv.Convert(f)
	p.out.Submit(pcm.Encode(f.Samples))

	p.frames.Add(1)
	p.metrics.CaptureFrames.Add(ctx, 1)
}

// Level returns the RMS level of the most recent frame.
func (p *Pipeline) Level() float64 {
	return math.Float64frombits(p.level.Load())
}

// Frames returns the number of frames processed so far.
func (p *Pipeline) Frames() int64 {
	return p.frames.Load()
}
