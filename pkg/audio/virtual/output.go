package virtual

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/hudlink/pkg/audio"
	"github.com/MrWong99/hudlink/pkg/audio/mixer"
	"github.com/MrWong99/hudlink/pkg/pcm"
)

// Compile-time interface assertions.
var (
	_ audio.OutputDevice = (*Output)(nil)
	_ audio.Output       = (*output)(nil)
)

const defaultPeriod = 20 * time.Millisecond

// OutputOption configures an [Output].
type OutputOption func(*Output)

// WithWriter sends the rendered s16le mix to w.
func WithWriter(w io.Writer) OutputOption {
	return func(o *Output) { o.w = w }
}

// WithOutputFile creates (or truncates) path on every [Output.Open] and
// writes the rendered s16le mix to it.
func WithOutputFile(path string) OutputOption {
	return func(o *Output) { o.path = path }
}

// WithPeriod sets how often the render loop pulls a block from the timeline.
// Defaults to 20ms.
func WithPeriod(d time.Duration) OutputOption {
	return func(o *Output) {
		if d > 0 {
			o.period = d
		}
	}
}

// WithOutputRate sets the render rate. Defaults to 24000.
func WithOutputRate(hz int) OutputOption {
	return func(o *Output) {
		if hz > 0 {
			o.rate = hz
		}
	}
}

// Output is a virtual speaker clocked by the wall clock.
type Output struct {
	w      io.Writer
	path   string
	period time.Duration
	rate   int
}

// NewOutput returns a virtual speaker. Without a writer or file the mix is
// rendered and discarded, which still drives the clock and completion
// callbacks.
func NewOutput(opts ...OutputOption) *Output {
	o := &Output{period: defaultPeriod, rate: pcm.OutputSampleRate}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open implements [audio.OutputDevice].
func (o *Output) Open(ctx context.Context) (audio.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := o.w
	var closer io.Closer
	if o.path != "" {
		f, err := os.Create(o.path)
		if err != nil {
			return nil, fmt.Errorf("virtual: create output file: %w", err)
		}
		w, closer = f, f
	}
	if w == nil {
		w = io.Discard
	}

	out := &output{
		Timeline: mixer.NewTimeline(o.rate),
		w:        w,
		closer:   closer,
		block:    int(int64(o.rate) * int64(o.period) / int64(time.Second)),
		period:   o.period,
		done:     make(chan struct{}),
	}
	out.wg.Add(1)
	go out.run()
	return out, nil
}

type output struct {
	*mixer.Timeline

	w      io.Writer
	closer io.Closer
	block  int
	period time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// run renders one block per tick. The timeline clock therefore tracks wall
// time at the ticker's resolution.
func (o *output) run() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.period)
	defer ticker.Stop()

	samples := make([]float32, o.block)
	raw := make([]byte, 0, o.block*2)
	writeFailed := false
	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
		}
		o.Render(samples)
		if writeFailed {
			continue
		}
		raw = pcm.AppendS16LE(raw[:0], samples)
		if _, err := o.w.Write(raw); err != nil {
			slog.Warn("virtual output: write failed, discarding further audio", "err", err)
			writeFailed = true
		}
	}
}

// Close stops the render loop, discards scheduled voices and closes the
// output file if one was created. Idempotent.
func (o *output) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.done)
		o.wg.Wait()
		_ = o.Timeline.Close()
		if o.closer != nil {
			err = o.closer.Close()
		}
	})
	return err
}
