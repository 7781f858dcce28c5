package capture_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/hudlink/internal/capture"
	"github.com/MrWong99/hudlink/pkg/audio"
	audiomock "github.com/MrWong99/hudlink/pkg/audio/mock"
	"github.com/MrWong99/hudlink/pkg/pcm"
	livemock "github.com/MrWong99/hudlink/pkg/provider/live/mock"
)

func constFrame(v float32, n, rate int) audio.Frame {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return audio.Frame{Samples: s, SampleRate: rate}
}

func TestPipeline_EncodesAndSubmits(t *testing.T) {
	t.Parallel()
	stream := audiomock.NewInputStream(pcm.InputSampleRate, 4)
	q := capture.NewOutbound()
	sess := livemock.NewSession(1)
	q.Attach(sess)
	runQueue(t, q)

	var levels []float64
	p := capture.New(stream, q, capture.WithLevelFunc(func(l float64) { levels = append(levels, l) }))

	stream.Push(constFrame(0.5, 4096, pcm.InputSampleRate))
	stream.Push(constFrame(-0.25, 4096, pcm.InputSampleRate))
	_ = stream.Close()

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := waitSent(t, sess, 2)
	want := pcm.Encode(constFrame(0.5, 4096, pcm.InputSampleRate).Samples)
	if got[0] != want {
		t.Error("first blob does not match pcm.Encode of the frame")
	}
	if got[1].MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", got[1].MIMEType)
	}
	if p.Frames() != 2 {
		t.Errorf("Frames() = %d, want 2", p.Frames())
	}
	if len(levels) != 2 || math.Abs(levels[0]-0.5) > 1e-6 || math.Abs(levels[1]-0.25) > 1e-6 {
		t.Errorf("levels = %v, want [0.5 0.25]", levels)
	}
	if math.Abs(p.Level()-0.25) > 1e-6 {
		t.Errorf("Level() = %v, want 0.25", p.Level())
	}
}

func TestPipeline_ResamplesForeignRate(t *testing.T) {
	t.Parallel()
	stream := audiomock.NewInputStream(48000, 1)
	q := capture.NewOutbound()
	p := capture.New(stream, q)

	p.Process(context.Background(), constFrame(0.1, 4800, 48000))

	sess := livemock.NewSession(1)
	q.Attach(sess)
	runQueue(t, q)
	got := waitSent(t, sess, 1)

	samples, err := pcm.Decode(got[0].Data, pcm.InputSampleRate)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n := len(samples.Samples); n != 1600 {
		t.Errorf("resampled frame has %d samples, want 1600", n)
	}
}

func TestPipeline_QueuesBeforeChannelOpens(t *testing.T) {
	t.Parallel()
	stream := audiomock.NewInputStream(pcm.InputSampleRate, 8)
	q := capture.NewOutbound()
	runQueue(t, q)
	p := capture.New(stream, q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	for range 3 {
		stream.Push(constFrame(0.2, 160, pcm.InputSampleRate))
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.Frames() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if q.Len() != 3 {
		t.Fatalf("queued %d blobs before attach, want 3", q.Len())
	}

	sess := livemock.NewSession(1)
	q.Attach(sess)
	waitSent(t, sess, 3)

	cancel()
	<-done
}

func TestPipeline_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	stream := audiomock.NewInputStream(pcm.InputSampleRate, 1)
	p := capture.New(stream, capture.NewOutbound())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
