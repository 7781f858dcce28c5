package virtual_test

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/hudlink/pkg/audio"
	"github.com/MrWong99/hudlink/pkg/audio/virtual"
	"github.com/MrWong99/hudlink/pkg/pcm"
)

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

func nextFrame(t *testing.T, s audio.InputStream) audio.Frame {
	t.Helper()
	select {
	case f, ok := <-s.Frames():
		if !ok {
			t.Fatal("frame channel closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return audio.Frame{}
}

func TestCapture_ReplaysReaderThenSilence(t *testing.T) {
	t.Parallel()

	src := make([]float32, 160)
	for i := range src {
		src[i] = 0.5
	}
	raw := pcm.AppendS16LE(nil, src)

	mic := virtual.NewCapture(virtual.WithReader(bytes.NewReader(raw)))
	stream, err := mic.Open(context.Background(), 160)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	if stream.SampleRate() != 16000 {
		t.Errorf("SampleRate = %d, want 16000", stream.SampleRate())
	}

	first := nextFrame(t, stream)
	if len(first.Samples) != 160 {
		t.Fatalf("frame size = %d, want 160", len(first.Samples))
	}
	if first.Samples[0] != 0.5 || first.Samples[159] != 0.5 {
		t.Errorf("first frame not replayed from source: %v", first.Samples[:4])
	}
	second := nextFrame(t, stream)
	if audio.RMS(second.Samples) != 0 {
		t.Error("exhausted source should produce silence")
	}
	if second.Timestamp <= first.Timestamp {
		t.Errorf("timestamps not increasing: %v then %v", first.Timestamp, second.Timestamp)
	}
}

func TestCapture_CloseClosesFrames(t *testing.T) {
	t.Parallel()

	stream, err := virtual.NewCapture().Open(context.Background(), 160)
	if err != nil {
		t.Fatal(err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	for range stream.Frames() {
	}
}

func TestCapture_MissingFile(t *testing.T) {
	t.Parallel()

	mic := virtual.NewCapture(virtual.WithFile(filepath.Join(t.TempDir(), "missing.pcm")))
	if _, err := mic.Open(context.Background(), 160); err == nil {
		t.Fatal("expected error for missing capture file")
	}
}

func TestCapture_InvalidBlockSize(t *testing.T) {
	t.Parallel()

	if _, err := virtual.NewCapture().Open(context.Background(), 0); err == nil {
		t.Fatal("expected error for zero block size")
	}
}

func TestOutput_RendersScheduledAudio(t *testing.T) {
	t.Parallel()

	sink := &syncBuffer{}
	dev := virtual.NewOutput(virtual.WithWriter(sink), virtual.WithPeriod(5*time.Millisecond))
	out, err := dev.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer out.Close()

	if out.SampleRate() != 24000 {
		t.Errorf("SampleRate = %d, want 24000", out.SampleRate())
	}

	buf := audio.Buffer{Samples: make([]float32, 240), SampleRate: 24000}
	for i := range buf.Samples {
		buf.Samples[i] = 0.25
	}
	ended := make(chan struct{})
	if _, err := out.Schedule(out.Now(), buf, func() { close(ended) }); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("buffer never finished playing")
	}

	if out.Now() < 0.01 {
		t.Errorf("clock at %v after a 10ms buffer finished", out.Now())
	}
	// The block carrying the tail is written right after onEnded fires.
	deadline := time.Now().Add(2 * time.Second)
	var loud int
	for time.Now().Before(deadline) {
		decoded, err := pcm.FromS16LE(sink.Bytes())
		if err != nil {
			t.Fatalf("sink holds malformed PCM: %v", err)
		}
		loud = 0
		for _, s := range decoded {
			if s > 0.2 {
				loud++
			}
		}
		if loud == 240 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("sink holds %d loud samples, want 240", loud)
}

func TestOutput_FileAndClose(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.pcm")
	out, err := virtual.NewOutput(virtual.WithOutputFile(path)).Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := out.Schedule(0, audio.Buffer{Samples: []float32{0}, SampleRate: 24000}, nil); err == nil {
		t.Error("Schedule after Close should fail")
	}
}
