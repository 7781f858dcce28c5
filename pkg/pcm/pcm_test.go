package pcm_test

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/hudlink/pkg/pcm"
)

// rawSamples base64-decodes a blob and returns its int16 codes.
func rawSamples(t *testing.T, b pcm.Blob) []int16 {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		t.Fatalf("blob is not valid base64: %v", err)
	}
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out
}

func TestEncode_KnownValues(t *testing.T) {
	t.Parallel()

	blob := pcm.Encode([]float32{0, 0.5, -0.5, -1, 1.0 / 32768})
	if blob.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", blob.MIMEType)
	}
	got := rawSamples(t, blob)
	want := []int16{0, 16384, -16384, -32768, 1}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEncode_LittleEndianBytes(t *testing.T) {
	t.Parallel()

	// 0.5 -> 16384 -> 0x4000 -> bytes 00 40.
	blob := pcm.Encode([]float32{0.5})
	if blob.Data != base64.StdEncoding.EncodeToString([]byte{0x00, 0x40}) {
		t.Errorf("Data = %q", blob.Data)
	}
}

func TestEncode_Empty(t *testing.T) {
	t.Parallel()

	blob := pcm.Encode(nil)
	if blob.Data != "" {
		t.Errorf("Data = %q, want empty", blob.Data)
	}
}

func TestEncode_OutOfRangeSaturates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"plus one", 1.0, 32767},
		{"one and a half", 1.5, 32767},
		{"far above", 100, 32767},
		{"minus one and a half", -1.5, -32768},
		{"nan", float32(math.NaN()), 0},
		{"plus inf", float32(math.Inf(1)), 32767},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := rawSamples(t, pcm.Encode([]float32{tt.in}))
			if got[0] != tt.want {
				t.Errorf("Encode(%v) = %d, want %d", tt.in, got[0], tt.want)
			}
		})
	}
}

func TestRoundTrip_WithinOneStep(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	frame := make([]float32, 4096)
	for i := range frame {
		frame[i] = float32(r.Float64()*2 - 1)
	}
	frame[0], frame[1], frame[2] = -1, 1, 0

	buf, err := pcm.Decode(pcm.Encode(frame).Data, pcm.OutputSampleRate)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(buf.Samples) != len(frame) {
		t.Fatalf("length mismatch: got %d, want %d", len(buf.Samples), len(frame))
	}
	const tol = 1.0 / 32768
	for i, s := range frame {
		if d := math.Abs(float64(buf.Samples[i] - s)); d > tol {
			t.Fatalf("sample %d: |%v - %v| = %g > %g", i, buf.Samples[i], s, d, tol)
		}
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	raw := []byte{0x00, 0x80, 0xff, 0x7f, 0x00, 0x00} // -32768, 32767, 0
	buf, err := pcm.Decode(base64.StdEncoding.EncodeToString(raw), 24000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want 24000", buf.SampleRate)
	}
	want := []float32{-1, 32767.0 / 32768, 0}
	for i := range want {
		if buf.Samples[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, buf.Samples[i], want[i])
		}
	}
	if d := buf.Duration(); math.Abs(d-3.0/24000) > 1e-12 {
		t.Errorf("Duration = %v", d)
	}
}

func TestDecode_OddLength(t *testing.T) {
	t.Parallel()

	_, err := pcm.Decode(base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), 24000)
	if !errors.Is(err, pcm.ErrOddLength) {
		t.Fatalf("err = %v, want ErrOddLength", err)
	}
}

func TestDecode_InvalidBase64(t *testing.T) {
	t.Parallel()

	_, err := pcm.Decode("not base64!!", 24000)
	if err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if errors.Is(err, pcm.ErrOddLength) {
		t.Error("invalid base64 must not be reported as ErrOddLength")
	}
}
