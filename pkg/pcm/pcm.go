// Package pcm converts between normalised float audio samples and the
// transport encoding used on the live session wire: little-endian signed
// 16-bit PCM wrapped in standard base64.
//
// Outbound audio is always 16 kHz mono ([InputMIMEType]); inbound model audio
// is 24 kHz mono. The functions in this package are pure and safe for
// concurrent use.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/hudlink/pkg/audio"
)

const (
	// InputSampleRate is the sample rate of encoded microphone audio.
	InputSampleRate = 16000

	// OutputSampleRate is the sample rate of decoded model audio.
	OutputSampleRate = 24000

	// InputMIMEType tags every encoded outbound blob.
	InputMIMEType = "audio/pcm;rate=16000"

	// scale maps the normalised range [-1, 1] onto int16 codes.
	scale = 32768
)

// ErrOddLength is returned by [Decode] when the decoded payload cannot be
// split into whole 16-bit samples.
var ErrOddLength = errors.New("pcm: payload length is not a multiple of 2")

// Blob is one encoded unit of outbound audio, ready to be handed to a live
// session as realtime input.
type Blob struct {
	// Data is the base64 encoding of the little-endian int16 samples.
	Data string

	// MIMEType is always [InputMIMEType].
	MIMEType string
}

// Encode quantises samples to int16 via round(s * 32768) and returns the
// base64-wrapped little-endian byte stream.
//
// Samples outside [-1, 1] saturate at the int16 limits instead of wrapping,
// so +1.0 and anything above it encode as 32767 and -1.0 or below as -32768.
// NaN encodes as 0. Encode never fails.
func Encode(samples []float32) Blob {
	raw := AppendS16LE(make([]byte, 0, len(samples)*2), samples)
	return Blob{
		Data:     base64.StdEncoding.EncodeToString(raw),
		MIMEType: InputMIMEType,
	}
}

// Decode reverses the wire encoding of a model audio fragment: base64 to raw
// bytes, raw bytes to little-endian int16, int16 to float via i / 32768. The
// result is a mono buffer at sampleRate (normally [OutputSampleRate]).
//
// It returns [ErrOddLength] when the payload is not a whole number of
// samples, and a wrapped base64 error when the text is not valid base64.
func Decode(data string, sampleRate int) (audio.Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("pcm: decode base64: %w", err)
	}
	samples, err := FromS16LE(raw)
	if err != nil {
		return audio.Buffer{}, err
	}
	return audio.Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// Quantize maps one normalised sample to its int16 code using the saturating
// rule documented on [Encode].
func Quantize(s float32) int16 {
	v := math.Round(float64(s) * scale)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// AppendS16LE appends the quantised little-endian encoding of samples to dst.
func AppendS16LE(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(Quantize(s)))
	}
	return dst
}

// FromS16LE converts little-endian int16 PCM bytes to normalised floats.
func FromS16LE(raw []byte) ([]float32, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrOddLength, len(raw))
	}
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / scale
	}
	return out, nil
}
