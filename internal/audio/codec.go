// Package audio converts between the telephony wire format (8 kHz G.711 μ-law)
// and the linear PCM16 used by the activity detector and speech synthesis.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"
)

// Encoding identifies the sample format of a Frame
type Encoding int

const (
	EncodingMulaw Encoding = iota
	EncodingPCM16
)

func (e Encoding) String() string {
	if e == EncodingMulaw {
		return "mulaw"
	}
	return "pcm16"
}

// ErrOddLength is returned for PCM16 byte slices that do not hold whole samples.
var ErrOddLength = errors.New("pcm16 buffer has odd length")

// Frame is a transient chunk of audio as received from or sent to the media stream
type Frame struct {
	Data       []byte
	Encoding   Encoding
	SampleRate int
}

// Duration is the playback time of the frame
func (f Frame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	samples := len(f.Data)
	if f.Encoding == EncodingPCM16 {
		samples /= 2
	}
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// EncodeMulawSample compands one linear sample to G.711 μ-law
func EncodeMulawSample(s int16) byte {
	v := int(s)
	sign := 0
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := 7
	for mask := 0x4000; v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (v >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

// DecodeMulawSample expands one μ-law byte to a linear sample
func DecodeMulawSample(u byte) int16 {
	u = ^u
	exponent := int(u>>4) & 0x07
	mantissa := int(u) & 0x0F
	sample := (((mantissa << 3) + mulawBias) << exponent) - mulawBias
	if u&0x80 != 0 {
		sample = -sample
	}
	return int16(sample)
}

// DecodeMulaw expands μ-law bytes into PCM16 samples at the same rate
func DecodeMulaw(mulaw []byte) []int16 {
	out := make([]int16, len(mulaw))
	for i, b := range mulaw {
		out[i] = DecodeMulawSample(b)
	}
	return out
}

// EncodeMulaw compands PCM16 samples into μ-law bytes at the same rate
func EncodeMulaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = EncodeMulawSample(s)
	}
	return out
}

// Resample converts a complete buffer between sample rates by linear
// interpolation, holding the last sample at the end. Streams use a Resampler.
func Resample(pcm []int16, fromRate, toRate int) []int16 {
	if fromRate <= 0 || toRate <= 0 || len(pcm) == 0 {
		return nil
	}
	if fromRate == toRate {
		out := make([]int16, len(pcm))
		copy(out, pcm)
		return out
	}

	outLen := int(int64(len(pcm)) * int64(toRate) / int64(fromRate))
	out := make([]int16, outLen)
	step := float64(fromRate) / float64(toRate)
	last := len(pcm) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = pcm[last]
			continue
		}
		frac := pos - float64(idx)
		a, b := float64(pcm[idx]), float64(pcm[idx+1])
		out[i] = clamp16(math.Round(a + (b-a)*frac))
	}
	return out
}

// RMS is the root-mean-square energy on the int16 scale
func RMS(pcm []int16) int {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		f := float64(s)
		sum += f * f
	}
	return int(math.Sqrt(sum / float64(len(pcm))))
}

// BytesToPCM reads little-endian PCM16
func BytesToPCM(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out, nil
}

// PCMToBytes writes little-endian PCM16
func PCMToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

// DecodeInbound turns a base64 media payload into a μ-law frame at 8 kHz
func DecodeInbound(payload string) (Frame, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid media payload: %w", err)
	}
	return Frame{Data: data, Encoding: EncodingMulaw, SampleRate: 8000}, nil
}

// decodeFrame expands a frame to PCM16 at its own rate
func decodeFrame(f Frame) ([]int16, error) {
	switch f.Encoding {
	case EncodingMulaw:
		return DecodeMulaw(f.Data), nil
	case EncodingPCM16:
		return BytesToPCM(f.Data)
	default:
		return nil, fmt.Errorf("unknown encoding %d", f.Encoding)
	}
}

// EncodeOutbound converts little-endian PCM16 at rate into 8 kHz μ-law for the media stream
func EncodeOutbound(pcmBytes []byte, rate int) ([]byte, error) {
	pcm, err := BytesToPCM(pcmBytes)
	if err != nil {
		return nil, err
	}
	return EncodeMulaw(Resample(pcm, rate, 8000)), nil
}

// EncodePayload base64-encodes μ-law bytes for an outbound media event
func EncodePayload(mulaw []byte) string {
	return base64.StdEncoding.EncodeToString(mulaw)
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
