package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(freq float64, rate, n int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestMulawRoundTrip_BoundedError(t *testing.T) {
	for _, amp := range []float64{100, 2000, 12000, 32767} {
		pcm := tone(440, 8000, 800, amp)
		decoded := DecodeMulaw(EncodeMulaw(pcm))
		require.Len(t, decoded, len(pcm))
		for i := range pcm {
			orig := int(pcm[i])
			bound := (abs(orig)+mulawBias)/32 + 1
			if abs(orig) > mulawClip {
				bound += abs(orig) - mulawClip
			}
			assert.LessOrEqualf(t, abs(int(decoded[i])-orig), bound, "amp %v sample %d", amp, i)
		}
	}
}

func TestMulawDecodeEncode_Stable(t *testing.T) {
	for u := 0; u < 256; u++ {
		b := byte(u)
		got := EncodeMulawSample(DecodeMulawSample(b))
		if b == 0x7F {
			// negative zero re-encodes as positive zero
			assert.Equal(t, byte(0xFF), got)
			continue
		}
		assert.Equalf(t, b, got, "byte %#x", b)
	}
}

func TestResample_Linear(t *testing.T) {
	up := Resample([]int16{0, 100, 200}, 8000, 16000)
	assert.Equal(t, []int16{0, 50, 100, 150, 200, 200}, up)

	down := Resample(tone(200, 24000, 2400, 8000), 24000, 8000)
	assert.Len(t, down, 800)

	assert.Nil(t, Resample(nil, 8000, 16000))
	same := []int16{1, 2, 3}
	cp := Resample(same, 8000, 8000)
	assert.Equal(t, same, cp)
	cp[0] = 9
	assert.Equal(t, int16(1), same[0])
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0, RMS(nil))
	assert.Equal(t, 500, RMS([]int16{500, -500, 500, -500}))
}

func TestBytesPCMConversion(t *testing.T) {
	pcm := []int16{0, 1, -1, math.MaxInt16, math.MinInt16}
	back, err := BytesToPCM(PCMToBytes(pcm))
	require.NoError(t, err)
	assert.Equal(t, pcm, back)

	_, err = BytesToPCM([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrOddLength)
}

func TestDecodeInbound(t *testing.T) {
	mulaw := EncodeMulaw(tone(300, 8000, 160, 4000))
	frame, err := DecodeInbound(EncodePayload(mulaw))
	require.NoError(t, err)
	assert.Equal(t, EncodingMulaw, frame.Encoding)
	assert.Equal(t, 20_000_000, int(frame.Duration()))

	r := NewResampler(8000, 16000)
	for i := 0; i < 2; i++ {
		pcm, err := r.Convert(frame)
		require.NoError(t, err)
		assert.Len(t, pcm, 320)
	}

	_, err = NewResampler(16000, 8000).Convert(frame)
	assert.Error(t, err)

	_, err = DecodeInbound("not base64!!")
	assert.Error(t, err)
}

func TestEncodeOutbound(t *testing.T) {
	synth := PCMToBytes(tone(220, 24000, 480, 6000))
	out, err := EncodeOutbound(synth, 24000)
	require.NoError(t, err)
	assert.Len(t, out, 160)

	_, err = EncodeOutbound([]byte{1}, 24000)
	assert.ErrorIs(t, err, ErrOddLength)
}

func TestWAVHeader(t *testing.T) {
	data := []byte{0xFF, 0x7F, 0x00, 0x80}
	wav := WAV(data, EncodingMulaw, 8000)

	require.Len(t, wav, 44+len(data))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint16(wavFormatMulaw), binary.LittleEndian.Uint16(wav[20:22]))
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(len(data)), binary.LittleEndian.Uint32(wav[40:44]))
}
