package audio

import (
	"fmt"
	"math"
)

// Resampler converts one continuous stream between sample rates. Unlike
// Resample it carries the interpolation phase and the last input sample from
// one chunk to the next, so 20 ms frames join without a held sample or a
// step at the boundary. Output runs one input sample behind the input, which
// keeps every chunk at exactly its share of output samples.
// A Resampler is not safe for concurrent use.
type Resampler struct {
	from, to int
	// pos is the next output position in 1/to input sample units; 0 is prev
	pos    int64
	prev   int16
	primed bool
}

// NewResampler creates a stream resampler
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{from: fromRate, to: toRate}
}

// Process resamples the next chunk of the stream
func (r *Resampler) Process(pcm []int16) []int16 {
	if r.from <= 0 || r.to <= 0 || len(pcm) == 0 {
		return nil
	}
	if r.from == r.to {
		out := make([]int16, len(pcm))
		copy(out, pcm)
		return out
	}
	if !r.primed {
		r.prev = pcm[0]
		r.primed = true
	}

	to, step := int64(r.to), int64(r.from)
	end := int64(len(pcm)) * to
	out := make([]int16, 0, len(pcm)*r.to/r.from+1)
	for r.pos < end {
		idx := r.pos / to
		frac := float64(r.pos-idx*to) / float64(to)
		a := float64(r.prev)
		if idx > 0 {
			a = float64(pcm[idx-1])
		}
		b := float64(pcm[idx])
		out = append(out, clamp16(math.Round(a+(b-a)*frac)))
		r.pos += step
	}
	r.pos -= end
	r.prev = pcm[len(pcm)-1]
	return out
}

// Convert decodes a frame of the stream and resamples it
func (r *Resampler) Convert(f Frame) ([]int16, error) {
	if f.SampleRate != r.from {
		return nil, fmt.Errorf("frame at %d Hz on a %d Hz stream", f.SampleRate, r.from)
	}
	pcm, err := decodeFrame(f)
	if err != nil {
		return nil, err
	}
	return r.Process(pcm), nil
}
