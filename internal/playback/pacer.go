// Package playback paces synthesized μ-law audio onto the media stream in real time.
package playback

import (
	"context"
	"time"
)

// Sink receives outbound μ-law chunks
type Sink interface {
	SendMedia(chunk []byte) error
}

// Interrupter reports whether the current response has been barged in on
type Interrupter interface {
	Interrupted() bool
}

// ChunkObserver counts chunk outcomes. *metrics.Metrics satisfies it.
type ChunkObserver interface {
	RecordPlaybackChunk(result string)
}

// Result describes one Play call
type Result struct {
	ChunksSent  int
	BytesSent   int
	Interrupted bool
}

// Pacer splits audio into fixed-duration chunks and sends one per interval
type Pacer struct {
	chunkSize int
	interval  time.Duration
	observer  ChunkObserver
}

// NewPacer creates a pacer. The telephony default is 160 bytes every 20ms.
func NewPacer(chunkSize int, interval time.Duration, observer ChunkObserver) *Pacer {
	if chunkSize <= 0 {
		chunkSize = 160
	}
	return &Pacer{chunkSize: chunkSize, interval: interval, observer: observer}
}

// Play streams audio to sink. The interrupt flag is checked before every chunk;
// once it is set nothing more is sent and the remainder is dropped.
func (p *Pacer) Play(ctx context.Context, audio []byte, sink Sink, intr Interrupter) (Result, error) {
	var res Result
	if len(audio) == 0 {
		return res, nil
	}

	var tick <-chan time.Time
	if p.interval > 0 {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for off := 0; off < len(audio); off += p.chunkSize {
		if off > 0 && tick != nil {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return res, err
		}

		if intr != nil && intr.Interrupted() {
			res.Interrupted = true
			p.record("interrupted")
			return res, nil
		}

		end := off + p.chunkSize
		if end > len(audio) {
			end = len(audio)
		}
		if err := sink.SendMedia(audio[off:end]); err != nil {
			p.record("error")
			return res, err
		}
		res.ChunksSent++
		res.BytesSent += end - off
		p.record("sent")
	}
	return res, nil
}

func (p *Pacer) record(result string) {
	if p.observer != nil {
		p.observer.RecordPlaybackChunk(result)
	}
}
