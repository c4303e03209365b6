// Package vad segments a stream of 16 kHz PCM into user turns.
package vad

import (
	"time"

	"vocalq-backend/internal/audio"
)

// Config tunes frame classification and turn boundaries
type Config struct {
	FrameSamples    int
	SpeechThreshold float64
	// FallbackRMS replaces the model when it is unavailable
	FallbackRMS int
	// EnergyFloor gates every active frame
	EnergyFloor int
	// GraceRMS is the energy required during GracePeriod after Arm
	GraceRMS        int
	GracePeriod     time.Duration
	SilenceFrames   int
	MaxSpeechFrames int
}

// DefaultConfig returns 32 ms frames, a 256 ms silence window and a 2.88 s cap
func DefaultConfig() Config {
	return Config{
		FrameSamples:    512,
		SpeechThreshold: 0.5,
		FallbackRMS:     150,
		EnergyFloor:     400,
		GraceRMS:        700,
		GracePeriod:     1500 * time.Millisecond,
		SilenceFrames:   8,
		MaxSpeechFrames: 90,
	}
}

// EventKind distinguishes segmenter events
type EventKind int

const (
	// EventActivity fires on the first active frame of a turn
	EventActivity EventKind = iota
	// EventTurnComplete carries the finished segment
	EventTurnComplete
)

// Reasons a turn completed
const (
	ReasonSilence   = "silence"
	ReasonMaxLength = "max_length"
)

// Segment is the PCM captured for one user turn (16 kHz, little-endian PCM16)
type Segment struct {
	PCM       []byte
	StartedAt time.Time
	Frames    int
}

// Duration derives the spoken length from the byte count (32000 bytes per second)
func (s Segment) Duration() time.Duration {
	return time.Duration(len(s.PCM)) * time.Second / 32000
}

// Event is emitted by Push
type Event struct {
	Kind    EventKind
	RMS     int
	Segment *Segment
	Reason  string
}

// FrameObserver sees every classified frame and the backlog left after each
// push. *metrics.Metrics satisfies it.
type FrameObserver interface {
	RecordVADFrame(active, fallback bool)
	ObserveVADBacklog(bytes int)
}

// Segmenter holds per-call detection state. It is not safe for concurrent use;
// the call session feeds it from its single ingestion goroutine.
type Segmenter struct {
	cfg      Config
	model    *Model
	observer FrameObserver
	now      func() time.Time

	buf     RollingBuffer
	armedAt time.Time

	speechDetected bool
	speechFrames   int
	silenceFrames  int
	segment        []byte
	segmentStart   time.Time
}

// NewSegmenter creates a segmenter. model and observer may be nil.
func NewSegmenter(cfg Config, model *Model, observer FrameObserver) *Segmenter {
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = DefaultConfig().FrameSamples
	}
	return &Segmenter{
		cfg:      cfg,
		model:    model,
		observer: observer,
		now:      time.Now,
	}
}

// WithClock replaces the wall clock, for tests
func (s *Segmenter) WithClock(now func() time.Time) *Segmenter {
	s.now = now
	return s
}

// Arm starts the grace period
func (s *Segmenter) Arm(at time.Time) {
	s.armedAt = at
}

// Push enqueues 16 kHz samples and classifies every whole frame in order.
// Framing stops at the first turn boundary; bytes behind it stay buffered for the next Push.
func (s *Segmenter) Push(pcm []int16) []Event {
	s.buf.Write(audio.PCMToBytes(pcm))

	var events []Event
	frameBytes := s.cfg.FrameSamples * 2
	for s.buf.Len() >= frameBytes {
		raw := s.buf.Next(frameBytes)
		frame, _ := audio.BytesToPCM(raw)
		active, rms := s.classify(frame)

		if active {
			if !s.speechDetected {
				s.speechDetected = true
				s.segmentStart = s.now()
				events = append(events, Event{Kind: EventActivity, RMS: rms})
			}
			s.speechFrames++
			s.silenceFrames = 0
			s.segment = append(s.segment, raw...)

			if s.speechFrames >= s.cfg.MaxSpeechFrames {
				events = append(events, s.complete(ReasonMaxLength))
				break
			}
			continue
		}

		if !s.speechDetected {
			continue
		}
		s.silenceFrames++
		s.segment = append(s.segment, raw...)
		if s.silenceFrames >= s.cfg.SilenceFrames {
			events = append(events, s.complete(ReasonSilence))
			break
		}
	}
	if s.observer != nil {
		s.observer.ObserveVADBacklog(s.buf.Len())
	}
	return events
}

// Pending is the number of buffered bytes not yet framed
func (s *Segmenter) Pending() int { return s.buf.Len() }

// Buffer exposes the rolling buffer counters
func (s *Segmenter) Buffer() *RollingBuffer { return &s.buf }

// InSpeech reports whether a segment is open
func (s *Segmenter) InSpeech() bool { return s.speechDetected }

func (s *Segmenter) classify(frame []int16) (bool, int) {
	rms := audio.RMS(frame)

	p, ok := s.model.Score(frame)
	speech := ok && p > s.cfg.SpeechThreshold
	if !ok {
		speech = rms > s.cfg.FallbackRMS
	}

	active := speech && rms > s.cfg.EnergyFloor
	if active && !s.armedAt.IsZero() && s.now().Sub(s.armedAt) < s.cfg.GracePeriod && rms < s.cfg.GraceRMS {
		active = false
	}

	if s.observer != nil {
		s.observer.RecordVADFrame(active, !ok)
	}
	return active, rms
}

func (s *Segmenter) complete(reason string) Event {
	seg := &Segment{
		PCM:       s.segment,
		StartedAt: s.segmentStart,
		Frames:    len(s.segment) / (s.cfg.FrameSamples * 2),
	}
	s.segment = nil
	s.speechDetected = false
	s.speechFrames = 0
	s.silenceFrames = 0
	return Event{Kind: EventTurnComplete, Segment: seg, Reason: reason}
}
