package session

import (
	"context"
	"time"

	"vocalq-backend/internal/domain"
	"vocalq-backend/internal/turn"
	"vocalq-backend/internal/vad"
	"vocalq-backend/pkg/constants"
)

// Outbound writes events back onto the media stream.
// The websocket gateway implements it.
type Outbound interface {
	SendMedia(streamSID string, mulaw []byte) error
	SendClear(streamSID string) error
}

// Publisher fans live call events out to dashboards
type Publisher interface {
	Publish(ctx context.Context, event domain.MonitorEvent)
}

// Recorder stores the captured caller audio and returns its object key
type Recorder interface {
	Upload(ctx context.Context, callID string, mulaw []byte) (string, error)
}

// Notifier alerts supervisors about a finished call
type Notifier interface {
	NotifyCallCompleted(ctx context.Context, call *domain.Call)
}

// Observer receives call metrics. *metrics.Metrics implements it.
type Observer interface {
	CallStarted()
	CallEnded(mode, status string, duration time.Duration)
	RecordCallFailure(mode, reason string)
	RecordTurn(mode, outcome string, latency time.Duration)
	RecordBargeIn(mode string)
	RecordTokens(source string, n int)
	RecordPersistence(kind, tier string, err error)
}

type nopObserver struct{}

func (nopObserver) CallStarted()                             {}
func (nopObserver) CallEnded(string, string, time.Duration)  {}
func (nopObserver) RecordCallFailure(string, string)         {}
func (nopObserver) RecordTurn(string, string, time.Duration) {}
func (nopObserver) RecordBargeIn(string)                     {}
func (nopObserver) RecordTokens(string, int)                 {}
func (nopObserver) RecordPersistence(string, string, error)  {}

// Deps are the collaborators of a call session. Everything except Processor is optional.
type Deps struct {
	Processor turn.Processor
	Store     CallStore
	Log       TranscriptLog
	Monitor   Publisher
	Recorder  Recorder
	Notifier  Notifier
	// Completer backs summaries and transliteration
	Completer     turn.Completer
	Model         *vad.Model
	FrameObserver vad.FrameObserver
	Observer      Observer
}

// Options tune one session
type Options struct {
	Settings domain.Settings
	VAD      vad.Config

	StartTimeout      time.Duration
	GreetingGrace     time.Duration
	MinSpeech         time.Duration
	NormalizationWait time.Duration
	FinalizeTimeout   time.Duration
	WriteTimeout      time.Duration

	Transliterate     bool
	MaxRecordingBytes int
}

// DefaultOptions returns production timings
func DefaultOptions(settings domain.Settings) Options {
	return Options{
		Settings:          settings,
		VAD:               vad.DefaultConfig(),
		StartTimeout:      constants.StreamStartTimeout,
		GreetingGrace:     constants.GreetingGracePeriod,
		MinSpeech:         constants.MinSpeechDuration,
		NormalizationWait: constants.NormalizationWait,
		FinalizeTimeout:   constants.FinalizeTimeout,
		WriteTimeout:      constants.PersistWriteTimeout,
		Transliterate:     true,
	}
}
