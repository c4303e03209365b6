// Package turn turns a detected user turn into a spoken response.
//
// Two strategies share one contract: Pipeline transcribes, reasons and
// synthesizes with discrete calls, Relay forwards the raw call audio to a
// speech-to-speech model over a duplex websocket. A Processor serves exactly
// one call and is not reused.
package turn

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"

	"vocalq-backend/internal/domain"
)

const scopeName = "vocalq-backend/internal/turn"

var tracer = otel.Tracer(scopeName)

// Mode names a processing strategy
type Mode string

const (
	ModePipeline Mode = "pipeline"
	ModeRelay    Mode = "relay"
)

// ErrBackendUnavailable means the processor could not reach its backend at all.
// It is fatal to the call.
var ErrBackendUnavailable = errors.New("turn processor backend unavailable")

// ErrBackendLost means the backend connection dropped in the middle of a call
var ErrBackendLost = errors.New("turn processor backend connection lost")

// ErrNotOpen is returned when a processor is used before Open or after Close
var ErrNotOpen = errors.New("turn processor not open")

// Hooks is how a processor talks back to its call session
type Hooks interface {
	// SendMedia emits one μ-law 8 kHz chunk to the caller
	SendMedia(chunk []byte) error
	// Clear drops audio already buffered on the telephony side
	Clear() error
	// Interrupted reports the barge-in flag for the current turn
	Interrupted() bool
	// OnTranscript appends a finished utterance to the call transcript
	OnTranscript(speaker domain.Speaker, text string)
	// OnUsage adds tokens reported by a backend
	OnUsage(tokens int)
	// OnSpeechStarted is raised when the backend detects caller speech itself
	OnSpeechStarted()
	// OnResponse brackets a response generated by the backend on its own
	// schedule. Only relay processors raise it.
	OnResponse(active bool)
}

// Message is one history entry sent to the language model
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn is one finished user segment
type Turn struct {
	// Audio is little-endian PCM16
	Audio      []byte
	SampleRate int
	// History is the conversation so far, oldest first
	History []Message
}

// Result reports what a turn produced
type Result struct {
	UserText      string
	AssistantText string
	Intent        string
	Tokens        int
	// Discarded turns never reached reasoning or synthesis
	Discarded   bool
	Interrupted bool
}

// Processor produces spoken responses for one call
type Processor interface {
	Mode() Mode
	// LocalSegmentation is true when the session must run its own VAD to find turns
	LocalSegmentation() bool
	Open(ctx context.Context, callID string, hooks Hooks) error
	// Greet speaks the opening line
	Greet(ctx context.Context, text string) (*Result, error)
	// SubmitTurn handles one locally segmented turn
	SubmitTurn(ctx context.Context, t Turn) (*Result, error)
	// Relay forwards raw μ-law caller audio; a no-op for local segmentation
	Relay(mulaw []byte) error
	// Interrupt cancels the response in flight
	Interrupt(ctx context.Context) error
	// Done is closed when a persistent backend connection ends. Processors
	// without one return nil.
	Done() <-chan struct{}
	Close() error
}

// Factory builds a fresh processor for each call
type Factory func() Processor

// Transcriber converts speech to text
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// Synthesizer converts text to PCM16 speech and reports its sample rate
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, int, error)
}

// CompletionRequest is a chat completion call
type CompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Completion is a chat completion answer
type Completion struct {
	Text   string
	Tokens int
}

// Completer runs chat completions
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// KnowledgeBase returns the snippets most relevant to query
type KnowledgeBase interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}
