package turn

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"vocalq-backend/internal/domain"
)

// Mocks
type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	args := m.Called(ctx, pcm, sampleRate)
	return args.String(0), args.Error(1)
}

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Completion), args.Error(1)
}

type MockSynthesizer struct {
	mock.Mock
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, int, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.Int(1), args.Error(2)
}

type MockKnowledgeBase struct {
	mock.Mock
}

func (m *MockKnowledgeBase) Search(ctx context.Context, query string, limit int) ([]string, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type transcriptLine struct {
	speaker domain.Speaker
	text    string
}

// recordingHooks captures everything a processor reports
type recordingHooks struct {
	mu          sync.Mutex
	chunks      [][]byte
	clears      int
	lines       []transcriptLine
	tokens      int
	speech      int
	responses   []bool
	interrupted atomic.Bool
}

func (h *recordingHooks) SendMedia(chunk []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chunks = append(h.chunks, append([]byte(nil), chunk...))
	return nil
}

func (h *recordingHooks) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clears++
	return nil
}

func (h *recordingHooks) Interrupted() bool { return h.interrupted.Load() }

func (h *recordingHooks) OnTranscript(speaker domain.Speaker, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = append(h.lines, transcriptLine{speaker, text})
}

func (h *recordingHooks) OnUsage(tokens int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens += tokens
}

func (h *recordingHooks) OnSpeechStarted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.speech++
}

func (h *recordingHooks) OnResponse(active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, active)
}

func (h *recordingHooks) chunkCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.chunks)
}

func (h *recordingHooks) transcript() []transcriptLine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]transcriptLine(nil), h.lines...)
}

func (h *recordingHooks) usage() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokens
}
