package session

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"vocalq-backend/internal/audio"
	"vocalq-backend/internal/domain"
	"vocalq-backend/internal/turn"
)

// Mocks
type MockCallStore struct {
	mock.Mock
}

func (m *MockCallStore) InsertCall(ctx context.Context, call *domain.Call, tier domain.WriteTier) error {
	args := m.Called(ctx, call, tier)
	return args.Error(0)
}

func (m *MockCallStore) FinalizeCall(ctx context.Context, call *domain.Call, tier domain.WriteTier) error {
	args := m.Called(ctx, call, tier)
	return args.Error(0)
}

func (m *MockCallStore) SyncTranscript(ctx context.Context, callID string, transcript []domain.TranscriptEntry, intent string) error {
	args := m.Called(ctx, callID, transcript, intent)
	return args.Error(0)
}

func (m *MockCallStore) InsertSummary(ctx context.Context, callID, summary string) error {
	args := m.Called(ctx, callID, summary)
	return args.Error(0)
}

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

func (m *MockCompleter) Complete(ctx context.Context, req turn.CompletionRequest) (*turn.Completion, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*turn.Completion), args.Error(1)
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

// fakeOutbound collects what the session writes to the media stream
type fakeOutbound struct {
	mu     sync.Mutex
	sids   map[string]bool
	chunks int
	bytes  int
	clears int
}

func newFakeOutbound() *fakeOutbound {
	return &fakeOutbound{sids: make(map[string]bool)}
}

func (f *fakeOutbound) SendMedia(streamSID string, mulaw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sids[streamSID] = true
	f.chunks++
	f.bytes += len(mulaw)
	return nil
}

func (f *fakeOutbound) SendClear(streamSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sids[streamSID] = true
	f.clears++
	return nil
}

func (f *fakeOutbound) counts() (chunks, clears int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks, f.clears
}

// fakeObserver records call metrics
type fakeObserver struct {
	mu       sync.Mutex
	started  int
	ended    []string
	failures []string
	turns    []string
	bargeIns int
	tokens   map[string]int
	writes   []string
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{tokens: make(map[string]int)}
}

func (o *fakeObserver) CallStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *fakeObserver) CallEnded(_, status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = append(o.ended, status)
}

func (o *fakeObserver) RecordCallFailure(_, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, reason)
}

func (o *fakeObserver) RecordTurn(_, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turns = append(o.turns, outcome)
}

func (o *fakeObserver) RecordBargeIn(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bargeIns++
}

func (o *fakeObserver) RecordTokens(source string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens[source] += n
}

func (o *fakeObserver) RecordPersistence(kind, tier string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	result := "ok"
	if err != nil {
		result = "error"
	}
	o.writes = append(o.writes, kind+":"+tier+":"+result)
}

func (o *fakeObserver) turnOutcomes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.turns...)
}

func (o *fakeObserver) bargeInCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bargeIns
}

// relayStub stands in for an upstream conversational backend
type relayStub struct {
	mu         sync.Mutex
	hooks      turn.Hooks
	openErr    error
	relayed    int
	interrupts int
	closed     bool
	opened     chan struct{}
	lost       chan struct{}
}

func newRelayStub() *relayStub {
	return &relayStub{opened: make(chan struct{}), lost: make(chan struct{})}
}

func (r *relayStub) Done() <-chan struct{} { return r.lost }

func (r *relayStub) Mode() turn.Mode         { return turn.ModeRelay }
func (r *relayStub) LocalSegmentation() bool { return false }

func (r *relayStub) Open(_ context.Context, _ string, hooks turn.Hooks) error {
	if r.openErr != nil {
		return r.openErr
	}
	r.mu.Lock()
	r.hooks = hooks
	r.mu.Unlock()
	close(r.opened)
	return nil
}

func (r *relayStub) Greet(_ context.Context, text string) (*turn.Result, error) {
	r.hooks.OnTranscript(domain.SpeakerAssistant, text)
	return &turn.Result{AssistantText: text}, nil
}

func (r *relayStub) SubmitTurn(context.Context, turn.Turn) (*turn.Result, error) {
	return &turn.Result{Discarded: true}, nil
}

func (r *relayStub) Relay([]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relayed++
	return nil
}

func (r *relayStub) Interrupt(context.Context) error {
	r.mu.Lock()
	r.interrupts++
	hooks := r.hooks
	r.mu.Unlock()
	return hooks.Clear()
}

func (r *relayStub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *relayStub) stats() (relayed, interrupts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.relayed, r.interrupts
}

type staticSettings domain.Settings

func (s staticSettings) Current() domain.Settings { return domain.Settings(s) }

// Audio helpers. One inbound frame of 256 μ-law bytes at 8 kHz becomes
// exactly one 512-sample detector frame at 16 kHz.
const frameBytes = 256

func loudPayload() string {
	pcm := make([]int16, frameBytes)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/8000))
	}
	return audio.EncodePayload(audio.EncodeMulaw(pcm))
}

func silentPayload() string {
	b := make([]byte, frameBytes)
	for i := range b {
		b[i] = 0xFF
	}
	return audio.EncodePayload(b)
}

// speech returns PCM16 at 8 kHz that encodes to n μ-law bytes
func speech(n int) []byte {
	return make([]byte, n*2)
}
