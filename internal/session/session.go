// Package session runs one phone call: it feeds caller audio to the activity
// detector, drives the turn processor, handles barge-in and persists the call.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vocalq-backend/internal/audio"
	"vocalq-backend/internal/domain"
	"vocalq-backend/internal/turn"
	"vocalq-backend/internal/vad"
	"vocalq-backend/pkg/constants"
	"vocalq-backend/pkg/logger"
)

var (
	// ErrStartTimeout means the stream identifier never arrived
	ErrStartTimeout = errors.New("media stream did not start in time")
	// ErrStoppedBeforeStart means the caller hung up before the stream started
	ErrStoppedBeforeStart = errors.New("media stream stopped before start")
	// ErrClosed is returned by outbound calls after the session completed
	ErrClosed = errors.New("call session completed")
)

// Session is one call. Media events must be fed from a single goroutine in
// arrival order; Run drives everything else.
type Session struct {
	callID string
	out    Outbound
	deps   Deps
	opts   Options
	proc   turn.Processor
	mode   string
	obs    Observer
	log    *zap.Logger

	createdAt time.Time

	// written by Start before started is closed
	streamSID    string
	callerNumber string
	startedAt    time.Time
	started      chan struct{}
	startOnce    sync.Once

	stopped  chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	state atomic.Int32

	// segMu guards the inbound resampler and the segmenter
	segMu   sync.Mutex
	inbound *audio.Resampler
	seg     *vad.Segmenter

	// procMu is the processing lock; busy mirrors it for the ingestion path,
	// which must never wait on it
	procMu      sync.Mutex
	busy        atomic.Bool
	interrupted atomic.Bool
	mailbox     chan *vad.Segment
	greetedAt   atomic.Int64

	transcript Transcript
	tokens     atomic.Int64
	intentMu   sync.Mutex
	intent     string

	normalizing sync.WaitGroup
	recording   *recording
	persist     *persister
	ctx         context.Context
}

// New creates a session in the Initiating state
func New(callID string, out Outbound, deps Deps, opts Options) *Session {
	obs := deps.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	s := &Session{
		callID:    callID,
		out:       out,
		deps:      deps,
		opts:      opts,
		proc:      deps.Processor,
		mode:      string(deps.Processor.Mode()),
		obs:       obs,
		log:       logger.Log.With(zap.String("call_id", callID), zap.String("mode", string(deps.Processor.Mode()))),
		createdAt: time.Now(),
		started:   make(chan struct{}),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
		inbound:   audio.NewResampler(constants.TelephonySampleRate, constants.VADSampleRate),
		seg:       vad.NewSegmenter(opts.VAD, deps.Model, deps.FrameObserver),
		mailbox:   make(chan *vad.Segment, 1),
		recording: newRecording(opts.MaxRecordingBytes),
	}
	s.state.Store(int32(StateInitiating))
	return s
}

// ID returns the call id
func (s *Session) ID() string { return s.callID }

// State returns the current state
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once Run has returned and the call is persisted
func (s *Session) Done() <-chan struct{} { return s.done }

// Info describes a live session for the active-calls endpoint
type Info struct {
	CallID    string    `json:"call_id"`
	Caller    string    `json:"caller"`
	State     string    `json:"state"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"started_at"`
	Turns     int       `json:"turns"`
}

// Info snapshots the session
func (s *Session) Info() Info {
	info := Info{
		CallID:    s.callID,
		State:     s.State().String(),
		Mode:      s.mode,
		StartedAt: s.createdAt,
		Turns:     s.transcript.Len(),
	}
	select {
	case <-s.started:
		info.Caller = s.callerNumber
		info.StartedAt = s.startedAt
	default:
	}
	return info
}

// Start records the provider stream identifier. Only the first call counts.
func (s *Session) Start(streamSID, callerNumber string) {
	s.startOnce.Do(func() {
		s.streamSID = streamSID
		if callerNumber == "" {
			callerNumber = "Unknown"
		}
		s.callerNumber = callerNumber
		s.startedAt = time.Now()
		close(s.started)
	})
}

// Stop signals that the caller hung up or the stream closed
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// HandleMedia ingests one base64 μ-law payload. A bad frame is logged and dropped.
func (s *Session) HandleMedia(payload string) {
	switch s.State() {
	case StateInitiating, StateCompleted:
		return
	}

	frame, err := audio.DecodeInbound(payload)
	if err != nil {
		s.log.Debug("Dropping undecodable media frame", zap.Error(err))
		return
	}
	s.recording.add(frame.Data)

	if !s.proc.LocalSegmentation() {
		if err := s.proc.Relay(frame.Data); err != nil {
			s.log.Debug("Failed to relay media frame", zap.Error(err))
		}
		return
	}

	s.segMu.Lock()
	pcm, err := s.inbound.Convert(frame)
	if err != nil {
		s.segMu.Unlock()
		s.log.Debug("Dropping media frame", zap.Error(err))
		return
	}
	events := s.seg.Push(pcm)
	s.segMu.Unlock()

	for _, ev := range events {
		switch ev.Kind {
		case vad.EventActivity:
			if s.busy.Load() {
				s.bargeIn("local_vad", ev.RMS)
			}
		case vad.EventTurnComplete:
			s.onTurnComplete(ev)
		}
	}
}

func (s *Session) onTurnComplete(ev vad.Event) {
	if ev.Segment == nil {
		return
	}
	if d := ev.Segment.Duration(); d < s.opts.MinSpeech {
		s.log.Info("Speech segment too short, ignoring", zap.Duration("duration", d))
		s.obs.RecordTurn(s.mode, "discarded_short", 0)
		return
	}

	// single slot: a newer turn replaces one still waiting for the lock
	for {
		select {
		case s.mailbox <- ev.Segment:
			return
		default:
		}
		select {
		case old := <-s.mailbox:
			s.log.Info("Replacing pending turn", zap.Duration("dropped", old.Duration()))
			s.obs.RecordTurn(s.mode, "superseded", 0)
		default:
		}
	}
}

// bargeIn raises the interrupt flag once per turn and cancels the response in flight
func (s *Session) bargeIn(source string, rms int) {
	if !s.interrupted.CompareAndSwap(false, true) {
		return
	}
	s.log.Info("Barge-in, interrupting response", zap.String("source", source), zap.Int("rms", rms))
	s.obs.RecordBargeIn(s.mode)
	if err := s.proc.Interrupt(s.ctx); err != nil {
		s.log.Warn("Failed to interrupt response", zap.Error(err))
	}
}

// Run drives the call from Initiating to Completed. It returns ErrStartTimeout,
// a wrapped turn.ErrBackendUnavailable or turn.ErrBackendLost when the call
// could not be served.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	ctx = logger.WithCallID(ctx, s.callID)
	s.ctx = ctx
	s.persist = newPersister(ctx, s.deps.Store, s.deps.Log, s.obs, s.log, s.opts.WriteTimeout)

	timer := time.NewTimer(s.opts.StartTimeout)
	select {
	case <-s.started:
		timer.Stop()
	case <-timer.C:
		s.log.Error("Timeout: stream identifier never received, aborting call")
		s.obs.RecordCallFailure(s.mode, "start_timeout")
		s.finalize(ctx, domain.CallStatusFailed)
		return ErrStartTimeout
	case <-s.stopped:
		timer.Stop()
		s.log.Warn("Stream stopped before start")
		s.obs.RecordCallFailure(s.mode, "stopped_before_start")
		s.finalize(ctx, domain.CallStatusMissed)
		return ErrStoppedBeforeStart
	case <-ctx.Done():
		timer.Stop()
		s.finalize(ctx, domain.CallStatusFailed)
		return ctx.Err()
	}

	s.log.Info("Call started", zap.String("caller", logger.MaskPhone(s.callerNumber)), zap.String("stream_sid", s.streamSID))
	s.obs.CallStarted()
	s.persist.insert(s.record(domain.CallStatusActive))
	s.publish(domain.MonitorEvent{Type: domain.MonitorCallStarted, Caller: s.callerNumber, State: StateGreeting.String()})

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopped:
		case <-turnCtx.Done():
		}
		cancel()
	}()

	if err := s.proc.Open(turnCtx, s.callID, s); err != nil {
		s.log.Error("Turn processor unavailable, ending call", zap.Error(err))
		s.obs.RecordCallFailure(s.mode, "backend_unavailable")
		s.finalize(ctx, domain.CallStatusFailed)
		return err
	}

	s.greet(turnCtx)
	if lost := s.serve(turnCtx); lost {
		s.log.Error("Turn processor connection lost, ending call")
		s.obs.RecordCallFailure(s.mode, "backend_lost")
		s.finalize(ctx, domain.CallStatusFailed)
		return turn.ErrBackendLost
	}

	s.finalize(ctx, domain.CallStatusCompleted)
	return nil
}

func (s *Session) greet(ctx context.Context) {
	now := time.Now()
	s.greetedAt.Store(now.UnixNano())
	s.segMu.Lock()
	s.seg.Arm(now)
	s.segMu.Unlock()
	s.setState(StateGreeting)

	local := s.proc.LocalSegmentation()
	if local {
		s.procMu.Lock()
		defer s.procMu.Unlock()
		s.interrupted.Store(false)
		s.busy.Store(true)
		defer s.busy.Store(false)
	}

	if _, err := s.proc.Greet(ctx, s.opts.Settings.Greeting); err != nil {
		s.log.Error("Failed to send greeting", zap.Error(err))
	}
	if local {
		s.transition(StateGreeting, StateListening)
	}
}

// serve handles finished turns one at a time until the call stops. It
// reports true when the processor backend went away first.
func (s *Session) serve(ctx context.Context) bool {
	lost := s.proc.Done()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-lost:
			return ctx.Err() == nil
		case seg := <-s.mailbox:
			s.process(ctx, seg)
		}
	}
}

func (s *Session) process(ctx context.Context, seg *vad.Segment) {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	s.interrupted.Store(false)
	s.busy.Store(true)
	defer s.busy.Store(false)
	s.transition(StateListening, StateResponding)
	defer s.transition(StateResponding, StateListening)

	started := time.Now()
	res, err := s.proc.SubmitTurn(ctx, turn.Turn{
		Audio:      seg.PCM,
		SampleRate: constants.VADSampleRate,
		History:    s.transcript.History(),
	})
	latency := time.Since(started)

	switch {
	case err != nil:
		s.log.Error("Turn processing failed", zap.Error(err))
		s.obs.RecordTurn(s.mode, "error", latency)
		return
	case res.Discarded:
		s.obs.RecordTurn(s.mode, "discarded_garbage", latency)
		return
	case res.Interrupted:
		s.obs.RecordTurn(s.mode, "interrupted", latency)
	case res.Intent == domain.IntentError:
		s.obs.RecordTurn(s.mode, "apology", latency)
	default:
		s.obs.RecordTurn(s.mode, "responded", latency)
	}

	if res.Intent != "" {
		s.intentMu.Lock()
		s.intent = res.Intent
		s.intentMu.Unlock()
	}
	s.persist.sync(s.callID, s.transcript.Snapshot(), s.currentIntent())
}

func (s *Session) currentIntent() string {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()
	return s.intent
}

// finalize runs once on every exit path of Run
func (s *Session) finalize(ctx context.Context, status domain.CallStatus) {
	s.setState(StateCompleted)
	s.Stop()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FinalizeTimeout)
	defer cancel()

	if err := s.proc.Close(); err != nil {
		s.log.Debug("Turn processor close", zap.Error(err))
	}
	s.waitNormalization()

	call := s.record(status)
	end := time.Now()
	call.EndTime = &end
	call.Duration = int(end.Sub(call.StartTime).Seconds())

	summary, tokens, err := summarize(ctx, s.deps.Completer, call.Transcript)
	if err != nil {
		s.log.Warn("Summary generation failed", zap.Error(err))
	}
	s.addTokens("summary", tokens)
	call.Summary = summary
	call.TokenUsage = int(s.tokens.Load())

	if call.Intent == "" && hasUserTurn(call.Transcript) {
		call.Intent = domain.IntentSupport
	}

	if s.deps.Recorder != nil && s.recording.len() > 0 {
		key, err := s.deps.Recorder.Upload(ctx, s.callID, s.recording.bytes())
		if err != nil {
			s.log.Warn("Recording upload failed", zap.Error(err))
		} else {
			call.RecordingKey = key
		}
	}

	s.persist.finalize(call)
	s.persist.close(s.opts.FinalizeTimeout)

	s.publish(domain.MonitorEvent{
		Type:     domain.MonitorCallEnded,
		Caller:   call.CallerNumber,
		State:    string(status),
		Summary:  call.Summary,
		Duration: call.Duration,
	})
	if status == domain.CallStatusCompleted && s.deps.Notifier != nil {
		s.deps.Notifier.NotifyCallCompleted(ctx, &call)
	}

	select {
	case <-s.started:
		s.obs.CallEnded(s.mode, string(status), end.Sub(call.StartTime))
	default:
	}
	s.log.Info("Call ended",
		zap.String("status", string(status)),
		zap.Int("duration_s", call.Duration),
		zap.Int("entries", len(call.Transcript)),
		zap.Int("tokens", call.TokenUsage),
	)
}

// record builds the persisted view of the call
func (s *Session) record(status domain.CallStatus) domain.Call {
	call := domain.Call{
		CallID:       s.callID,
		CallerNumber: "Unknown",
		StartTime:    s.createdAt,
		CreatedAt:    s.createdAt,
		Status:       status,
		Language:     "en-US",
		Transcript:   s.transcript.Snapshot(),
		Intent:       s.currentIntent(),
		TokenUsage:   int(s.tokens.Load()),
	}
	select {
	case <-s.started:
		call.CallerNumber = s.callerNumber
		call.StreamSID = s.streamSID
		call.StartTime = s.startedAt
	default:
	}
	return call
}

func hasUserTurn(entries []domain.TranscriptEntry) bool {
	for _, e := range entries {
		if e.Speaker == domain.SpeakerUser {
			return true
		}
	}
	return false
}

func (s *Session) publish(ev domain.MonitorEvent) {
	if s.deps.Monitor == nil {
		return
	}
	ev.CallID = s.callID
	ev.Timestamp = time.Now()
	s.deps.Monitor.Publish(s.ctx, ev)
}

func (s *Session) addTokens(source string, n int) {
	if n <= 0 {
		return
	}
	s.tokens.Add(int64(n))
	s.obs.RecordTokens(source, n)
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("State changed", zap.String("from", prev.String()), zap.String("to", st.String()))
	}
}

// transition moves from one state to another and never leaves Completed
func (s *Session) transition(from, to State) bool {
	if s.state.CompareAndSwap(int32(from), int32(to)) {
		s.log.Debug("State changed", zap.String("from", from.String()), zap.String("to", to.String()))
		return true
	}
	return false
}
