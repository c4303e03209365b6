package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vocalq-backend/internal/domain"
)

// The methods below make *Session a turn.Hooks.

// SendMedia forwards one μ-law chunk to the caller
func (s *Session) SendMedia(chunk []byte) error {
	if s.State() == StateCompleted {
		return ErrClosed
	}
	return s.out.SendMedia(s.streamSID, chunk)
}

// Clear drops audio queued on the telephony side
func (s *Session) Clear() error {
	if s.State() == StateCompleted {
		return ErrClosed
	}
	return s.out.SendClear(s.streamSID)
}

// Interrupted reports the barge-in flag of the current turn
func (s *Session) Interrupted() bool { return s.interrupted.Load() }

// OnTranscript appends a finished utterance and schedules its side effects
func (s *Session) OnTranscript(speaker domain.Speaker, text string) {
	entry := s.transcript.Append(speaker, text, time.Now())
	s.log.Info("Transcript", zap.String("speaker", string(speaker)), zap.Int("seq", entry.Seq))

	s.persist.appendLog(s.callID, entry)
	s.publish(domain.MonitorEvent{Type: domain.MonitorTranscriptUpdate, Entry: &entry})

	if s.opts.Transliterate && s.deps.Completer != nil && !isASCII(text) {
		s.normalizing.Add(1)
		go s.normalize(entry)
	}
	if speaker == domain.SpeakerAssistant {
		s.persist.sync(s.callID, s.transcript.Snapshot(), s.currentIntent())
	}
}

// OnUsage adds tokens reported by the turn processor
func (s *Session) OnUsage(tokens int) {
	s.addTokens(s.mode, tokens)
}

// OnSpeechStarted handles caller speech detected by the relay backend.
// Speech right after the greeting starts is treated as echo or line noise.
func (s *Session) OnSpeechStarted() {
	if since := time.Since(time.Unix(0, s.greetedAt.Load())); since < s.opts.GreetingGrace {
		s.log.Debug("Ignoring speech during greeting grace period", zap.Duration("since_greeting", since))
		return
	}
	if s.busy.Load() {
		s.bargeIn("upstream_vad", 0)
	}
}

// OnResponse tracks responses the relay backend starts on its own
func (s *Session) OnResponse(active bool) {
	if active {
		s.interrupted.Store(false)
		s.busy.Store(true)
		s.transition(StateListening, StateResponding)
		return
	}
	s.busy.Store(false)
	if !s.transition(StateResponding, StateListening) {
		s.transition(StateGreeting, StateListening)
	}
}

// normalize transliterates one entry and records the rewrite as a new version
func (s *Session) normalize(entry domain.TranscriptEntry) {
	defer s.normalizing.Done()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.opts.NormalizationWait)
	defer cancel()

	text, tokens, err := transliterate(ctx, s.deps.Completer, entry.Text)
	s.addTokens("transliteration", tokens)
	if err != nil {
		s.log.Warn("Transliteration failed", zap.Int("seq", entry.Seq), zap.Error(err))
		return
	}
	updated, ok := s.transcript.Rewrite(entry.Seq, text)
	if !ok {
		return
	}
	s.persist.appendLog(s.callID, updated)
	s.publish(domain.MonitorEvent{Type: domain.MonitorCallUpdated, Entry: &updated})
}

// waitNormalization blocks until pending rewrites finish, up to NormalizationWait
func (s *Session) waitNormalization() {
	done := make(chan struct{})
	go func() {
		s.normalizing.Wait()
		close(done)
	}()
	timer := time.NewTimer(s.opts.NormalizationWait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.log.Warn("Transcript normalization still running, persisting current text")
	}
}
