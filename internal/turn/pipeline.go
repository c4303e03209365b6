package turn

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"vocalq-backend/internal/audio"
	"vocalq-backend/internal/domain"
	"vocalq-backend/internal/playback"
)

// PipelineConfig tunes the reasoning step
type PipelineConfig struct {
	SystemPrompt string
	HistoryTurns int
	KBLimit      int
	MaxTokens    int
	Temperature  float64
}

// DefaultPipelineConfig returns the production prompt and limits
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SystemPrompt: PipelinePrompt,
		HistoryTurns: 5,
		KBLimit:      3,
		MaxTokens:    100,
		Temperature:  0.7,
	}
}

// Pipeline answers a turn with discrete speech-to-text, completion and synthesis calls
type Pipeline struct {
	cfg   PipelineConfig
	stt   Transcriber
	llm   Completer
	tts   Synthesizer
	kb    KnowledgeBase
	pacer *playback.Pacer
	log   *zap.Logger

	callID string
	hooks  Hooks
}

// NewPipeline creates a pipeline processor. kb may be nil.
func NewPipeline(cfg PipelineConfig, stt Transcriber, llm Completer, tts Synthesizer, kb KnowledgeBase, pacer *playback.Pacer, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, stt: stt, llm: llm, tts: tts, kb: kb, pacer: pacer, log: log}
}

func (p *Pipeline) Mode() Mode { return ModePipeline }

func (p *Pipeline) LocalSegmentation() bool { return true }

// Open binds the pipeline to a call. No connection is held between turns.
func (p *Pipeline) Open(_ context.Context, callID string, hooks Hooks) error {
	p.callID = callID
	p.hooks = hooks
	p.log = p.log.With(zap.String("call_id", callID), zap.String("mode", string(ModePipeline)))
	return nil
}

// Greet appends the greeting to the transcript and speaks it
func (p *Pipeline) Greet(ctx context.Context, text string) (*Result, error) {
	if p.hooks == nil {
		return nil, ErrNotOpen
	}
	ctx, span := tracer.Start(ctx, "turn.pipeline.greet")
	defer span.End()

	p.hooks.OnTranscript(domain.SpeakerAssistant, text)
	interrupted, err := p.speak(ctx, text)
	if err != nil {
		span.RecordError(err)
		p.log.Warn("Greeting synthesis failed", zap.Error(err))
	}
	return &Result{AssistantText: text, Interrupted: interrupted}, nil
}

// SubmitTurn runs one turn. Sub-step failures degrade to the spoken apology
// and are never returned; the error return is reserved for misuse.
func (p *Pipeline) SubmitTurn(ctx context.Context, t Turn) (*Result, error) {
	if p.hooks == nil {
		return nil, ErrNotOpen
	}
	ctx, span := tracer.Start(ctx, "turn.pipeline")
	defer span.End()
	span.SetAttributes(attribute.String("call_id", p.callID), attribute.Int("audio.bytes", len(t.Audio)))

	res := &Result{Intent: domain.IntentSupport}

	text, err := p.stt.Transcribe(ctx, t.Audio, t.SampleRate)
	if err != nil {
		span.RecordError(err)
		p.log.Warn("Transcription failed", zap.Error(err))
		return p.apologize(ctx, res), nil
	}
	res.UserText = text
	if IsGarbage(text) {
		p.log.Info("Transcript filtered", zap.String("text", text))
		res.Discarded = true
		span.SetAttributes(attribute.Bool("turn.discarded", true))
		return res, nil
	}
	p.hooks.OnTranscript(domain.SpeakerUser, text)

	snippets := p.search(ctx, text)

	completion, err := p.llm.Complete(ctx, CompletionRequest{
		Messages:    p.messages(t.History, text, snippets),
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	})
	if err != nil || completion == nil || completion.Text == "" {
		if err == nil {
			err = fmt.Errorf("empty completion")
		}
		span.RecordError(err)
		p.log.Warn("Completion failed", zap.Error(err))
		return p.apologize(ctx, res), nil
	}
	res.Tokens = completion.Tokens
	p.hooks.OnUsage(completion.Tokens)

	mulaw, err := p.synthesize(ctx, completion.Text)
	if err != nil {
		span.RecordError(err)
		p.log.Warn("Synthesis failed", zap.Error(err))
		return p.apologize(ctx, res), nil
	}

	res.AssistantText = completion.Text
	p.hooks.OnTranscript(domain.SpeakerAssistant, completion.Text)
	res.Interrupted, err = p.play(ctx, mulaw)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return res, nil
}

// Relay is unused: the session segments turns locally
func (p *Pipeline) Relay([]byte) error { return nil }

// Interrupt is cooperative; the pacer watches the session's flag
func (p *Pipeline) Interrupt(context.Context) error { return nil }

func (p *Pipeline) Close() error { return nil }

// Done is nil: every step is a separate request
func (p *Pipeline) Done() <-chan struct{} { return nil }

// apologize speaks the fixed apology. If even that cannot be synthesized the
// turn ends silently, which is logged.
func (p *Pipeline) apologize(ctx context.Context, res *Result) *Result {
	res.Intent = domain.IntentError
	res.AssistantText = ApologyText
	p.hooks.OnTranscript(domain.SpeakerAssistant, ApologyText)

	interrupted, err := p.speak(ctx, ApologyText)
	if err != nil {
		p.log.Error("Apology synthesis failed", zap.Error(err))
	}
	res.Interrupted = interrupted
	return res
}

func (p *Pipeline) search(ctx context.Context, query string) []string {
	if p.kb == nil {
		return nil
	}
	snippets, err := p.kb.Search(ctx, query, p.cfg.KBLimit)
	if err != nil {
		p.log.Warn("Knowledge base search failed", zap.Error(err))
		return nil
	}
	return snippets
}

// messages builds system prompt + recent history + the new user text
func (p *Pipeline) messages(history []Message, userText string, snippets []string) []Message {
	if n := p.cfg.HistoryTurns; n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: "system", Content: knowledgeContext(p.cfg.SystemPrompt, snippets)})
	msgs = append(msgs, history...)
	// history may already end with this user turn
	user := Message{Role: "user", Content: userText}
	if len(history) == 0 || history[len(history)-1] != user {
		msgs = append(msgs, user)
	}
	return msgs
}

func (p *Pipeline) speak(ctx context.Context, text string) (bool, error) {
	mulaw, err := p.synthesize(ctx, text)
	if err != nil {
		return false, err
	}
	return p.play(ctx, mulaw)
}

func (p *Pipeline) synthesize(ctx context.Context, text string) ([]byte, error) {
	pcm, rate, err := p.tts.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("synthesis returned no audio")
	}
	return audio.EncodeOutbound(pcm, rate)
}

func (p *Pipeline) play(ctx context.Context, mulaw []byte) (bool, error) {
	res, err := p.pacer.Play(ctx, mulaw, p.hooks, p.hooks)
	if err != nil {
		p.log.Warn("Playback stopped", zap.Error(err), zap.Int("chunks_sent", res.ChunksSent))
	}
	if res.Interrupted {
		p.log.Info("Response interrupted", zap.Int("chunks_sent", res.ChunksSent))
	}
	return res.Interrupted, err
}
