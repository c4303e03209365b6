package turn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"vocalq-backend/internal/domain"
)

// RelayConfig configures the speech-to-speech session
type RelayConfig struct {
	URL                string
	APIKey             string
	Instructions       string
	Voice              string
	Temperature        float64
	MaxOutputTokens    int
	TranscriptionModel string
	VADThreshold       float64
	PrefixPaddingMS    int
	SilenceDurationMS  int
	// ReadyTimeout bounds the wait for session.updated before greeting anyway
	ReadyTimeout time.Duration
	WriteWait    time.Duration
	KBLimit      int
}

// DefaultRelayConfig returns the production session settings
func DefaultRelayConfig(url, apiKey string) RelayConfig {
	return RelayConfig{
		URL:                url,
		APIKey:             apiKey,
		Instructions:       RelayPrompt,
		Voice:              "alloy",
		Temperature:        0.6,
		MaxOutputTokens:    150,
		TranscriptionModel: "whisper-1",
		VADThreshold:       0.4,
		PrefixPaddingMS:    150,
		SilenceDurationMS:  200,
		ReadyTimeout:       1500 * time.Millisecond,
		WriteWait:          10 * time.Second,
		KBLimit:            3,
	}
}

// Relay forwards call audio to a realtime speech model and plays back what it says
type Relay struct {
	cfg    RelayConfig
	kb     KnowledgeBase
	dialer *websocket.Dialer
	log    *zap.Logger

	callID string
	hooks  Hooks
	ctx    context.Context

	conn    *websocket.Conn
	writeMu sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	tools     sync.WaitGroup
}

// NewRelay creates a relay processor. kb may be nil, in which case tool calls
// answer that nothing was found.
func NewRelay(cfg RelayConfig, kb KnowledgeBase, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		cfg:    cfg,
		kb:     kb,
		dialer: websocket.DefaultDialer,
		log:    log,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (r *Relay) Mode() Mode { return ModeRelay }

// LocalSegmentation is false: the model detects turns server side
func (r *Relay) LocalSegmentation() bool { return false }

// Open dials the model and configures the session. A dial failure wraps
// ErrBackendUnavailable.
func (r *Relay) Open(ctx context.Context, callID string, hooks Hooks) error {
	r.callID = callID
	r.hooks = hooks
	r.ctx = ctx
	r.log = r.log.With(zap.String("call_id", callID), zap.String("mode", string(ModeRelay)))

	_, span := tracer.Start(ctx, "turn.relay.open")
	defer span.End()
	span.SetAttributes(attribute.String("call_id", callID))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := r.dialer.DialContext(ctx, r.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	r.conn = conn

	if err := r.send(sessionUpdate{Type: evSessionUpdate, Session: r.sessionSettings()}); err != nil {
		conn.Close()
		span.RecordError(err)
		return fmt.Errorf("%w: session update: %v", ErrBackendUnavailable, err)
	}

	go r.readLoop()
	r.log.Info("Realtime session opened")
	return nil
}

func (r *Relay) sessionSettings() sessionSettings {
	return sessionSettings{
		Modalities:              []string{"text", "audio"},
		Instructions:            r.cfg.Instructions,
		Voice:                   r.cfg.Voice,
		InputAudioFormat:        "g711_ulaw",
		OutputAudioFormat:       "g711_ulaw",
		InputAudioTranscription: transcriptionSettings{Model: r.cfg.TranscriptionModel},
		TurnDetection: turnDetection{
			Type:              "server_vad",
			Threshold:         r.cfg.VADThreshold,
			PrefixPaddingMS:   r.cfg.PrefixPaddingMS,
			SilenceDurationMS: r.cfg.SilenceDurationMS,
			CreateResponse:    true,
		},
		Tools:           []realtimeTool{searchTool()},
		ToolChoice:      "auto",
		Temperature:     r.cfg.Temperature,
		MaxOutputTokens: r.cfg.MaxOutputTokens,
	}
}

// Greet asks the model to say the greeting verbatim. It waits for the session
// to be configured, up to ReadyTimeout, then greets regardless. The greeting
// reaches the transcript when the model reports what it said.
func (r *Relay) Greet(ctx context.Context, text string) (*Result, error) {
	if r.conn == nil {
		return nil, ErrNotOpen
	}

	timer := time.NewTimer(r.cfg.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-r.ready:
	case <-timer.C:
		r.log.Warn("Session update not confirmed, greeting anyway")
	case <-r.done:
		return nil, ErrBackendUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := r.send(bareEvent{Type: evBufferClear}); err != nil {
		return nil, err
	}
	item := itemCreate{
		Type: evItemCreate,
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: greetingInstruction(text)}},
		},
	}
	if err := r.send(item); err != nil {
		return nil, err
	}
	if err := r.send(responseCreate{Type: evResponseCreate, Response: &responseSettings{Modalities: []string{"text", "audio"}}}); err != nil {
		return nil, err
	}
	return &Result{AssistantText: text}, nil
}

// SubmitTurn is not used in relay mode; the model segments turns itself
func (r *Relay) SubmitTurn(context.Context, Turn) (*Result, error) {
	return &Result{Discarded: true}, nil
}

// Relay forwards one μ-law frame upstream
func (r *Relay) Relay(mulaw []byte) error {
	if r.conn == nil {
		return ErrNotOpen
	}
	return r.send(audioAppend{Type: evBufferAppend, Audio: base64.StdEncoding.EncodeToString(mulaw)})
}

// Interrupt cancels the response upstream and clears what the caller has buffered
func (r *Relay) Interrupt(context.Context) error {
	if r.conn == nil {
		return ErrNotOpen
	}
	cancelErr := r.send(bareEvent{Type: evResponseCancel})
	clearErr := r.hooks.Clear()
	return errors.Join(cancelErr, clearErr)
}

// Close ends the upstream session and waits for the reader and pending tool calls
func (r *Relay) Close() error {
	if r.conn == nil {
		return nil
	}
	var err error
	r.closeOnce.Do(func() {
		r.writeMu.Lock()
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		r.writeMu.Unlock()
		err = r.conn.Close()
		<-r.done
		r.tools.Wait()
	})
	return err
}

// Done is closed when the upstream connection ends, including after Close
func (r *Relay) Done() <-chan struct{} { return r.done }

func (r *Relay) send(v interface{}) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.cfg.WriteWait > 0 {
		_ = r.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteWait))
	}
	return r.conn.WriteJSON(v)
}

func (r *Relay) readLoop() {
	defer close(r.done)
	for {
		_, msg, err := r.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) &&
				!strings.Contains(err.Error(), "use of closed network connection") {
				r.log.Warn("Realtime connection closed", zap.Error(err))
			}
			return
		}
		r.handle(msg)
	}
}

func (r *Relay) handle(msg []byte) {
	var ev serverEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		r.log.Warn("Undecodable realtime event", zap.Error(err))
		return
	}

	switch ev.Type {
	case evSessionUpdated:
		r.readyOnce.Do(func() { close(r.ready) })

	case evResponseCreated:
		r.hooks.OnResponse(true)

	case evAudioDelta:
		if r.hooks.Interrupted() {
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			r.log.Debug("Dropping undecodable audio delta", zap.Error(err))
			return
		}
		if err := r.hooks.SendMedia(chunk); err != nil {
			r.log.Debug("Failed to forward audio delta", zap.Error(err))
		}

	case evResponseDone:
		if n := ev.Response.tokens(); n > 0 {
			r.hooks.OnUsage(n)
		}
		r.hooks.OnResponse(false)

	case evSpeechStarted:
		r.hooks.OnSpeechStarted()

	case evFunctionArgsDone:
		r.tools.Add(1)
		go func() {
			defer r.tools.Done()
			r.answerToolCall(ev.CallID, ev.Name, ev.Arguments)
		}()

	case evAudioTranscriptDone:
		if t := strings.TrimSpace(ev.Transcript); t != "" {
			r.hooks.OnTranscript(domain.SpeakerAssistant, t)
		}

	case evInputTranscribed:
		if t := strings.TrimSpace(ev.Transcript); t != "" {
			r.hooks.OnTranscript(domain.SpeakerUser, t)
		}

	case evError:
		r.log.Error("Realtime API error", zap.ByteString("error", ev.Error))
	}
}

// answerToolCall runs a knowledge base lookup and hands the result back to the model
func (r *Relay) answerToolCall(callID, name, arguments string) {
	ctx, span := tracer.Start(r.ctx, "turn.relay.tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", name))

	output := NoResultsText
	if name != searchToolName {
		r.log.Warn("Unknown tool requested", zap.String("tool", name))
	} else {
		var args knowledgeQuery
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			r.log.Warn("Bad tool arguments", zap.Error(err))
			output = SearchErrorText
		} else if r.kb != nil {
			snippets, err := r.kb.Search(ctx, args.Query, r.cfg.KBLimit)
			switch {
			case err != nil:
				span.RecordError(err)
				r.log.Warn("Knowledge base search failed", zap.Error(err))
				output = SearchErrorText
			case len(snippets) > 0:
				output = strings.Join(snippets, "\n")
			}
		}
	}

	item := itemCreate{
		Type: evItemCreate,
		Item: conversationItem{Type: "function_call_output", CallID: callID, Output: output},
	}
	if err := r.send(item); err != nil {
		r.log.Warn("Failed to return tool output", zap.Error(err))
		return
	}
	if err := r.send(responseCreate{Type: evResponseCreate}); err != nil {
		r.log.Warn("Failed to request tool follow-up", zap.Error(err))
	}
}
