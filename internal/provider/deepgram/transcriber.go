// Package deepgram transcribes finished user turns over Deepgram's live
// listen websocket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"vocalq-backend/pkg/config"
	"vocalq-backend/pkg/resilience"
)

var tracer = otel.Tracer("vocalq-backend/internal/provider/deepgram")

// chunkBytes is 250ms of 16 kHz PCM16 per websocket frame
const chunkBytes = 8000

// Transcriber opens one listen socket per turn, streams the segment and
// collects the final transcripts
type Transcriber struct {
	cfg     config.DeepgramConfig
	dialer  *websocket.Dialer
	breaker *resilience.Breaker
	log     *zap.Logger
}

// NewTranscriber creates a Deepgram transcriber. breaker may be nil.
func NewTranscriber(cfg config.DeepgramConfig, breaker *resilience.Breaker, log *zap.Logger) *Transcriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transcriber{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		breaker: breaker,
		log:     log.With(zap.String("provider", "deepgram")),
	}
}

// Transcribe streams little-endian PCM16 at sampleRate and returns the joined final transcript
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	ctx, span := tracer.Start(ctx, "deepgram.transcribe")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", t.cfg.Model), attribute.Int("audio.bytes", len(pcm)))

	var text string
	run := func(ctx context.Context) error {
		var err error
		text, err = t.transcribeOnce(ctx, pcm, sampleRate)
		return err
	}

	var err error
	if t.breaker != nil {
		err = t.breaker.Execute(ctx, "transcribe", run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	return text, nil
}

func (t *Transcriber) listenURL(sampleRate int) (string, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return "", resilience.Permanent(fmt.Errorf("invalid deepgram url: %w", err))
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("model", t.cfg.Model)
	q.Set("language", t.cfg.Language)
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *Transcriber) transcribeOnce(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	listenURL, err := t.listenURL(sampleRate)
	if err != nil {
		return "", err
	}

	conn, resp, err := t.dialer.DialContext(ctx, listenURL, http.Header{"Authorization": {"Token " + t.cfg.APIKey}})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", resilience.Permanent(fmt.Errorf("failed to open socket connection to deepgram: %w", err))
		}
		return "", fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for off := 0; off < len(pcm); off += chunkBytes {
		end := min(off+chunkBytes, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			return "", fmt.Errorf("failed to write to deepgram client: %w", err)
		}
	}
	closeStream := struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}
	if err := conn.WriteJSON(closeStream); err != nil {
		return "", fmt.Errorf("failed to close deepgram stream: %w", err)
	}

	var parts []string
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			// the server closes the socket once the stream is flushed
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, websocket.ErrCloseSent) {
				break
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if len(parts) > 0 {
				t.log.Debug("Deepgram socket ended after results", zap.Error(err))
				break
			}
			return "", fmt.Errorf("failed to read deepgram websocket message: %w", err)
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		if part, ok := t.parseResult(msg); ok {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, " "), nil
}

func (t *Transcriber) parseResult(msg []byte) (string, bool) {
	var parsed struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsed); err != nil {
		t.log.Warn("Failed to unmarshal deepgram message", zap.Error(err))
		return "", false
	}
	if api.TypeResponse(parsed.Type) != api.TypeMessageResponse {
		return "", false
	}

	var res api.MessageResponse
	if err := json.Unmarshal(msg, &res); err != nil {
		t.log.Warn("Failed to unmarshal deepgram results", zap.Error(err))
		return "", false
	}
	if !res.IsFinal || len(res.Channel.Alternatives) == 0 {
		return "", false
	}
	transcript := strings.TrimSpace(res.Channel.Alternatives[0].Transcript)
	return transcript, transcript != ""
}
