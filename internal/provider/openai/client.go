// Package openai talks to the OpenAI REST API for transcription, chat,
// speech synthesis and embeddings.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"vocalq-backend/internal/audio"
	"vocalq-backend/internal/turn"
	"vocalq-backend/pkg/config"
	"vocalq-backend/pkg/resilience"
)

const scopeName = "vocalq-backend/internal/provider/openai"

var tracer = otel.Tracer(scopeName)

// SpeechSampleRate is the rate of response_format=pcm speech
const SpeechSampleRate = 24000

// Client is a thin OpenAI REST client guarded by a circuit breaker
type Client struct {
	cfg     config.OpenAIConfig
	http    *http.Client
	breaker *resilience.Breaker
	log     *zap.Logger
}

// NewClient creates a client. breaker may be nil, then calls are made once without protection.
func NewClient(cfg config.OpenAIConfig, breaker *resilience.Breaker, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		breaker: breaker,
		log:     log.With(zap.String("provider", "openai")),
	}
}

// APIError is a non-2xx answer from the API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai: status %d: %s", e.StatusCode, e.Body)
}

// Transcribe sends PCM16 audio to the transcription model as a WAV upload
func (c *Client) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	ctx, span := tracer.Start(ctx, "openai.transcribe", trace.WithAttributes(
		attribute.String("request.model", c.cfg.TranscriptionModel),
		attribute.Int("audio.bytes", len(pcm)),
	))
	defer span.End()

	wav := audio.WAV(pcm, audio.EncodingPCM16, sampleRate)

	var out struct {
		Text string `json:"text"`
	}
	err := c.execute(ctx, "transcribe", func(ctx context.Context) error {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		if err := mw.WriteField("model", c.cfg.TranscriptionModel); err != nil {
			return err
		}
		part, err := mw.CreateFormFile("file", "audio.wav")
		if err != nil {
			return err
		}
		if _, err := part.Write(wav); err != nil {
			return err
		}
		if err := mw.Close(); err != nil {
			return err
		}
		return c.doJSON(ctx, "/audio/transcriptions", mw.FormDataContentType(), body, &out)
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []turn.Message `json:"messages"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float64        `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete runs a chat completion
func (c *Client) Complete(ctx context.Context, req turn.CompletionRequest) (*turn.Completion, error) {
	ctx, span := tracer.Start(ctx, "openai.complete", trace.WithAttributes(
		attribute.String("request.model", c.cfg.ChatModel),
		attribute.Int("request.messages", len(req.Messages)),
	))
	defer span.End()

	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.ChatModel,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	var out chatResponse
	err = c.execute(ctx, "complete", func(ctx context.Context) error {
		return c.doJSON(ctx, "/chat/completions", "application/json", bytes.NewReader(payload), &out)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to complete chat: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("failed to complete chat: no choices returned")
	}

	span.SetAttributes(attribute.Int("response.tokens", out.Usage.TotalTokens))
	return &turn.Completion{
		Text:   strings.TrimSpace(out.Choices[0].Message.Content),
		Tokens: out.Usage.TotalTokens,
	}, nil
}

// Synthesize renders text as 24 kHz little-endian PCM16
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, int, error) {
	ctx, span := tracer.Start(ctx, "openai.synthesize", trace.WithAttributes(
		attribute.String("request.model", c.cfg.SpeechModel),
		attribute.Int("request.chars", len(text)),
	))
	defer span.End()

	payload, err := json.Marshal(map[string]string{
		"model":           c.cfg.SpeechModel,
		"input":           text,
		"voice":           c.cfg.Voice,
		"response_format": "pcm",
	})
	if err != nil {
		return nil, 0, fmt.Errorf("error marshalling JSON: %w", err)
	}

	var pcm []byte
	err = c.execute(ctx, "synthesize", func(ctx context.Context) error {
		resp, err := c.post(ctx, "/audio/speech", "application/json", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		pcm, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	span.SetAttributes(attribute.Int("response.bytes", len(pcm)))
	return pcm, SpeechSampleRate, nil
}

// Embed returns the embedding vector of text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "openai.embed", trace.WithAttributes(
		attribute.String("request.model", c.cfg.EmbeddingModel),
	))
	defer span.End()

	payload, err := json.Marshal(map[string]string{
		"model": c.cfg.EmbeddingModel,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	err = c.execute(ctx, "embed", func(ctx context.Context) error {
		return c.doJSON(ctx, "/embeddings", "application/json", bytes.NewReader(payload), &out)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("failed to embed text: empty response")
	}
	return out.Data[0].Embedding, nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, operation, fn)
}

func (c *Client) doJSON(ctx context.Context, path, contentType string, body io.Reader, out interface{}) error {
	resp, err := c.post(ctx, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// post sends one request. 4xx answers other than 429 are permanent.
func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("error creating HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return nil, resilience.Permanent(apiErr)
	}
	return nil, apiErr
}
