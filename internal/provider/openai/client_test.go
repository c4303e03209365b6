package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalq-backend/internal/turn"
	"vocalq-backend/pkg/config"
	"vocalq-backend/pkg/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	settings := resilience.DefaultSettings()
	settings.InitialBackoff = time.Millisecond
	return NewClient(config.OpenAIConfig{
		APIKey:             "sk-test",
		BaseURL:            srv.URL,
		ChatModel:          "gpt-4o-mini",
		TranscriptionModel: "whisper-1",
		SpeechModel:        "tts-1",
		Voice:              "alloy",
		EmbeddingModel:     "text-embedding-3-small",
	}, resilience.NewBreaker("openai", settings, nil), nil)
}

func TestComplete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Equal(t, 100, req.MaxTokens)
		assert.Len(t, req.Messages, 2)

		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":" Sure thing. "}}],"usage":{"total_tokens":57}}`)
	})

	out, err := c.Complete(context.Background(), turn.CompletionRequest{
		Messages:    []turn.Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}},
		MaxTokens:   100,
		Temperature: 0.7,
	})

	require.NoError(t, err)
	assert.Equal(t, "Sure thing.", out.Text)
	assert.Equal(t, 57, out.Tokens)
}

func TestTranscribe_UploadsWAV(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "audio.wav", hdr.Filename)
		assert.Equal(t, "RIFF", string(data[:4]))
		assert.Len(t, data, 44+3200)

		_, _ = io.WriteString(w, `{"text":"hello there"}`)
	})

	text, err := c.Transcribe(context.Background(), make([]byte, 3200), 16000)

	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
}

func TestSynthesize_ReturnsRawPCM(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pcm", req["response_format"])
		assert.Equal(t, "alloy", req["voice"])
		_, _ = w.Write(make([]byte, 480))
	})

	pcm, rate, err := c.Synthesize(context.Background(), "hi")

	require.NoError(t, err)
	assert.Equal(t, SpeechSampleRate, rate)
	assert.Len(t, pcm, 480)
}

func TestEmbed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":[{"embedding":[0.1,0.2,0.3]}]}`)
	})

	vec, err := c.Embed(context.Background(), "pricing")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"bad"}`)
	})

	_, err := c.Complete(context.Background(), turn.CompletionRequest{})

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestServerErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}],"usage":{"total_tokens":1}}`)
	})

	out, err := c.Complete(context.Background(), turn.CompletionRequest{})

	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, int32(3), calls.Load())
}
