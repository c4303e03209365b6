package webhook

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"vocalq-backend/internal/domain"
)

type settingsValue domain.Settings

func (s settingsValue) Current() domain.Settings { return domain.Settings(s) }

func postCall(h *Handler, form url.Values, header http.Header) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/v1/calls/twilio", h.IncomingCall)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls/twilio", strings.NewReader(form.Encode()))
	req.Host = "voice.example.com"
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// httptest requests come from 192.0.2.1
var testProxies = []string{"192.0.2.0/24"}

func TestIncomingCall_ConnectsStream(t *testing.T) {
	h := NewHandler(settingsValue{InboundEnabled: true}, testProxies)

	w := postCall(h, url.Values{"From": {"+15551234567"}}, http.Header{"X-Forwarded-Proto": {"https"}})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, `<Stream url="wss://voice.example.com/api/v1/stream">`)
	assert.Contains(t, body, `<Parameter name="callerNumber" value="+15551234567"/>`)
	assert.NotContains(t, body, "Reject")
}

func TestIncomingCall_RejectsWhenDisabled(t *testing.T) {
	h := NewHandler(settingsValue{InboundEnabled: false}, nil)

	w := postCall(h, url.Values{"From": {"+15551234567"}}, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `<Response><Reject reason="busy"/></Response>`)
}

func TestIncomingCall_UnknownCaller(t *testing.T) {
	h := NewHandler(settingsValue{InboundEnabled: true}, nil)

	w := postCall(h, url.Values{}, nil)

	assert.Contains(t, w.Body.String(), `url="ws://voice.example.com/api/v1/stream"`)
	assert.Contains(t, w.Body.String(), `value="Unknown"`)
}

func TestIncomingCall_IgnoresForwardedHostWithoutTrustedProxy(t *testing.T) {
	spoofed := http.Header{"X-Forwarded-Host": {"attacker.example"}, "X-Forwarded-Proto": {"https"}}

	w := postCall(NewHandler(settingsValue{InboundEnabled: true}, nil), url.Values{"From": {"+1555"}}, spoofed)
	assert.Contains(t, w.Body.String(), `url="ws://voice.example.com/api/v1/stream"`)
	assert.NotContains(t, w.Body.String(), "attacker.example")

	w = postCall(NewHandler(settingsValue{InboundEnabled: true}, []string{"10.0.0.1", "not-an-ip"}), url.Values{"From": {"+1555"}}, spoofed)
	assert.NotContains(t, w.Body.String(), "attacker.example")

	w = postCall(NewHandler(settingsValue{InboundEnabled: true}, []string{"192.0.2.1"}), url.Values{"From": {"+1555"}}, spoofed)
	assert.Contains(t, w.Body.String(), `url="wss://attacker.example/api/v1/stream"`)
}

func TestConnectTwiML_EscapesValues(t *testing.T) {
	out := string(ConnectTwiML("wss://h/api/v1/stream", `"><Hangup/>`))

	assert.NotContains(t, out, "<Hangup/>")
	assert.Contains(t, out, "&#34;&gt;&lt;Hangup/&gt;")
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		name     string
		header   http.Header
		tls      bool
		viaProxy bool
		want     string
	}{
		{"plain", nil, false, false, "ws://api.local/api/v1/stream"},
		{"direct tls", nil, true, false, "wss://api.local/api/v1/stream"},
		{"proxy tls", http.Header{"X-Forwarded-Proto": {"https"}}, false, true, "wss://api.local/api/v1/stream"},
		{"forwarded host", http.Header{"X-Forwarded-Host": {"public.example.com"}}, false, true, "ws://public.example.com/api/v1/stream"},
		{"untrusted proto", http.Header{"X-Forwarded-Proto": {"https"}}, false, false, "ws://api.local/api/v1/stream"},
		{"untrusted host", http.Header{"X-Forwarded-Host": {"public.example.com"}}, false, false, "ws://api.local/api/v1/stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/calls/twilio", nil)
			r.Host = "api.local"
			for k, v := range tt.header {
				r.Header[k] = v
			}
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			assert.Equal(t, tt.want, StreamURL(r, tt.viaProxy))
		})
	}
}
