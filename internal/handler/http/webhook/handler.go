package webhook

import (
	"bytes"
	"encoding/xml"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vocalq-backend/internal/domain"
	"vocalq-backend/pkg/logger"
	"vocalq-backend/pkg/sanitize"
)

// StreamPath is where the telephony provider opens the media stream
const StreamPath = "/api/v1/stream"

const xmlContentType = "application/xml"

// SettingsSource returns the current cross-call settings
type SettingsSource interface {
	Current() domain.Settings
}

// Handler answers the telephony provider's incoming-call webhook with TwiML
type Handler struct {
	settings SettingsSource
	proxies  []*net.IPNet
}

// NewHandler creates a new webhook handler. Forwarded headers are honoured
// only from trustedProxies, given as IPs or CIDRs; invalid entries are skipped.
func NewHandler(settings SettingsSource, trustedProxies []string) *Handler {
	h := &Handler{settings: settings}
	for _, raw := range trustedProxies {
		p := raw
		if !strings.Contains(p, "/") {
			if ip := net.ParseIP(p); ip != nil && ip.To4() != nil {
				p += "/32"
			} else {
				p += "/128"
			}
		}
		_, cidr, err := net.ParseCIDR(p)
		if err != nil {
			logger.Warn("Ignoring invalid trusted proxy", zap.String("proxy", raw), zap.Error(err))
			continue
		}
		h.proxies = append(h.proxies, cidr)
	}
	return h
}

// IncomingCall connects the call to the media stream, or rejects it as busy
// while inbound calls are disabled.
// POST /api/v1/calls/twilio
func (h *Handler) IncomingCall(c *gin.Context) {
	caller := sanitize.Text(c.PostForm("From"))
	if caller == "" {
		caller = "Unknown"
	}
	log := logger.FromContext(c.Request.Context()).With(zap.String("caller", logger.MaskPhone(caller)))

	if !h.settings.Current().InboundEnabled {
		log.Info("Inbound calls disabled, rejecting call")
		Reject(c)
		return
	}

	url := StreamURL(c.Request, h.fromProxy(c.RemoteIP()))
	log.Info("Incoming call, connecting media stream", zap.String("stream_url", url))
	c.Data(http.StatusOK, xmlContentType, ConnectTwiML(url, caller))
}

// Reject answers with a busy signal
func Reject(c *gin.Context) {
	c.Data(http.StatusOK, xmlContentType, []byte(xml.Header+`<Response><Reject reason="busy"/></Response>`))
}

func (h *Handler) fromProxy(remoteIP string) bool {
	ip := net.ParseIP(remoteIP)
	if ip == nil {
		return false
	}
	for _, cidr := range h.proxies {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// StreamURL builds the websocket URL of the media stream on the host the
// provider reached. X-Forwarded-Proto and X-Forwarded-Host are read only
// when the request came through a trusted proxy.
func StreamURL(r *http.Request, viaProxy bool) string {
	scheme := "ws"
	if r.TLS != nil || (viaProxy && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")) {
		scheme = "wss"
	}
	host := r.Host
	if viaProxy {
		if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
			host = fwd
		}
	}
	return scheme + "://" + host + StreamPath
}

// ConnectTwiML renders the instruction to open a bidirectional media stream
// that carries the caller number as a custom parameter
func ConnectTwiML(streamURL, caller string) []byte {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString(`<Response><Connect><Stream url="`)
	xml.EscapeText(&b, []byte(streamURL))
	b.WriteString(`"><Parameter name="callerNumber" value="`)
	xml.EscapeText(&b, []byte(caller))
	b.WriteString(`"/></Stream></Connect></Response>`)
	return b.Bytes()
}
