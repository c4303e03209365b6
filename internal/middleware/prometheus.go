package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vocalq-backend/pkg/logger"
	"vocalq-backend/pkg/metrics"
)

// PrometheusMiddleware is a Gin middleware that records HTTP metrics
type PrometheusMiddleware struct {
	metrics *metrics.Metrics
}

// NewPrometheusMiddleware creates a new Prometheus middleware
func NewPrometheusMiddleware(m *metrics.Metrics) *PrometheusMiddleware {
	return &PrometheusMiddleware{
		metrics: m,
	}
}

// Handler returns the Gin middleware handler
func (p *PrometheusMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p.metrics.IncrementHTTPRequestsInFlight()
		defer p.metrics.DecrementHTTPRequestsInFlight()

		start := time.Now()
		c.Next()

		// route templates keep label cardinality bounded
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		p.metrics.RecordHTTPRequest(c.Request.Method, endpoint, c.Writer.Status(), time.Since(start))
	}
}

// MetricsHandler serves the private registry. It answers 200 whenever the
// process is alive, even if collection fails.
func MetricsHandler(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in metrics handler", zap.Any("panic", r))
				c.JSON(http.StatusOK, gin.H{"status": "metrics_collection_error"})
				c.Abort()
			}
		}()

		if m == nil || m.GetRegistry() == nil {
			c.JSON(http.StatusOK, gin.H{"status": "metrics_not_initialized"})
			return
		}

		promhttp.HandlerFor(m.GetRegistry(), promhttp.HandlerOpts{
			EnableOpenMetrics: false,
		}).ServeHTTP(c.Writer, c.Request)
	}
}
