package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "vocalq-backend/pkg/errors"
	"vocalq-backend/pkg/logger"
	"vocalq-backend/pkg/response"
)

// TimeoutObserver counts timed out requests. *metrics.Metrics implements it.
type TimeoutObserver interface {
	RecordRequestTimeout(method, endpoint string)
}

// Timeout bounds the request context of REST routes. A handler that returns
// after the deadline without writing a response is answered with 504.
// Websocket routes must not use it: the deadline would end the stream.
func Timeout(timeout time.Duration, obs TimeoutObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		if obs != nil {
			obs.RecordRequestTimeout(c.Request.Method, endpoint)
		}
		logger.Warn("Request timed out",
			zap.Duration("timeout", timeout),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
		)
		if !c.Writer.Written() {
			response.FromError(c, apperrors.TimeoutError())
			c.Abort()
		}
	}
}
