package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "vocalq-backend/pkg/errors"
	"vocalq-backend/pkg/logger"
	"vocalq-backend/pkg/response"
)

// PoolUsageThreshold is the share of acquired connections above which requests are shed
const PoolUsageThreshold = 0.8

// PoolUsage reports database pool occupancy. *database.CockroachDB implements it.
type PoolUsage interface {
	Usage() (acquired, max int32)
}

// PoolObserver records pool occupancy. *metrics.Metrics implements it.
type PoolObserver interface {
	SetDBConnectionsInUse(n int)
	RecordDBPoolRejected()
}

// PoolGuard answers 503 while the database pool is saturated. Call
// persistence shares the pool, so only dashboard routes are guarded.
func PoolGuard(pool PoolUsage, obs PoolObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		acquired, max := pool.Usage()
		if obs != nil {
			obs.SetDBConnectionsInUse(int(acquired))
		}
		if max > 0 && float64(acquired)/float64(max) >= PoolUsageThreshold {
			logger.Warn("Database connection pool saturated",
				zap.Int32("acquired", acquired),
				zap.Int32("max_conns", max),
				zap.String("path", c.Request.URL.Path))
			if obs != nil {
				obs.RecordDBPoolRejected()
			}
			response.FromError(c, apperrors.ServiceUnavailableError("Service temporarily unavailable"))
			c.Abort()
			return
		}
		c.Next()
	}
}
