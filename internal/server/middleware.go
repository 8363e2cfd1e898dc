package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/utils"
)

const requestIDHeader = "X-Request-ID"

// requestContext puts a request id and a request-scoped logger on the context
// and logs the request once it completes.
func requestContext(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		log := base.With(zap.String("request_id", id))
		ctx := tenant.WithRequestID(c.Request.Context(), id)
		ctx = logger.WithLogger(ctx, log)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, id)

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= 500 {
			log.Warn("HTTP request failed", fields...)
			return
		}
		log.Debug("HTTP request", fields...)
	}
}

// recovery turns a handler panic into a logged 500.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		completed := false
		defer func() {
			if !completed {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		defer utils.RecoverWithLog(c.Request.Context(), "http "+c.Request.Method+" "+c.FullPath())
		c.Next()
		completed = true
	}
}

func loggerFrom(c *gin.Context, base *zap.Logger) *zap.Logger {
	return logger.FromContextOr(c.Request.Context(), base)
}
