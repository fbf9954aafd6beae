package sink

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request after it is served.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(context *gin.Context) {
		start := time.Now()
		context.Next()
		logger.Info("http",
			zap.String("method", context.Request.Method),
			zap.String("route", context.FullPath()),
			zap.String("destination", context.Param(routeParameterDestination)),
			zap.Int("status", context.Writer.Status()),
			zap.Int("bytes", context.Writer.Size()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", context.ClientIP()),
		)
	}
}
