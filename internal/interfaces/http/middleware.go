package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docufort/admitd/pkg/logger"
)

// RequestLogger logs one line per request. Server errors are raised to Warn;
// everything else stays at Debug so probe traffic does not flood the log.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
			logger.String("client_ip", c.ClientIP()),
		}

		if c.Writer.Status() >= 500 {
			log.Warn(c.Request.Context(), "request failed", fields...)
			return
		}
		log.Debug(c.Request.Context(), "request served", fields...)
	}
}
