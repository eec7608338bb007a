package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"deckwork/internal/logging"
)

// RequestLogger logs one line per request with method, path, status and
// latency. Streaming endpoints log on disconnect, which is when the handler
// returns.
func RequestLogger(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= 500 {
			logger.Error("%s %s -> %d (%s)", c.Request.Method, path, status, latency)
		} else if status >= 400 {
			logger.Warn("%s %s -> %d (%s)", c.Request.Method, path, status, latency)
		} else {
			logger.Info("%s %s -> %d (%s)", c.Request.Method, path, status, latency)
		}
	}
}
