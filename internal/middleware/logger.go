package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/careflow/careflow-api/internal/handler"
)

// Logger writes one line per request. Bodies are never logged since they
// carry patient data.
func Logger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		ctx := log.With().
			Str("request_id", c.GetString(ContextRequestID)).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("route", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start))
		if caller, err := handler.Caller(c); err == nil {
			ctx = ctx.Str("user_id", caller.UserID.String()).Str("role", string(caller.Role))
		}
		l := ctx.Logger()

		switch {
		case status >= 500:
			l.Error().Msg("server error")
		case status >= 400:
			l.Warn().Msg("client error")
		default:
			l.Info().Msg("request processed")
		}
	}
}
