package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/careflow/careflow-api/internal/handler"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

// ErrorHandler renders the last error a handler recorded with c.Error.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := apperrors.As(err)
		if !ok {
			appErr = apperrors.NewInternal(err)
		}
		status := appErr.Code.HTTPStatus()

		event := log.Warn()
		if status >= 500 {
			event = log.Error()
		}
		event.Err(err).
			Str("request_id", c.GetString(ContextRequestID)).
			Str("path", c.Request.URL.Path).
			Str("method", c.Request.Method).
			Str("code", appErr.Code.String()).
			Msg("request failed")

		message := appErr.Message
		if appErr.Code == apperrors.ErrInternal || appErr.Code == apperrors.ErrIntegrity {
			message = "internal server error"
		}
		c.JSON(status, handler.NewErrorResponse(appErr.Code, message))
	}
}
