package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/careflow/careflow-api/internal/handler"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

type SizeLimitConfig struct {
	MaxBodySize   int64
	MaxUploadSize int64
}

func DefaultSizeLimitConfig() SizeLimitConfig {
	return SizeLimitConfig{
		MaxBodySize:   1 << 20,
		MaxUploadSize: 20 << 20,
	}
}

// SizeLimit caps request bodies. Multipart uploads get the larger limit plus
// room for the form envelope.
func SizeLimit(config SizeLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := config.MaxBodySize
		if strings.HasPrefix(c.GetHeader("Content-Type"), "multipart/") {
			limit = config.MaxUploadSize + 1<<20
		}

		if c.Request.ContentLength > limit {
			handler.Fail(c, apperrors.NewValidation("request body too large", nil))
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
