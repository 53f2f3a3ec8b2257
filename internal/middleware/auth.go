package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/careflow/careflow-api/internal/handler"
	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/pkg/auth"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

type AuthMiddleware struct {
	tokens auth.JWTService
}

func NewAuthMiddleware(tokens auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Authenticate verifies the bearer token and stores the caller in the context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			handler.Fail(c, apperrors.Unauthorized(nil))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			handler.Fail(c, apperrors.NewBadRequest("invalid authorization format", nil))
			return
		}

		claims, err := m.tokens.ValidateToken(parts[1])
		if err != nil {
			handler.Fail(c, apperrors.Unauthorized(err))
			return
		}
		caller, err := claims.Caller()
		if err != nil {
			handler.Fail(c, apperrors.Unauthorized(err))
			return
		}

		c.Set(handler.CallerKey, caller)
		c.Next()
	}
}

// RequireRoles lets the request through only when the caller holds one of roles.
func RequireRoles(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := handler.Caller(c)
		if err != nil {
			handler.Fail(c, err)
			return
		}
		for _, r := range roles {
			if caller.Role == r {
				c.Next()
				return
			}
		}
		handler.Fail(c, apperrors.Forbidden("role "+string(caller.Role)+" may not perform this action"))
	}
}
