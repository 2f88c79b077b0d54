package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/usecase"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
)

const claimsKey = "claims"

// TokenValidator checks bearer tokens
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*usecase.Claims, error)
}

// AuthMiddleware requires a valid bearer token and tags the request
// context with the caller
func AuthMiddleware(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(c, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized))
			return
		}

		claims, err := v.ValidateToken(c.Request.Context(), token)
		if err != nil {
			respondError(c, err)
			return
		}

		c.Set(claimsKey, claims)
		ctx := logger.WithUser(c.Request.Context(), claims.Username, string(claims.Role))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole rejects callers with any other role
func RequireRole(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if claims == nil || claims.Role != role {
			respondError(c, fmt.Errorf("%w: requires %s", domain.ErrForbidden, role))
			return
		}
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *usecase.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*usecase.Claims)
	return claims
}

// RecoveryMiddleware turns a handler panic into a 500
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context()).
					Str("panic", fmt.Sprint(r)).
					Str("stack", string(debug.Stack())).
					Msg("handler panicked")
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Code: "internal", Message: "internal error"})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware allows the browser front end on another origin
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
