package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/token-vault/internal/domain"
	"github.com/smallbiznis/token-vault/internal/service"
)

const identityKey = "vaultIdentity"

// Auth validates the Authorization header through live introspection and
// attaches the caller identity. An unreachable provider is treated as
// not-authenticated, never as valid.
type Auth struct {
	Gateway *service.IntrospectionGateway
	Logger  *zap.Logger
}

// RequireBearer ensures the request carries an active bearer access token.
func (m *Auth) RequireBearer(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}

	identity, err := m.Gateway.Validate(c.Request.Context(), parts[1])
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("bearer validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}

	c.Set(identityKey, identity)
	c.Next()
}

// GetIdentity exposes the validated caller identity to handlers.
func GetIdentity(c *gin.Context) (*domain.Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := value.(*domain.Identity)
	return identity, ok
}
