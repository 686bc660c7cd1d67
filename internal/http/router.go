package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/smallbiznis/token-vault/internal/config"
	"github.com/smallbiznis/token-vault/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/token-vault/internal/http/middleware"
	"github.com/smallbiznis/token-vault/internal/middleware"
)

// NewRouter wires Gin routes and middleware. Everything except the consent
// callback and health check sits behind bearer authentication; the callback
// is reached via browser redirect and authenticates with the state token.
func NewRouter(cfg config.Config, vaultHandler *handler.VaultHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	v1 := r.Group("/v1")
	{
		v1.GET("/offline-token/callback", vaultHandler.ConsentCallback)
		v1.GET("/validate-token", vaultHandler.ValidateToken)

		authed := v1.Group("", authMiddleware.RequireBearer)
		{
			authed.POST("/refresh-token", vaultHandler.StoreRefreshToken)
			authed.POST("/refresh-token-id", vaultHandler.RefreshTokenID)
			authed.POST("/offline-token", vaultHandler.RequestOfflineToken)
			authed.GET("/offline-token-id", vaultHandler.OfflineTokenID)
			authed.DELETE("/offline-token-id", vaultHandler.RevokeToken)
			authed.GET("/access-token", vaultHandler.AccessToken)
		}
	}

	r.GET("/healthz", vaultHandler.Healthz)

	return r
}
