package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/token-vault/internal/config"
	"github.com/smallbiznis/token-vault/internal/domain"
	"github.com/smallbiznis/token-vault/internal/http/middleware"
	"github.com/smallbiznis/token-vault/internal/service"
)

// persistentTokenIDHeader carries the minted id back to the consent
// feedback page alongside the redirect.
const persistentTokenIDHeader = "X-Persistent-Token-Id"

// VaultHandler exposes the token vault API.
type VaultHandler struct {
	Vault   *service.VaultService
	Gateway *service.IntrospectionGateway
	Health  *service.Health
	Cfg     config.Config
	Logger  *zap.Logger
}

// NewVaultHandler creates the handler set.
func NewVaultHandler(vault *service.VaultService, gateway *service.IntrospectionGateway, health *service.Health, cfg config.Config, logger *zap.Logger) *VaultHandler {
	return &VaultHandler{Vault: vault, Gateway: gateway, Health: health, Cfg: cfg, Logger: logger}
}

// StoreRefreshToken stores the caller's refresh token and returns its
// persistent id.
func (h *VaultHandler) StoreRefreshToken(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Identity not resolved."})
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "refresh_token is required."})
		return
	}

	id, err := h.Vault.StoreRefreshToken(c.Request.Context(), *identity, req.RefreshToken)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id.String()})
}

// RefreshTokenID resolves the persistent id of the caller's stored refresh
// credential.
func (h *VaultHandler) RefreshTokenID(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Identity not resolved."})
		return
	}

	id, err := h.Vault.GetRefreshTokenID(c.Request.Context(), *identity)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id.String()})
}

// RequestOfflineToken starts the consent flow and returns the authorization
// URL the user must visit.
func (h *VaultHandler) RequestOfflineToken(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Identity not resolved."})
		return
	}

	consent, err := h.Vault.RequestOfflineToken(c.Request.Context(), *identity)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"consent_url":      consent.ConsentURL,
		"state":            consent.StateToken,
		"session_state_id": consent.SessionStateID,
		"message":          "Please visit the consent URL to authorize offline access",
	})
}

// ConsentCallback lands the browser redirect after user consent. All
// outcomes redirect to the feedback page; failures carry error and
// description query parameters, success carries the new persistent id.
func (h *VaultHandler) ConsentCallback(c *gin.Context) {
	if errCode := strings.TrimSpace(c.Query("error")); errCode != "" {
		h.redirectFeedback(c, errCode, c.Query("error_description"))
		return
	}

	code := strings.TrimSpace(c.Query("code"))
	stateToken := strings.TrimSpace(c.Query("state"))
	if code == "" || stateToken == "" {
		h.redirectFeedback(c, "invalid_request", "code and state are required")
		return
	}

	result, err := h.Vault.HandleConsentCallback(c.Request.Context(), code, stateToken)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrExpiredStateToken):
			h.redirectFeedback(c, "expired_state", "consent window elapsed, please retry")
		case errors.Is(err, domain.ErrInvalidStateToken):
			h.redirectFeedback(c, "invalid_state", "state token rejected")
		case errors.Is(err, domain.ErrUpstreamExchange):
			h.redirectFeedback(c, "exchange_failed", "authorization code exchange failed")
		case errors.Is(err, domain.ErrUpstreamUnavailable):
			h.redirectFeedback(c, "upstream_unavailable", "identity provider unreachable")
		default:
			h.Logger.Error("consent callback failed", zap.Error(err))
			h.redirectFeedback(c, "server_error", "could not store offline token")
		}
		return
	}

	target, err := url.Parse(h.Cfg.FeedbackRedirectURI)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "feedback redirect misconfigured"})
		return
	}
	params := target.Query()
	params.Set("id", result.PersistentTokenID.String())
	target.RawQuery = params.Encode()

	c.Header(persistentTokenIDHeader, result.PersistentTokenID.String())
	c.Redirect(http.StatusFound, target.String())
}

// OfflineTokenID mints a fresh alias for the caller's offline credential.
func (h *VaultHandler) OfflineTokenID(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Identity not resolved."})
		return
	}

	id, err := h.Vault.GetOfflineTokenID(c.Request.Context(), *identity)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"persistent_token_id": id.String(),
		"session_state_id":    identity.SessionStateID,
	})
}

// RevokeToken revokes a persistent token id with alias semantics: removing
// a non-last offline alias leaves the shared credential alive.
func (h *VaultHandler) RevokeToken(c *gin.Context) {
	if _, ok := middleware.GetIdentity(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Identity not resolved."})
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Query("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "id must be a uuid."})
		return
	}

	result, err := h.Vault.Revoke(c.Request.Context(), id)
	if err != nil && result == nil {
		h.respondServiceError(c, err)
		return
	}

	resp := gin.H{
		"persistent_token_id": result.PersistentTokenID.String(),
		"revoked":             result.Revoked,
		"remaining_aliases":   result.RemainingAliases,
	}
	if err != nil {
		// Local alias is gone and the record is revoked, but the provider
		// call failed; the caller should alert rather than retry blindly.
		resp["warning"] = "upstream revocation failed"
		c.JSON(http.StatusBadGateway, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AccessToken mints a fresh access token from a stored credential.
func (h *VaultHandler) AccessToken(c *gin.Context) {
	if _, ok := middleware.GetIdentity(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Identity not resolved."})
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Query("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "id must be a uuid."})
		return
	}

	token, err := h.Vault.MintAccessToken(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token.AccessToken,
		"expires_in":   token.ExpiresIn,
	})
}

// ValidateToken introspects the bearer token and reports whether it is
// active.
func (h *VaultHandler) ValidateToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}

	if _, err := h.Gateway.Validate(c.Request.Context(), parts[1]); err != nil {
		if errors.Is(err, domain.ErrUpstreamUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream_unavailable", "error_description": "Could not reach identity provider."})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Token is not active."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// Healthz reports readiness of the backing stores.
func (h *VaultHandler) Healthz(c *gin.Context) {
	if err := h.Health.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "reason": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *VaultHandler) redirectFeedback(c *gin.Context, errCode, description string) {
	target, err := url.Parse(h.Cfg.FeedbackRedirectURI)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "feedback redirect misconfigured"})
		return
	}
	params := target.Query()
	params.Set("error", errCode)
	if description != "" {
		params.Set("description", description)
	}
	target.RawQuery = params.Encode()
	c.Redirect(http.StatusFound, target.String())
}

func (h *VaultHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "token_not_found", "error_description": "No stored credential for this session or id."})
	case errors.Is(err, domain.ErrUpstreamTokenRejected):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_grant", "error_description": "Stored credential rejected upstream; re-authenticate or re-consent."})
	case errors.Is(err, domain.ErrUpstreamExchange):
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_exchange_failed", "error_description": "Identity provider rejected the exchange."})
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream_unavailable", "error_description": "Identity provider unreachable."})
	case errors.Is(err, domain.ErrInvalidStateToken), errors.Is(err, domain.ErrExpiredStateToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state", "error_description": "State token rejected."})
	default:
		h.Logger.Error("vault operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
	}
}
