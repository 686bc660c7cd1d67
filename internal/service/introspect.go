package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/token-vault/internal/adapter/provider"
	"github.com/smallbiznis/token-vault/internal/domain"
)

// IntrospectionGateway validates bearer access tokens against the identity
// provider. Every validation is a live upstream call; nothing is cached, so
// a token revoked at the provider is rejected immediately.
type IntrospectionGateway struct {
	provider provider.Client
	logger   *zap.Logger
}

// NewIntrospectionGateway wires the gateway.
func NewIntrospectionGateway(providerClient provider.Client, logger *zap.Logger) *IntrospectionGateway {
	return &IntrospectionGateway{provider: providerClient, logger: logger}
}

// Validate introspects the token and extracts the caller identity. Inactive
// tokens return domain.ErrTokenInactive; an unreachable provider returns
// domain.ErrUpstreamUnavailable, which callers must treat as
// not-authenticated, never as valid.
func (g *IntrospectionGateway) Validate(ctx context.Context, accessToken string) (*domain.Identity, error) {
	result, err := g.provider.Introspect(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if !result.Active {
		return nil, domain.ErrTokenInactive
	}

	userID, err := uuid.Parse(result.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed subject", domain.ErrTokenInactive)
	}
	if result.SessionState == "" {
		return nil, fmt.Errorf("%w: missing session state", domain.ErrTokenInactive)
	}

	return &domain.Identity{
		UserID:         userID,
		SessionStateID: result.SessionState,
		AccessToken:    accessToken,
	}, nil
}
