package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/token-vault/internal/domain"
	"github.com/smallbiznis/token-vault/internal/service"
)

type scriptedIntrospector struct {
	fakeProvider
	result *domain.Introspection
	err    error
}

func (p *scriptedIntrospector) Introspect(_ context.Context, _ string) (*domain.Introspection, error) {
	return p.result, p.err
}

func TestGatewayValidateActiveToken(t *testing.T) {
	userID := uuid.New()
	gateway := service.NewIntrospectionGateway(&scriptedIntrospector{
		result: &domain.Introspection{
			Active:       true,
			Subject:      userID.String(),
			SessionState: "sess-1",
			Username:     "alice",
		},
	}, zap.NewNop())

	identity, err := gateway.Validate(context.Background(), "the-access-token")
	require.NoError(t, err)
	require.Equal(t, userID, identity.UserID)
	require.Equal(t, "sess-1", identity.SessionStateID)
	require.Equal(t, "the-access-token", identity.AccessToken)
}

func TestGatewayValidateInactiveToken(t *testing.T) {
	gateway := service.NewIntrospectionGateway(&scriptedIntrospector{
		result: &domain.Introspection{Active: false},
	}, zap.NewNop())

	_, err := gateway.Validate(context.Background(), "stale-token")
	require.ErrorIs(t, err, domain.ErrTokenInactive)
}

func TestGatewayValidateRejectsMalformedClaims(t *testing.T) {
	cases := map[string]*domain.Introspection{
		"bad subject":     {Active: true, Subject: "not-a-uuid", SessionState: "sess-1"},
		"missing session": {Active: true, Subject: uuid.NewString()},
	}
	for name, result := range cases {
		t.Run(name, func(t *testing.T) {
			gateway := service.NewIntrospectionGateway(&scriptedIntrospector{result: result}, zap.NewNop())
			_, err := gateway.Validate(context.Background(), "token")
			require.ErrorIs(t, err, domain.ErrTokenInactive)
		})
	}
}

func TestGatewayValidateUpstreamDownIsNotValid(t *testing.T) {
	gateway := service.NewIntrospectionGateway(&scriptedIntrospector{
		err: domain.ErrUpstreamUnavailable,
	}, zap.NewNop())

	identity, err := gateway.Validate(context.Background(), "token")
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	require.Nil(t, identity)
}
