package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/token-vault/internal/adapter/provider"
	"github.com/smallbiznis/token-vault/internal/cipher"
	"github.com/smallbiznis/token-vault/internal/config"
	"github.com/smallbiznis/token-vault/internal/consent"
	"github.com/smallbiznis/token-vault/internal/domain"
	"github.com/smallbiznis/token-vault/internal/repository"
)

// VaultService orchestrates the token lifecycle: storing refresh tokens,
// running the offline-token consent flow, minting access tokens, and
// revocation with alias semantics. Plaintext token values exist only
// transiently inside these methods.
type VaultService struct {
	repo     repository.VaultRepository
	replay   repository.ReplayGuard
	sealer   *cipher.Sealer
	codec    *consent.Codec
	provider provider.Client
	cfg      config.Config
	logger   *zap.Logger
}

// NewVaultService wires the lifecycle manager.
func NewVaultService(
	repo repository.VaultRepository,
	replay repository.ReplayGuard,
	sealer *cipher.Sealer,
	codec *consent.Codec,
	providerClient provider.Client,
	cfg config.Config,
	logger *zap.Logger,
) *VaultService {
	return &VaultService{
		repo:     repo,
		replay:   replay,
		sealer:   sealer,
		codec:    codec,
		provider: providerClient,
		cfg:      cfg,
		logger:   logger,
	}
}

// StoreRefreshToken encrypts and upserts the caller's refresh token. A user
// holds at most one refresh credential; storing again replaces it.
func (s *VaultService) StoreRefreshToken(ctx context.Context, identity domain.Identity, refreshToken string) (uuid.UUID, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return uuid.Nil, fmt.Errorf("refresh token is empty")
	}
	ciphertext, nonce, err := s.sealer.Encrypt(refreshToken)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encrypt refresh token: %w", err)
	}
	stored, err := retryStore(ctx, s.cfg.StoreRetryMax, func() (domain.StoredToken, error) {
		return s.repo.UpsertRefresh(ctx, domain.StoredToken{
			UserID:         identity.UserID,
			Kind:           domain.KindRefresh,
			Ciphertext:     ciphertext,
			Nonce:          nonce,
			TokenHash:      cipher.HashToken(refreshToken),
			SessionStateID: identity.SessionStateID,
		})
	})
	if err != nil {
		return uuid.Nil, err
	}
	return stored.ID, nil
}

// GetRefreshTokenID resolves the caller's stored refresh credential.
func (s *VaultService) GetRefreshTokenID(ctx context.Context, identity domain.Identity) (uuid.UUID, error) {
	stored, err := s.repo.GetBySession(ctx, identity.SessionStateID, domain.KindRefresh)
	if err != nil {
		return uuid.Nil, err
	}
	return stored.ID, nil
}

// GetOfflineTokenID mints a fresh alias for the session's offline credential,
// so every caller gets its own revocable id pointing at the shared secret.
func (s *VaultService) GetOfflineTokenID(ctx context.Context, identity domain.Identity) (uuid.UUID, error) {
	stored, err := s.repo.GetBySession(ctx, identity.SessionStateID, domain.KindOffline)
	if err != nil {
		return uuid.Nil, err
	}
	alias, err := retryStore(ctx, s.cfg.StoreRetryMax, func() (domain.TokenAlias, error) {
		return s.repo.CreateAlias(ctx, stored.ID)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return alias.ID, nil
}

// RequestOfflineToken starts the consent flow. Nothing is persisted; the
// flow context rides inside the signed state token.
func (s *VaultService) RequestOfflineToken(ctx context.Context, identity domain.Identity) (*ConsentRequest, error) {
	state := domain.ConsentState{
		UserID:          identity.UserID.String(),
		SessionStateID:  identity.SessionStateID,
		RedirectContext: s.cfg.ConsentRedirectURI,
	}
	stateToken, err := s.codec.Issue(state)
	if err != nil {
		return nil, fmt.Errorf("issue state token: %w", err)
	}

	endpoints := provider.RealmEndpoints(s.cfg.RealmURL())
	authURL, err := url.Parse(endpoints.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("parse auth url: %w", err)
	}
	params := authURL.Query()
	params.Set("client_id", s.cfg.ProviderClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", s.cfg.ConsentRedirectURI)
	params.Set("scope", "openid offline_access")
	params.Set("state", stateToken)
	authURL.RawQuery = params.Encode()

	return &ConsentRequest{
		ConsentURL:     authURL.String(),
		StateToken:     stateToken,
		SessionStateID: identity.SessionStateID,
	}, nil
}

// HandleConsentCallback verifies the state token, exchanges the code, and
// stores the resulting offline token with its first alias. A failed or timed
// out exchange stores nothing.
func (s *VaultService) HandleConsentCallback(ctx context.Context, code, stateToken string) (*ConsentResult, error) {
	state, err := s.codec.Verify(stateToken)
	if err != nil {
		return nil, err
	}

	first, err := s.replay.MarkUsed(ctx, state.Nonce)
	if err != nil {
		return nil, fmt.Errorf("replay check: %w", err)
	}
	if !first {
		s.logger.Warn("state token replayed", zap.String("session_state_id", state.SessionStateID))
		return nil, domain.ErrInvalidStateToken
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	defer cancel()
	resp, err := s.provider.ExchangeCode(exchangeCtx, code, state.RedirectContext)
	if err != nil {
		return nil, err
	}
	if resp.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no offline token in response", domain.ErrUpstreamExchange)
	}

	// The stored credential must bind to the identity the state was issued
	// for. A session mismatch means the consent was completed by someone
	// else's login.
	sessionStateID := state.SessionStateID
	if resp.SessionState != "" {
		if sessionStateID != "" && resp.SessionState != sessionStateID {
			return nil, domain.ErrInvalidStateToken
		}
		sessionStateID = resp.SessionState
	}

	userID, err := uuid.Parse(state.UserID)
	if err != nil {
		return nil, domain.ErrInvalidStateToken
	}

	ciphertext, nonce, err := s.sealer.Encrypt(resp.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt offline token: %w", err)
	}

	attrs := map[string]any{"grant": "offline_access"}
	if resp.Scope != "" {
		attrs["scope"] = resp.Scope
	}
	if resp.TokenType != "" {
		attrs["token_type"] = resp.TokenType
	}

	stored, err := retryStore(ctx, s.cfg.StoreRetryMax, func() (domain.StoredToken, error) {
		return s.repo.Create(ctx, domain.StoredToken{
			UserID:         userID,
			Kind:           domain.KindOffline,
			Ciphertext:     ciphertext,
			Nonce:          nonce,
			TokenHash:      cipher.HashToken(resp.RefreshToken),
			SessionStateID: sessionStateID,
			Attributes:     attrs,
		})
	})
	if err != nil {
		return nil, err
	}

	alias, err := retryStore(ctx, s.cfg.StoreRetryMax, func() (domain.TokenAlias, error) {
		return s.repo.CreateAlias(ctx, stored.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("offline token stored",
		zap.String("token_id", stored.ID.String()),
		zap.String("session_state_id", sessionStateID))

	return &ConsentResult{PersistentTokenID: alias.ID, SessionStateID: sessionStateID}, nil
}

// MintAccessToken dereferences a persistent token id, decrypts the stored
// credential, and runs the refresh grant. A rotated secret in the response
// is persisted with an optimistic version check; losing that race to a
// concurrent mint is fine, the winner's rotation stands.
func (s *VaultService) MintAccessToken(ctx context.Context, persistentTokenID uuid.UUID) (*AccessToken, error) {
	stored, err := s.resolve(ctx, persistentTokenID)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.sealer.Decrypt(stored.Ciphertext, stored.Nonce)
	if err != nil {
		return nil, err
	}

	grantCtx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	defer cancel()
	resp, err := s.provider.Refresh(grantCtx, plaintext)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamTokenRejected) {
			// The provider no longer honors this credential; the local
			// record is dead weight and must not be retried.
			if revokeErr := s.repo.MarkRevoked(ctx, stored.ID); revokeErr != nil {
				s.logger.Error("mark rejected token revoked",
					zap.String("token_id", stored.ID.String()), zap.Error(revokeErr))
			}
		}
		return nil, err
	}

	if resp.RefreshToken != "" && cipher.HashToken(resp.RefreshToken) != stored.TokenHash {
		if err := s.rotate(ctx, stored, resp.RefreshToken); err != nil {
			return nil, err
		}
	}

	return &AccessToken{AccessToken: resp.AccessToken, ExpiresIn: resp.ExpiresIn}, nil
}

func (s *VaultService) rotate(ctx context.Context, stored domain.StoredToken, newSecret string) error {
	ciphertext, nonce, err := s.sealer.Encrypt(newSecret)
	if err != nil {
		return fmt.Errorf("encrypt rotated token: %w", err)
	}
	err = s.repo.Rotate(ctx, stored.ID, stored.Version, ciphertext, nonce, cipher.HashToken(newSecret))
	if errors.Is(err, domain.ErrConflict) {
		s.logger.Debug("rotation lost race to concurrent mint",
			zap.String("token_id", stored.ID.String()))
		return nil
	}
	return err
}

// Revoke removes a persistent token id. Refresh credentials are revoked
// upstream immediately. Offline credentials only revoke upstream when the
// removed alias was the last one; otherwise the shared secret stays alive
// for its other holders.
func (s *VaultService) Revoke(ctx context.Context, persistentTokenID uuid.UUID) (*RevocationResult, error) {
	stored, err := s.repo.ResolveAlias(ctx, persistentTokenID)
	if err == nil {
		return s.revokeAlias(ctx, persistentTokenID, stored)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	stored, err = s.repo.Get(ctx, persistentTokenID)
	if err != nil {
		return nil, err
	}
	return s.revokeDirect(ctx, persistentTokenID, stored)
}

func (s *VaultService) revokeAlias(ctx context.Context, aliasID uuid.UUID, stored domain.StoredToken) (*RevocationResult, error) {
	remaining, err := retryStore(ctx, s.cfg.StoreRetryMax, func() (int, error) {
		return s.repo.RemoveAlias(ctx, aliasID)
	})
	if err != nil {
		return nil, err
	}

	result := &RevocationResult{PersistentTokenID: aliasID, RemainingAliases: remaining}
	if remaining > 0 {
		return result, nil
	}

	result.Revoked = true
	return result, s.revokeUpstream(ctx, stored)
}

func (s *VaultService) revokeDirect(ctx context.Context, id uuid.UUID, stored domain.StoredToken) (*RevocationResult, error) {
	result := &RevocationResult{PersistentTokenID: id, Revoked: true}
	return result, s.revokeUpstream(ctx, stored)
}

// revokeUpstream invalidates the credential at the provider and marks the
// local record revoked. The local record is marked revoked even when the
// upstream call fails: a locally dead credential cannot be handed out again,
// and the provider-side lifetime bounds the leak. The upstream error still
// surfaces so callers can alert.
func (s *VaultService) revokeUpstream(ctx context.Context, stored domain.StoredToken) error {
	plaintext, decErr := s.sealer.Decrypt(stored.Ciphertext, stored.Nonce)

	var upstreamErr error
	if decErr == nil {
		revokeCtx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
		defer cancel()
		upstreamErr = s.provider.Revoke(revokeCtx, plaintext)
	} else {
		upstreamErr = decErr
	}

	if err := s.repo.MarkRevoked(ctx, stored.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Error("mark token revoked", zap.String("token_id", stored.ID.String()), zap.Error(err))
		if upstreamErr == nil {
			upstreamErr = err
		}
	}

	if upstreamErr != nil {
		s.logger.Warn("upstream revocation failed; local record revoked anyway",
			zap.String("token_id", stored.ID.String()), zap.Error(upstreamErr))
	}
	return upstreamErr
}

// resolve maps a persistent token id to its stored record, whether the id is
// an offline alias or a refresh record id.
func (s *VaultService) resolve(ctx context.Context, id uuid.UUID) (domain.StoredToken, error) {
	stored, err := s.repo.ResolveAlias(ctx, id)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.StoredToken{}, err
	}
	return s.repo.Get(ctx, id)
}

// retryStore retries transient persistence failures with capped exponential
// backoff. Domain errors are terminal and pass through untouched.
func retryStore[T any](ctx context.Context, maxTries uint, op func() (T, error)) (T, error) {
	if maxTries == 0 {
		maxTries = 1
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxTries))
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrDecryption):
		return false
	}
	return true
}
