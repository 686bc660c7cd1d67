package service_test

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/token-vault/internal/cipher"
	"github.com/smallbiznis/token-vault/internal/config"
	"github.com/smallbiznis/token-vault/internal/consent"
	"github.com/smallbiznis/token-vault/internal/domain"
	"github.com/smallbiznis/token-vault/internal/service"
)

// memoryRepo is an in-memory VaultRepository with the same concurrency
// contract as the postgres implementation: version-checked rotation and
// serialized alias removal.
type memoryRepo struct {
	mu      sync.Mutex
	tokens  map[uuid.UUID]*domain.StoredToken
	aliases map[uuid.UUID]uuid.UUID
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		tokens:  map[uuid.UUID]*domain.StoredToken{},
		aliases: map[uuid.UUID]uuid.UUID{},
	}
}

func (r *memoryRepo) Create(_ context.Context, token domain.StoredToken) (domain.StoredToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token.ID = uuid.New()
	token.Status = domain.StatusActive
	token.Version = 1
	token.CreatedAt = time.Now().UTC()
	token.UpdatedAt = token.CreatedAt
	r.tokens[token.ID] = &token
	return token, nil
}

func (r *memoryRepo) UpsertRefresh(ctx context.Context, token domain.StoredToken) (domain.StoredToken, error) {
	r.mu.Lock()
	for _, existing := range r.tokens {
		if existing.UserID == token.UserID && existing.Kind == domain.KindRefresh && existing.Status == domain.StatusActive {
			existing.Ciphertext = token.Ciphertext
			existing.Nonce = token.Nonce
			existing.TokenHash = token.TokenHash
			existing.SessionStateID = token.SessionStateID
			existing.Version++
			existing.UpdatedAt = time.Now().UTC()
			out := *existing
			r.mu.Unlock()
			return out, nil
		}
	}
	r.mu.Unlock()
	return r.Create(ctx, token)
}

func (r *memoryRepo) Get(_ context.Context, id uuid.UUID) (domain.StoredToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok || token.Status != domain.StatusActive {
		return domain.StoredToken{}, domain.ErrNotFound
	}
	return *token, nil
}

func (r *memoryRepo) GetBySession(_ context.Context, sessionStateID string, kind domain.TokenKind) (domain.StoredToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *domain.StoredToken
	for _, token := range r.tokens {
		if token.SessionStateID != sessionStateID || token.Kind != kind || token.Status != domain.StatusActive {
			continue
		}
		if newest == nil || token.CreatedAt.After(newest.CreatedAt) {
			newest = token
		}
	}
	if newest == nil {
		return domain.StoredToken{}, domain.ErrNotFound
	}
	return *newest, nil
}

func (r *memoryRepo) Rotate(_ context.Context, id uuid.UUID, version int64, ciphertext, nonce []byte, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok || token.Status != domain.StatusActive {
		return domain.ErrNotFound
	}
	if token.Version != version {
		return domain.ErrConflict
	}
	token.Ciphertext = ciphertext
	token.Nonce = nonce
	token.TokenHash = tokenHash
	token.Version++
	token.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memoryRepo) CreateAlias(_ context.Context, tokenID uuid.UUID) (domain.TokenAlias, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[tokenID]; !ok {
		return domain.TokenAlias{}, domain.ErrNotFound
	}
	alias := domain.TokenAlias{ID: uuid.New(), TokenID: tokenID, CreatedAt: time.Now().UTC()}
	r.aliases[alias.ID] = tokenID
	return alias, nil
}

func (r *memoryRepo) ResolveAlias(_ context.Context, aliasID uuid.UUID) (domain.StoredToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tokenID, ok := r.aliases[aliasID]
	if !ok {
		return domain.StoredToken{}, domain.ErrNotFound
	}
	token, ok := r.tokens[tokenID]
	if !ok || token.Status != domain.StatusActive {
		return domain.StoredToken{}, domain.ErrNotFound
	}
	return *token, nil
}

func (r *memoryRepo) RemoveAlias(_ context.Context, aliasID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tokenID, ok := r.aliases[aliasID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	delete(r.aliases, aliasID)
	remaining := 0
	for _, id := range r.aliases {
		if id == tokenID {
			remaining++
		}
	}
	return remaining, nil
}

func (r *memoryRepo) MarkRevoked(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok {
		return domain.ErrNotFound
	}
	token.Status = domain.StatusRevoked
	token.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memoryRepo) tokenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

func (r *memoryRepo) mustGetRaw(t *testing.T, id uuid.UUID) domain.StoredToken {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	require.True(t, ok, "token %s not in repo", id)
	return *token
}

// memoryReplay is an in-process ReplayGuard.
type memoryReplay struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryReplay() *memoryReplay {
	return &memoryReplay{seen: map[string]bool{}}
}

func (g *memoryReplay) MarkUsed(_ context.Context, nonce string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[nonce] {
		return false, nil
	}
	g.seen[nonce] = true
	return true, nil
}

// fakeProvider scripts upstream responses and records revocations.
type fakeProvider struct {
	mu           sync.Mutex
	exchangeResp *domain.ProviderTokenResponse
	exchangeErr  error
	refreshFn    func(refreshToken string) (*domain.ProviderTokenResponse, error)
	revokeErr    error
	revoked      []string
}

func (p *fakeProvider) ExchangeCode(_ context.Context, _, _ string) (*domain.ProviderTokenResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	resp := *p.exchangeResp
	return &resp, nil
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (*domain.ProviderTokenResponse, error) {
	p.mu.Lock()
	fn := p.refreshFn
	p.mu.Unlock()
	if fn == nil {
		return nil, domain.ErrUpstreamUnavailable
	}
	return fn(refreshToken)
}

func (p *fakeProvider) Introspect(_ context.Context, _ string) (*domain.Introspection, error) {
	return &domain.Introspection{Active: false}, nil
}

func (p *fakeProvider) Revoke(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, token)
	return p.revokeErr
}

func (p *fakeProvider) revokedTokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

type vaultFixture struct {
	svc    *service.VaultService
	repo   *memoryRepo
	idp    *fakeProvider
	sealer *cipher.Sealer
}

func newVaultFixture(t *testing.T, stateTTL time.Duration) *vaultFixture {
	t.Helper()

	key := make([]byte, cipher.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	sealer, err := cipher.NewSealer(key)
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	codec, err := consent.NewCodec([]byte("0123456789abcdef0123456789abcdef"), node, stateTTL)
	require.NoError(t, err)

	cfg := config.Config{
		ProviderIssuer:      "https://idp.example.com",
		ProviderRealm:       "main",
		ProviderClientID:    "token-vault",
		ConsentRedirectURI:  "https://vault.example.com/v1/offline-token/callback",
		FeedbackRedirectURI: "https://app.example.com/consent/done",
		UpstreamTimeout:     time.Second,
		StoreRetryMax:       2,
	}

	repo := newMemoryRepo()
	idp := &fakeProvider{}
	svc := service.NewVaultService(repo, newMemoryReplay(), sealer, codec, idp, cfg, zap.NewNop())
	return &vaultFixture{svc: svc, repo: repo, idp: idp, sealer: sealer}
}

func testIdentity() domain.Identity {
	return domain.Identity{
		UserID:         uuid.New(),
		SessionStateID: "sess-" + uuid.NewString(),
	}
}

func TestStoreRefreshTokenEncryptsAtRest(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()
	identity := testIdentity()

	id, err := fx.svc.StoreRefreshToken(ctx, identity, "plain-refresh-token")
	require.NoError(t, err)

	stored := fx.repo.mustGetRaw(t, id)
	require.Equal(t, domain.KindRefresh, stored.Kind)
	require.Equal(t, identity.UserID, stored.UserID)
	require.NotContains(t, string(stored.Ciphertext), "plain-refresh-token")
	require.Equal(t, cipher.HashToken("plain-refresh-token"), stored.TokenHash)

	plaintext, err := fx.sealer.Decrypt(stored.Ciphertext, stored.Nonce)
	require.NoError(t, err)
	require.Equal(t, "plain-refresh-token", plaintext)
}

func TestStoreRefreshTokenReplacesExisting(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()
	identity := testIdentity()

	first, err := fx.svc.StoreRefreshToken(ctx, identity, "refresh-v1")
	require.NoError(t, err)
	second, err := fx.svc.StoreRefreshToken(ctx, identity, "refresh-v2")
	require.NoError(t, err)

	require.Equal(t, first, second, "upsert must keep a single record per user")
	require.Equal(t, 1, fx.repo.tokenCount())

	stored := fx.repo.mustGetRaw(t, second)
	require.Equal(t, cipher.HashToken("refresh-v2"), stored.TokenHash)
	require.Equal(t, int64(2), stored.Version)
}

func TestStoreRefreshTokenRejectsEmpty(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	_, err := fx.svc.StoreRefreshToken(context.Background(), testIdentity(), "   ")
	require.Error(t, err)
	require.Equal(t, 0, fx.repo.tokenCount())
}

func TestGetRefreshTokenID(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()
	identity := testIdentity()

	_, err := fx.svc.GetRefreshTokenID(ctx, identity)
	require.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := fx.svc.StoreRefreshToken(ctx, identity, "refresh-v1")
	require.NoError(t, err)

	id, err := fx.svc.GetRefreshTokenID(ctx, identity)
	require.NoError(t, err)
	require.Equal(t, stored, id)
}

func TestMintAccessTokenRotatesOnNewSecret(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()
	identity := testIdentity()

	id, err := fx.svc.StoreRefreshToken(ctx, identity, "refresh-v1")
	require.NoError(t, err)

	fx.idp.refreshFn = func(refreshToken string) (*domain.ProviderTokenResponse, error) {
		require.Equal(t, "refresh-v1", refreshToken)
		return &domain.ProviderTokenResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-v2",
			ExpiresIn:    300,
		}, nil
	}

	minted, err := fx.svc.MintAccessToken(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "access-1", minted.AccessToken)
	require.Equal(t, int64(300), minted.ExpiresIn)

	stored := fx.repo.mustGetRaw(t, id)
	require.Equal(t, cipher.HashToken("refresh-v2"), stored.TokenHash)
	require.Equal(t, int64(2), stored.Version)

	plaintext, err := fx.sealer.Decrypt(stored.Ciphertext, stored.Nonce)
	require.NoError(t, err)
	require.Equal(t, "refresh-v2", plaintext)
}

func TestMintAccessTokenSkipsRotationWhenUnchanged(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()

	id, err := fx.svc.StoreRefreshToken(ctx, testIdentity(), "refresh-v1")
	require.NoError(t, err)

	fx.idp.refreshFn = func(refreshToken string) (*domain.ProviderTokenResponse, error) {
		return &domain.ProviderTokenResponse{AccessToken: "access-1", RefreshToken: refreshToken, ExpiresIn: 300}, nil
	}

	_, err = fx.svc.MintAccessToken(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(1), fx.repo.mustGetRaw(t, id).Version)
}

func TestMintAccessTokenRejectedCredentialIsRetired(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()

	id, err := fx.svc.StoreRefreshToken(ctx, testIdentity(), "refresh-v1")
	require.NoError(t, err)

	fx.idp.refreshFn = func(string) (*domain.ProviderTokenResponse, error) {
		return nil, fmt.Errorf("%w: invalid_grant", domain.ErrUpstreamTokenRejected)
	}

	_, err = fx.svc.MintAccessToken(ctx, id)
	require.ErrorIs(t, err, domain.ErrUpstreamTokenRejected)
	require.Equal(t, domain.StatusRevoked, fx.repo.mustGetRaw(t, id).Status)

	_, err = fx.svc.MintAccessToken(ctx, id)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMintAccessTokenUpstreamUnavailableLeavesRecord(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()

	id, err := fx.svc.StoreRefreshToken(ctx, testIdentity(), "refresh-v1")
	require.NoError(t, err)

	fx.idp.refreshFn = func(string) (*domain.ProviderTokenResponse, error) {
		return nil, domain.ErrUpstreamUnavailable
	}

	_, err = fx.svc.MintAccessToken(ctx, id)
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	require.Equal(t, domain.StatusActive, fx.repo.mustGetRaw(t, id).Status)
}

func TestMintAccessTokenConcurrentRotation(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()

	id, err := fx.svc.StoreRefreshToken(ctx, testIdentity(), "refresh-v1")
	require.NoError(t, err)

	var counter int64
	var counterMu sync.Mutex
	fx.idp.refreshFn = func(string) (*domain.ProviderTokenResponse, error) {
		counterMu.Lock()
		counter++
		n := counter
		counterMu.Unlock()
		return &domain.ProviderTokenResponse{
			AccessToken:  fmt.Sprintf("access-%d", n),
			RefreshToken: fmt.Sprintf("refresh-rotated-%d", n),
			ExpiresIn:    300,
		}, nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fx.svc.MintAccessToken(ctx, id)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Exactly one rotation wins; the loser tolerates the conflict and the
	// record stays internally consistent.
	stored := fx.repo.mustGetRaw(t, id)
	require.Equal(t, int64(2), stored.Version)
	plaintext, err := fx.sealer.Decrypt(stored.Ciphertext, stored.Nonce)
	require.NoError(t, err)
	require.Contains(t, []string{"refresh-rotated-1", "refresh-rotated-2"}, plaintext)
	require.Equal(t, cipher.HashToken(plaintext), stored.TokenHash)
}

func startConsent(t *testing.T, fx *vaultFixture, identity domain.Identity) string {
	t.Helper()
	req, err := fx.svc.RequestOfflineToken(context.Background(), identity)
	require.NoError(t, err)
	return req.StateToken
}

func TestRequestOfflineTokenBuildsConsentURL(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	identity := testIdentity()

	req, err := fx.svc.RequestOfflineToken(context.Background(), identity)
	require.NoError(t, err)
	require.Equal(t, identity.SessionStateID, req.SessionStateID)
	require.Equal(t, 0, fx.repo.tokenCount(), "starting consent must not persist anything")

	parsed, err := url.Parse(req.ConsentURL)
	require.NoError(t, err)
	require.Equal(t, "idp.example.com", parsed.Host)
	require.Equal(t, "/realms/main/protocol/openid-connect/auth", parsed.Path)

	q := parsed.Query()
	require.Equal(t, "token-vault", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "https://vault.example.com/v1/offline-token/callback", q.Get("redirect_uri"))
	require.Contains(t, q.Get("scope"), "offline_access")
	require.Equal(t, req.StateToken, q.Get("state"))
}

func TestConsentCallbackStoresOfflineToken(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()
	identity := testIdentity()
	state := startConsent(t, fx, identity)

	fx.idp.exchangeResp = &domain.ProviderTokenResponse{
		AccessToken:  "access-1",
		RefreshToken: "offline-secret",
		SessionState: identity.SessionStateID,
	}

	result, err := fx.svc.HandleConsentCallback(ctx, "auth-code", state)
	require.NoError(t, err)
	require.Equal(t, identity.SessionStateID, result.SessionStateID)
	require.NotEqual(t, uuid.Nil, result.PersistentTokenID)

	// The returned id is an alias; it must mint.
	fx.idp.refreshFn = func(refreshToken string) (*domain.ProviderTokenResponse, error) {
		require.Equal(t, "offline-secret", refreshToken)
		return &domain.ProviderTokenResponse{AccessToken: "access-2", RefreshToken: refreshToken}, nil
	}
	minted, err := fx.svc.MintAccessToken(ctx, result.PersistentTokenID)
	require.NoError(t, err)
	require.Equal(t, "access-2", minted.AccessToken)

	stored, err := fx.repo.ResolveAlias(ctx, result.PersistentTokenID)
	require.NoError(t, err)
	require.Equal(t, domain.KindOffline, stored.Kind)
	require.Equal(t, identity.UserID, stored.UserID)
	require.Equal(t, "offline_access", stored.Attributes["grant"])
	require.NotContains(t, string(stored.Ciphertext), "offline-secret")
}

func TestConsentCallbackExpiredState(t *testing.T) {
	fx := newVaultFixture(t, time.Millisecond)
	identity := testIdentity()
	state := startConsent(t, fx, identity)

	time.Sleep(10 * time.Millisecond)

	fx.idp.exchangeResp = &domain.ProviderTokenResponse{RefreshToken: "offline-secret"}
	_, err := fx.svc.HandleConsentCallback(context.Background(), "auth-code", state)
	require.ErrorIs(t, err, domain.ErrExpiredStateToken)
	require.Equal(t, 0, fx.repo.tokenCount())
}

func TestConsentCallbackStateSingleUse(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()
	identity := testIdentity()
	state := startConsent(t, fx, identity)

	fx.idp.exchangeResp = &domain.ProviderTokenResponse{
		RefreshToken: "offline-secret",
		SessionState: identity.SessionStateID,
	}

	_, err := fx.svc.HandleConsentCallback(ctx, "auth-code", state)
	require.NoError(t, err)

	_, err = fx.svc.HandleConsentCallback(ctx, "auth-code", state)
	require.ErrorIs(t, err, domain.ErrInvalidStateToken)
	require.Equal(t, 1, fx.repo.tokenCount())
}

func TestConsentCallbackTamperedState(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	_, err := fx.svc.HandleConsentCallback(context.Background(), "auth-code", "garbage-state")
	require.ErrorIs(t, err, domain.ErrInvalidStateToken)
	require.Equal(t, 0, fx.repo.tokenCount())
}

func TestConsentCallbackSessionMismatch(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	identity := testIdentity()
	state := startConsent(t, fx, identity)

	fx.idp.exchangeResp = &domain.ProviderTokenResponse{
		RefreshToken: "offline-secret",
		SessionState: "someone-elses-session",
	}

	_, err := fx.svc.HandleConsentCallback(context.Background(), "auth-code", state)
	require.ErrorIs(t, err, domain.ErrInvalidStateToken)
	require.Equal(t, 0, fx.repo.tokenCount())
}

func TestConsentCallbackExchangeFailureStoresNothing(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	identity := testIdentity()

	fx.idp.exchangeErr = domain.ErrUpstreamUnavailable
	_, err := fx.svc.HandleConsentCallback(context.Background(), "auth-code", startConsent(t, fx, identity))
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	require.Equal(t, 0, fx.repo.tokenCount())

	fx.idp.exchangeErr = nil
	fx.idp.exchangeResp = &domain.ProviderTokenResponse{AccessToken: "access-only"}
	_, err = fx.svc.HandleConsentCallback(context.Background(), "auth-code", startConsent(t, fx, identity))
	require.ErrorIs(t, err, domain.ErrUpstreamExchange)
	require.Equal(t, 0, fx.repo.tokenCount())
}

// storeOfflineToken runs a full consent flow and returns the first alias id.
func storeOfflineToken(t *testing.T, fx *vaultFixture, identity domain.Identity, secret string) uuid.UUID {
	t.Helper()
	state := startConsent(t, fx, identity)
	fx.idp.exchangeResp = &domain.ProviderTokenResponse{
		RefreshToken: secret,
		SessionState: identity.SessionStateID,
	}
	result, err := fx.svc.HandleConsentCallback(context.Background(), "auth-code", state)
	require.NoError(t, err)
	return result.PersistentTokenID
}

func TestOfflineAliasesAreIndependentHandles(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()
	identity := testIdentity()

	first := storeOfflineToken(t, fx, identity, "offline-secret")

	second, err := fx.svc.GetOfflineTokenID(ctx, identity)
	require.NoError(t, err)
	third, err := fx.svc.GetOfflineTokenID(ctx, identity)
	require.NoError(t, err)

	require.NotEqual(t, second, third)
	require.NotEqual(t, first, second)

	// All three point at the same stored secret.
	storedA, err := fx.repo.ResolveAlias(ctx, second)
	require.NoError(t, err)
	storedB, err := fx.repo.ResolveAlias(ctx, third)
	require.NoError(t, err)
	require.Equal(t, storedA.ID, storedB.ID)
	require.Equal(t, 1, fx.repo.tokenCount())
}

func TestRevokeOfflineAliasCounting(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()
	identity := testIdentity()

	first := storeOfflineToken(t, fx, identity, "offline-secret")
	second, err := fx.svc.GetOfflineTokenID(ctx, identity)
	require.NoError(t, err)
	third, err := fx.svc.GetOfflineTokenID(ctx, identity)
	require.NoError(t, err)

	// Dropping one of three aliases must not touch the shared secret.
	result, err := fx.svc.Revoke(ctx, first)
	require.NoError(t, err)
	require.False(t, result.Revoked)
	require.Equal(t, 2, result.RemainingAliases)
	require.Empty(t, fx.idp.revokedTokens())

	// The surviving aliases still mint.
	fx.idp.refreshFn = func(refreshToken string) (*domain.ProviderTokenResponse, error) {
		return &domain.ProviderTokenResponse{AccessToken: "access", RefreshToken: refreshToken}, nil
	}
	_, err = fx.svc.MintAccessToken(ctx, second)
	require.NoError(t, err)

	// The removed alias is gone for good.
	_, err = fx.svc.MintAccessToken(ctx, first)
	require.ErrorIs(t, err, domain.ErrNotFound)

	result, err = fx.svc.Revoke(ctx, second)
	require.NoError(t, err)
	require.False(t, result.Revoked)
	require.Equal(t, 1, result.RemainingAliases)

	// The last alias takes the secret down with it, exactly once upstream.
	result, err = fx.svc.Revoke(ctx, third)
	require.NoError(t, err)
	require.True(t, result.Revoked)
	require.Equal(t, 0, result.RemainingAliases)
	require.Equal(t, []string{"offline-secret"}, fx.idp.revokedTokens())

	_, err = fx.svc.GetOfflineTokenID(ctx, identity)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRevokeRefreshTokenDirect(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()

	id, err := fx.svc.StoreRefreshToken(ctx, testIdentity(), "refresh-v1")
	require.NoError(t, err)

	result, err := fx.svc.Revoke(ctx, id)
	require.NoError(t, err)
	require.True(t, result.Revoked)
	require.Equal(t, []string{"refresh-v1"}, fx.idp.revokedTokens())
	require.Equal(t, domain.StatusRevoked, fx.repo.mustGetRaw(t, id).Status)
}

func TestRevokeUpstreamFailureStillRetiresLocally(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	ctx := context.Background()

	id, err := fx.svc.StoreRefreshToken(ctx, testIdentity(), "refresh-v1")
	require.NoError(t, err)

	fx.idp.revokeErr = domain.ErrUpstreamUnavailable
	result, err := fx.svc.Revoke(ctx, id)
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	require.NotNil(t, result)
	require.True(t, result.Revoked)
	require.Equal(t, domain.StatusRevoked, fx.repo.mustGetRaw(t, id).Status)
}

func TestRevokeUnknownID(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	_, err := fx.svc.Revoke(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetOfflineTokenIDWithoutConsent(t *testing.T) {
	fx := newVaultFixture(t, time.Minute)
	_, err := fx.svc.GetOfflineTokenID(context.Background(), testIdentity())
	require.ErrorIs(t, err, domain.ErrNotFound)
}
