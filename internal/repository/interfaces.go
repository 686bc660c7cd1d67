package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/smallbiznis/token-vault/internal/domain"
)

// VaultRepository persists encrypted token records and the aliases that
// reference them. Implementations must serialize mutations on the same
// stored token: Rotate uses an optimistic version check and RemoveAlias
// locks the parent row for the read-modify-write.
type VaultRepository interface {
	// Create inserts a new stored token record.
	Create(ctx context.Context, token domain.StoredToken) (domain.StoredToken, error)
	// UpsertRefresh replaces the user's single refresh record, or creates it.
	UpsertRefresh(ctx context.Context, token domain.StoredToken) (domain.StoredToken, error)
	// Get loads an active record by id. Revoked and missing records both
	// return domain.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (domain.StoredToken, error)
	// GetBySession loads the newest active record for a session/kind pair.
	GetBySession(ctx context.Context, sessionStateID string, kind domain.TokenKind) (domain.StoredToken, error)
	// Rotate swaps ciphertext in place, guarded by the version the caller
	// read. A stale version returns domain.ErrConflict.
	Rotate(ctx context.Context, id uuid.UUID, version int64, ciphertext, nonce []byte, tokenHash string) error
	// CreateAlias mints a new alias pointing at an existing stored token.
	CreateAlias(ctx context.Context, tokenID uuid.UUID) (domain.TokenAlias, error)
	// ResolveAlias returns the stored token an alias points at.
	ResolveAlias(ctx context.Context, aliasID uuid.UUID) (domain.StoredToken, error)
	// RemoveAlias deletes one alias and reports how many aliases still point
	// at the same stored token. Zero means the caller must revoke upstream.
	RemoveAlias(ctx context.Context, aliasID uuid.UUID) (remaining int, err error)
	// MarkRevoked flips the record status to revoked.
	MarkRevoked(ctx context.Context, id uuid.UUID) error
}

// ReplayGuard tracks consumed consent nonces so a state token is accepted at
// most once within its TTL.
type ReplayGuard interface {
	// MarkUsed records the nonce and reports whether this was its first use.
	MarkUsed(ctx context.Context, nonce string) (first bool, err error)
}
