package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/token-vault/internal/domain"
)

var _ VaultRepository = (*PostgresVaultRepo)(nil)

// PostgresVaultRepo implements VaultRepository on pgx.
type PostgresVaultRepo struct {
	db *pgxpool.Pool
}

// NewPostgresVaultRepo constructs the repository.
func NewPostgresVaultRepo(pool *pgxpool.Pool) *PostgresVaultRepo {
	return &PostgresVaultRepo{db: pool}
}

const tokenColumns = `id, user_id, kind, ciphertext, nonce, token_hash, session_state_id, status, attributes, version, created_at, updated_at`

const insertTokenSQL = `INSERT INTO vault_tokens (id, user_id, kind, ciphertext, nonce, token_hash, session_state_id, status, attributes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + tokenColumns

func (r *PostgresVaultRepo) Create(ctx context.Context, token domain.StoredToken) (domain.StoredToken, error) {
	attrs, err := marshalAttributes(token.Attributes)
	if err != nil {
		return domain.StoredToken{}, err
	}
	id := token.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	status := token.Status
	if status == "" {
		status = domain.StatusActive
	}
	row := r.db.QueryRow(ctx, insertTokenSQL,
		id, token.UserID, token.Kind, token.Ciphertext, token.Nonce,
		token.TokenHash, token.SessionStateID, status, attrs,
	)
	stored, err := scanToken(row)
	if err != nil {
		return domain.StoredToken{}, fmt.Errorf("insert token: %w", err)
	}
	return stored, nil
}

const upsertRefreshSQL = `INSERT INTO vault_tokens (id, user_id, kind, ciphertext, nonce, token_hash, session_state_id, status, attributes)
VALUES ($1, $2, 'refresh', $3, $4, $5, $6, 'active', $7)
ON CONFLICT (user_id) WHERE kind = 'refresh'
DO UPDATE SET ciphertext = EXCLUDED.ciphertext,
	nonce = EXCLUDED.nonce,
	token_hash = EXCLUDED.token_hash,
	session_state_id = EXCLUDED.session_state_id,
	status = 'active',
	version = vault_tokens.version + 1,
	updated_at = now()
RETURNING ` + tokenColumns

func (r *PostgresVaultRepo) UpsertRefresh(ctx context.Context, token domain.StoredToken) (domain.StoredToken, error) {
	attrs, err := marshalAttributes(token.Attributes)
	if err != nil {
		return domain.StoredToken{}, err
	}
	id := token.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	row := r.db.QueryRow(ctx, upsertRefreshSQL,
		id, token.UserID, token.Ciphertext, token.Nonce,
		token.TokenHash, token.SessionStateID, attrs,
	)
	stored, err := scanToken(row)
	if err != nil {
		return domain.StoredToken{}, fmt.Errorf("upsert refresh token: %w", err)
	}
	return stored, nil
}

func (r *PostgresVaultRepo) Get(ctx context.Context, id uuid.UUID) (domain.StoredToken, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM vault_tokens WHERE id = $1 AND status = 'active'`, id)
	stored, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StoredToken{}, domain.ErrNotFound
		}
		return domain.StoredToken{}, fmt.Errorf("get token: %w", err)
	}
	return stored, nil
}

func (r *PostgresVaultRepo) GetBySession(ctx context.Context, sessionStateID string, kind domain.TokenKind) (domain.StoredToken, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM vault_tokens
		WHERE session_state_id = $1 AND kind = $2 AND status = 'active'
		ORDER BY created_at DESC LIMIT 1`, sessionStateID, kind)
	stored, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StoredToken{}, domain.ErrNotFound
		}
		return domain.StoredToken{}, fmt.Errorf("get token by session: %w", err)
	}
	return stored, nil
}

func (r *PostgresVaultRepo) Rotate(ctx context.Context, id uuid.UUID, version int64, ciphertext, nonce []byte, tokenHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE vault_tokens
		SET ciphertext = $1, nonce = $2, token_hash = $3, version = version + 1, updated_at = now()
		WHERE id = $4 AND version = $5 AND status = 'active'`,
		ciphertext, nonce, tokenHash, id, version)
	if err != nil {
		return fmt.Errorf("rotate token: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Zero rows is either a stale version or a missing/revoked record.
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM vault_tokens WHERE id = $1 AND status = 'active')`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("rotate token: %w", err)
	}
	if exists {
		return domain.ErrConflict
	}
	return domain.ErrNotFound
}

func (r *PostgresVaultRepo) CreateAlias(ctx context.Context, tokenID uuid.UUID) (domain.TokenAlias, error) {
	alias := domain.TokenAlias{ID: uuid.New(), TokenID: tokenID}
	err := r.db.QueryRow(ctx,
		`INSERT INTO vault_aliases (id, token_id) VALUES ($1, $2) RETURNING created_at`,
		alias.ID, alias.TokenID,
	).Scan(&alias.CreatedAt)
	if err != nil {
		return domain.TokenAlias{}, fmt.Errorf("create alias: %w", err)
	}
	return alias, nil
}

func (r *PostgresVaultRepo) ResolveAlias(ctx context.Context, aliasID uuid.UUID) (domain.StoredToken, error) {
	row := r.db.QueryRow(ctx,
		`SELECT t.id, t.user_id, t.kind, t.ciphertext, t.nonce, t.token_hash, t.session_state_id, t.status, t.attributes, t.version, t.created_at, t.updated_at
		FROM vault_aliases a
		JOIN vault_tokens t ON t.id = a.token_id
		WHERE a.id = $1 AND t.status = 'active'`, aliasID)
	stored, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StoredToken{}, domain.ErrNotFound
		}
		return domain.StoredToken{}, fmt.Errorf("resolve alias: %w", err)
	}
	return stored, nil
}

// RemoveAlias deletes one alias inside a transaction that locks the parent
// token row, so a concurrent removal of the sibling alias cannot make both
// callers observe remaining == 0.
func (r *PostgresVaultRepo) RemoveAlias(ctx context.Context, aliasID uuid.UUID) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin remove alias: %w", err)
	}
	defer tx.Rollback(ctx)

	var tokenID uuid.UUID
	if err := tx.QueryRow(ctx,
		`SELECT token_id FROM vault_aliases WHERE id = $1`, aliasID,
	).Scan(&tokenID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("load alias: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`SELECT 1 FROM vault_tokens WHERE id = $1 FOR UPDATE`, tokenID); err != nil {
		return 0, fmt.Errorf("lock token row: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM vault_aliases WHERE id = $1`, aliasID); err != nil {
		return 0, fmt.Errorf("delete alias: %w", err)
	}

	var remaining int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM vault_aliases WHERE token_id = $1`, tokenID,
	).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("count aliases: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit remove alias: %w", err)
	}
	return remaining, nil
}

func (r *PostgresVaultRepo) MarkRevoked(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE vault_tokens SET status = 'revoked', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark revoked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (domain.StoredToken, error) {
	var (
		t         domain.StoredToken
		attrs     []byte
		updatedAt *time.Time
	)
	if err := row.Scan(
		&t.ID, &t.UserID, &t.Kind, &t.Ciphertext, &t.Nonce, &t.TokenHash,
		&t.SessionStateID, &t.Status, &attrs, &t.Version, &t.CreatedAt, &updatedAt,
	); err != nil {
		return domain.StoredToken{}, err
	}
	if len(attrs) > 0 {
		_ = json.Unmarshal(attrs, &t.Attributes)
	}
	if updatedAt != nil {
		t.UpdatedAt = *updatedAt
	}
	return t, nil
}

func marshalAttributes(attrs map[string]any) ([]byte, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	return encoded, nil
}
