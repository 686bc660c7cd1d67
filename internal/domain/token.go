package domain

import (
	"time"

	"github.com/google/uuid"
)

// TokenKind distinguishes the two credential classes held by the vault.
type TokenKind string

const (
	// KindRefresh is a session-bound refresh token, one per user.
	KindRefresh TokenKind = "refresh"
	// KindOffline is a long-lived offline token obtained through consent.
	KindOffline TokenKind = "offline"
)

// TokenStatus is the lifecycle state of a stored credential.
type TokenStatus string

const (
	StatusActive  TokenStatus = "active"
	StatusRevoked TokenStatus = "revoked"
)

// StoredToken is an encrypted credential record. The plaintext value never
// leaves the service layer; the repository only ever sees ciphertext, the
// GCM nonce used to produce it, and a SHA-256 hash of the plaintext.
type StoredToken struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Kind            TokenKind
	Ciphertext      []byte
	Nonce           []byte
	TokenHash       string
	SessionStateID  string
	Status          TokenStatus
	Attributes      map[string]any
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TokenAlias is a caller-held reference to a shared offline StoredToken.
// Several background jobs from the same session each hold their own alias
// while pointing at one encrypted secret.
type TokenAlias struct {
	ID        uuid.UUID
	TokenID   uuid.UUID
	CreatedAt time.Time
}

// ConsentState is the ephemeral payload carried inside a signed state token
// across the browser redirect. It is never persisted server-side.
type ConsentState struct {
	UserID          string
	SessionStateID  string
	Nonce           string
	RedirectContext string
	IssuedAt        time.Time
}

// Identity is the caller identity extracted from a validated access token.
// The vault only cares about the subject and the session state claim.
type Identity struct {
	UserID         uuid.UUID
	SessionStateID string
	AccessToken    string
}
