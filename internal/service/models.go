package service

import "github.com/google/uuid"

// ConsentRequest is the result of starting the offline-token consent flow.
type ConsentRequest struct {
	ConsentURL     string
	StateToken     string
	SessionStateID string
}

// ConsentResult reports the stored credential minted by a successful
// consent callback.
type ConsentResult struct {
	PersistentTokenID uuid.UUID
	SessionStateID    string
}

// AccessToken is a freshly minted access token.
type AccessToken struct {
	AccessToken string
	ExpiresIn   int64
}

// RevocationResult reports the outcome of revoking a persistent token id.
// Revoked is true only when the underlying credential was invalidated at the
// provider; removing a non-last alias leaves the shared secret alive.
type RevocationResult struct {
	PersistentTokenID uuid.UUID
	Revoked           bool
	RemainingAliases  int
}
