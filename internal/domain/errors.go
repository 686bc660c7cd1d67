package domain

import "errors"

var (
	// ErrDecryption signals tampered ciphertext or a key mismatch. Fatal for
	// the record; the vault never returns partial plaintext.
	ErrDecryption = errors.New("vault: decryption failed")
	// ErrInvalidStateToken indicates a malformed, forged, or replayed
	// consent state token.
	ErrInvalidStateToken = errors.New("vault: invalid state token")
	// ErrExpiredStateToken indicates the consent state token outlived its TTL.
	ErrExpiredStateToken = errors.New("vault: expired state token")
	// ErrNotFound signals no stored credential for the requested id or
	// session/kind pair.
	ErrNotFound = errors.New("vault: token not found")
	// ErrConflict indicates an optimistic version check lost a race.
	ErrConflict = errors.New("vault: version conflict")
	// ErrUpstreamExchange indicates the provider rejected a code exchange.
	ErrUpstreamExchange = errors.New("vault: upstream exchange failed")
	// ErrUpstreamTokenRejected indicates the provider rejected a stored
	// credential; the local record is marked revoked before this surfaces.
	ErrUpstreamTokenRejected = errors.New("vault: upstream rejected token")
	// ErrUpstreamUnavailable covers network failures and provider 5xx.
	ErrUpstreamUnavailable = errors.New("vault: upstream unavailable")
	// ErrTokenInactive signals a bearer token that introspected as inactive.
	ErrTokenInactive = errors.New("vault: token not active")
)
