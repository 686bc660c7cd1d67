package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/smallbiznis/token-vault/internal/domain"
)

// KeySize is the required key length for AES-256-GCM.
const KeySize = 32

// Sealer encrypts and decrypts token values with AES-256-GCM under a single
// process-lifetime key. The key is injected once at startup and never
// exposed; there is no rotation path.
type Sealer struct {
	aead stdcipher.AEAD
}

// NewSealer builds a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Encrypt seals one plaintext token and returns the ciphertext together with
// the nonce used to produce it. GCM requires a unique nonce per encryption
// under the same key.
func (s *Sealer) Encrypt(plaintext string) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("read nonce: %w", err)
	}
	ciphertext = s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return ciphertext, nonce, nil
}

// Decrypt opens a previously sealed value. Any tamper or key mismatch yields
// domain.ErrDecryption, never partial plaintext.
func (s *Sealer) Decrypt(ciphertext, nonce []byte) (string, error) {
	if len(nonce) != s.aead.NonceSize() {
		return "", domain.ErrDecryption
	}
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", domain.ErrDecryption
	}
	return string(plaintext), nil
}

// HashToken returns the hex SHA-256 digest of a token value, stored beside
// the ciphertext so records can be correlated without exposing the secret.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
