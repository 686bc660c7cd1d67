package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/smallbiznis/token-vault/internal/cipher"
)

// VerifyVault runs startup sanity checks: the encryption key must round-trip
// and the vault schema must be present.
func VerifyVault(pool *pgxpool.Pool, sealer *cipher.Sealer, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const probe = "vault-startup-probe"
	ciphertext, nonce, err := sealer.Encrypt(probe)
	if err != nil {
		return fmt.Errorf("cipher self-check: %w", err)
	}
	plaintext, err := sealer.Decrypt(ciphertext, nonce)
	if err != nil || plaintext != probe {
		return fmt.Errorf("cipher self-check: round trip failed")
	}

	for _, table := range []string{"vault_tokens", "vault_aliases"} {
		var exists bool
		if err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("table %s missing; apply db/schema.sql", table)
		}
	}

	logger.Info("vault startup checks passed")
	return nil
}
