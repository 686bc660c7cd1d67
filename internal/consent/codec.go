package consent

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/smallbiznis/token-vault/internal/domain"
)

// DefaultTTL bounds how long a state token survives the consent round trip.
const DefaultTTL = 10 * time.Minute

// Codec issues and verifies the signed state tokens that carry consent-flow
// context across the browser redirect. It is stateless and keyed by its own
// HMAC secret, distinct from the vault encryption key, so compromise of one
// does not compromise the other.
type Codec struct {
	secret []byte
	node   *snowflake.Node
	ttl    time.Duration
}

// NewCodec builds a Codec. ttl <= 0 falls back to DefaultTTL.
func NewCodec(secret []byte, node *snowflake.Node, ttl time.Duration) (*Codec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("consent: state secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{secret: secret, node: node, ttl: ttl}, nil
}

type stateClaims struct {
	UserID          string `json:"user_id"`
	SessionStateID  string `json:"session_state_id"`
	RedirectContext string `json:"redirect_context,omitempty"`
}

// Issue signs a ConsentState into a compact token safe for URL query
// parameters. The jti doubles as the single-use nonce checked at callback.
func (c *Codec) Issue(state domain.ConsentState) (string, error) {
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: c.secret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	nonce := state.Nonce
	if nonce == "" {
		nonce = c.node.Generate().String()
	}
	std := gojwt.Claims{
		ID:       nonce,
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(c.ttl)),
	}
	custom := stateClaims{
		UserID:          state.UserID,
		SessionStateID:  state.SessionStateID,
		RedirectContext: state.RedirectContext,
	}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize state token: %w", err)
	}
	return token, nil
}

// Verify checks signature and expiry and returns the embedded ConsentState.
// Expired tokens yield domain.ErrExpiredStateToken; anything malformed or
// forged yields domain.ErrInvalidStateToken.
func (c *Codec) Verify(token string) (domain.ConsentState, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return domain.ConsentState{}, domain.ErrInvalidStateToken
	}

	var std gojwt.Claims
	var custom stateClaims
	if err := parsed.Claims(c.secret, &std, &custom); err != nil {
		return domain.ConsentState{}, domain.ErrInvalidStateToken
	}
	if custom.UserID == "" || custom.SessionStateID == "" {
		return domain.ConsentState{}, domain.ErrInvalidStateToken
	}

	// Zero leeway: the consent window is generous already and an expired
	// state must not slip through on clock skew.
	if err := std.ValidateWithLeeway(gojwt.Expected{Time: time.Now().UTC()}, 0); err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return domain.ConsentState{}, domain.ErrExpiredStateToken
		}
		return domain.ConsentState{}, domain.ErrInvalidStateToken
	}

	state := domain.ConsentState{
		UserID:          custom.UserID,
		SessionStateID:  custom.SessionStateID,
		Nonce:           std.ID,
		RedirectContext: custom.RedirectContext,
	}
	if std.IssuedAt != nil {
		state.IssuedAt = std.IssuedAt.Time()
	}
	return state, nil
}

// TTL reports the configured state-token lifetime.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}
