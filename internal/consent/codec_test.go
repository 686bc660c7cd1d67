package consent_test

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/token-vault/internal/consent"
	"github.com/smallbiznis/token-vault/internal/domain"
)

func newCodec(t *testing.T, secret string, ttl time.Duration) *consent.Codec {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	codec, err := consent.NewCodec([]byte(secret), node, ttl)
	require.NoError(t, err)
	return codec
}

const testSecret = "0123456789abcdef0123456789abcdef"

func TestCodecRoundTrip(t *testing.T) {
	codec := newCodec(t, testSecret, time.Minute)

	issued := domain.ConsentState{
		UserID:          "8f2f0a0e-7b1e-4a77-9c51-0a4b8a4a1f10",
		SessionStateID:  "sess-42",
		RedirectContext: "https://app.example.com/settings",
	}
	token, err := codec.Issue(issued)
	require.NoError(t, err)

	state, err := codec.Verify(token)
	require.NoError(t, err)
	require.Equal(t, issued.UserID, state.UserID)
	require.Equal(t, issued.SessionStateID, state.SessionStateID)
	require.Equal(t, issued.RedirectContext, state.RedirectContext)
	require.NotEmpty(t, state.Nonce)
	require.False(t, state.IssuedAt.IsZero())
}

func TestCodecAssignsUniqueNonces(t *testing.T) {
	codec := newCodec(t, testSecret, time.Minute)

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		token, err := codec.Issue(domain.ConsentState{UserID: "u", SessionStateID: "s"})
		require.NoError(t, err)
		state, err := codec.Verify(token)
		require.NoError(t, err)
		require.False(t, seen[state.Nonce], "nonce reused")
		seen[state.Nonce] = true
	}
}

func TestCodecExpiry(t *testing.T) {
	codec := newCodec(t, testSecret, time.Millisecond)

	token, err := codec.Issue(domain.ConsentState{UserID: "u", SessionStateID: "s"})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	_, err = codec.Verify(token)
	require.ErrorIs(t, err, domain.ErrExpiredStateToken)
}

func TestCodecRejectsTamper(t *testing.T) {
	codec := newCodec(t, testSecret, time.Minute)

	token, err := codec.Issue(domain.ConsentState{UserID: "u", SessionStateID: "s"})
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	_, err = codec.Verify(tampered)
	require.ErrorIs(t, err, domain.ErrInvalidStateToken)
}

func TestCodecRejectsWrongSecret(t *testing.T) {
	issuer := newCodec(t, testSecret, time.Minute)
	verifier := newCodec(t, "fedcba9876543210fedcba9876543210", time.Minute)

	token, err := issuer.Issue(domain.ConsentState{UserID: "u", SessionStateID: "s"})
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, domain.ErrInvalidStateToken)
}

func TestCodecRejectsGarbage(t *testing.T) {
	codec := newCodec(t, testSecret, time.Minute)

	for _, token := range []string{"", "not-a-jwt", "a.b", "a.b.c.d"} {
		_, err := codec.Verify(token)
		require.ErrorIs(t, err, domain.ErrInvalidStateToken)
	}
}

func TestCodecRejectsMissingClaims(t *testing.T) {
	codec := newCodec(t, testSecret, time.Minute)

	token, err := codec.Issue(domain.ConsentState{SessionStateID: "s"})
	require.NoError(t, err)

	_, err = codec.Verify(token)
	require.ErrorIs(t, err, domain.ErrInvalidStateToken)
}

func TestNewCodecRejectsShortSecret(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	_, err = consent.NewCodec([]byte("too-short"), node, time.Minute)
	require.Error(t, err)
}
