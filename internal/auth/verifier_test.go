package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptonex/flashtrade/internal/domain"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Issue("user-1", RoleUser, time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, RoleUser, id.Role)
	assert.False(t, id.Operator())
}

func TestVerifyOperatorRole(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Issue("op-1", RoleOperator, time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.True(t, id.Operator())
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.Issue("user-1", RoleUser, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerifyWrongSecret(t *testing.T) {
	issuer := NewVerifier("secret-a")
	verifier := NewVerifier("secret-b")

	token, err := issuer.Issue("user-1", RoleUser, time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerifyGarbage(t *testing.T) {
	v := NewVerifier("test-secret")

	_, err := v.Verify("not-a-token")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
