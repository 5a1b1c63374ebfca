package security_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/security"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := security.NewTokenService("secret", time.Hour)

	tok, err := svc.CreateForUser("sara")
	require.NoError(t, err)

	sub, err := svc.Subject(tok)
	require.NoError(t, err)
	assert.Equal(t, "sara", sub)
}

func TestTokenRejectsForeignAndExpired(t *testing.T) {
	svc := security.NewTokenService("secret", time.Hour)
	other := security.NewTokenService("other", time.Hour)

	tok, err := other.CreateForUser("sara")
	require.NoError(t, err)
	_, err = svc.Subject(tok)
	assert.ErrorIs(t, err, security.ErrInvalidToken)

	expired, err := svc.CreateWithTTL("sara", -time.Minute)
	require.NoError(t, err)
	_, err = svc.Subject(expired)
	assert.ErrorIs(t, err, security.ErrInvalidToken)

	_, err = svc.Subject("garbage")
	assert.ErrorIs(t, err, security.ErrInvalidToken)
}

func TestPasswordHasher(t *testing.T) {
	h := security.NewPasswordHasher(4)

	hashed, err := h.Hash("Password1!")
	require.NoError(t, err)
	assert.NotEqual(t, "Password1!", hashed)
	assert.NoError(t, h.Verify("Password1!", hashed))
	assert.Error(t, h.Verify("wrong", hashed))
}

func TestPasswordPolicy(t *testing.T) {
	h := security.NewPasswordHasher(4)

	assert.NoError(t, h.Validate("12345678"))
	assert.NoError(t, h.Validate("كلمةسرّية"), "length counts characters, not bytes")
	assert.ErrorIs(t, h.Validate("short"), security.ErrWeakPassword)
	assert.ErrorIs(t, h.Validate(strings.Repeat("a", security.MaxPasswordBytes+1)), security.ErrWeakPassword)

	_, err := h.Hash("short")
	assert.ErrorIs(t, err, security.ErrWeakPassword)
}
