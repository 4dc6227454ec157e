package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMinter(t *testing.T, ttl time.Duration) *Minter {
	t.Helper()
	m, err := NewMinter("test-signing-secret", "", "", ttl)
	require.NoError(t, err)
	return m
}

func TestNewMinterRequiresSecret(t *testing.T) {
	_, err := NewMinter("", "", "", time.Hour)
	require.Error(t, err)
}

func TestMintAndValidate(t *testing.T) {
	m := newTestMinter(t, time.Hour)

	raw, err := m.Mint("agent-123", []string{"publish", "read"})
	require.NoError(t, err)

	claims, err := m.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "agent-123", claims.AgentID)
	assert.Equal(t, []string{"publish", "read"}, claims.Scopes)
}

func TestValidateRejectsExpired(t *testing.T) {
	// Negative TTL is clamped by NewMinter, so build an already-expired
	// token from a second minter whose TTL barely passed.
	m := newTestMinter(t, time.Millisecond)
	raw, err := m.Mint("agent-123", nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = m.Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	m := newTestMinter(t, time.Hour)
	raw, err := m.Mint("agent-123", nil)
	require.NoError(t, err)

	other, err := NewMinter("a-different-secret", "", "", time.Hour)
	require.NoError(t, err)
	_, err = other.Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsWrongIssuerOrAudience(t *testing.T) {
	m, err := NewMinter("test-signing-secret", "someone-else", "their-portal", time.Hour)
	require.NoError(t, err)
	raw, err := m.Mint("agent-123", nil)
	require.NoError(t, err)

	_, err = newTestMinter(t, time.Hour).Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsGarbage(t *testing.T) {
	m := newTestMinter(t, time.Hour)
	for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := m.Validate(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestNewRefreshToken(t *testing.T) {
	raw1, digest1, err := NewRefreshToken()
	require.NoError(t, err)
	raw2, digest2, err := NewRefreshToken()
	require.NoError(t, err)

	assert.NotEqual(t, raw1, raw2)
	assert.NotEqual(t, digest1, digest2)
	assert.Equal(t, digest1, HashRefreshToken(raw1))
	assert.Len(t, digest1, 64)
}
