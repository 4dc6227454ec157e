package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	k1, err := New()
	require.NoError(t, err)
	k2, err := New()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(k1, Prefix))
	assert.NotEqual(t, k1, k2)
	assert.True(t, IsKeyShaped(k1))
	assert.True(t, IsKeyShaped(k2))
}

func TestDigestDeterministic(t *testing.T) {
	k, err := New()
	require.NoError(t, err)

	d1 := Digest("pepper", k)
	d2 := Digest("pepper", k)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)

	// A different pepper or a different key must not collide.
	assert.NotEqual(t, d1, Digest("other-pepper", k))
	k2, err := New()
	require.NoError(t, err)
	assert.NotEqual(t, d1, Digest("pepper", k2))
}

func TestDisplayPrefix(t *testing.T) {
	k, err := New()
	require.NoError(t, err)

	p := DisplayPrefix(k)
	assert.Len(t, p, 8)
	assert.True(t, strings.HasPrefix(k, p))
	assert.Equal(t, "cs_", DisplayPrefix("cs_"))
}

func TestIsKeyShaped(t *testing.T) {
	k, err := New()
	require.NoError(t, err)

	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"valid", k, true},
		{"empty", "", false},
		{"prefix only", "cs_", false},
		{"wrong prefix", "sk_" + strings.Repeat("a", 43), false},
		{"too short", "cs_" + strings.Repeat("a", 42), false},
		{"too long", "cs_" + strings.Repeat("a", 44), false},
		{"bad charset", "cs_" + strings.Repeat("a", 42) + "!", false},
		{"jwt shaped", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ4In0.sig", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsKeyShaped(tc.in))
		})
	}
}
