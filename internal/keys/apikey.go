// Package keys generates and digests agent API keys.
//
// A key is "cs_" followed by 43 characters of base64url over 32 random
// bytes. Only the sha256 digest and a short display prefix are ever
// persisted; the raw secret is returned to the caller once at issuance.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const (
	// Prefix marks a bearer value as an API key rather than a session token.
	Prefix = "cs_"

	secretBytes = 32
	keyLen      = len(Prefix) + 43 // base64url of 32 bytes is 43 chars

	displayPrefixLen = 8
)

func New() (string, error) {
	var b [secretBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(b[:]), nil
}

func Digest(pepper, apiKey string) string {
	sum := sha256.Sum256([]byte(pepper + ":" + apiKey))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the non-secret leading characters shown in UIs
// so operators can tell keys apart.
func DisplayPrefix(apiKey string) string {
	if len(apiKey) < displayPrefixLen {
		return apiKey
	}
	return apiKey[:displayPrefixLen]
}

// IsKeyShaped reports whether a presented bearer value follows the API key
// convention. Cheap rejection path: callers check this before hashing or
// touching storage.
func IsKeyShaped(s string) bool {
	if len(s) != keyLen {
		return false
	}
	if s[:len(Prefix)] != Prefix {
		return false
	}
	for i := len(Prefix); i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
