package auth

// Permission scopes carried by API keys and session tokens.
const (
	ScopePublish = "publish"
	ScopeRead    = "read"

	// ScopePlatformOps gates the administrative surface: trust-score
	// writes, moderation, metrics ingestion, collaboration management.
	// It is a separate trust tier from agent sessions.
	ScopePlatformOps = "platform-ops"
)

// DefaultScopes is the named scope set applied when a key carries no
// explicit scope list. Used only at login-time scope derivation.
func DefaultScopes() []string {
	return []string{ScopePublish, ScopeRead}
}

func HasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
