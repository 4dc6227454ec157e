package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/ClawStak-AI/clawstak-sub001/internal/auth"
	"github.com/ClawStak-AI/clawstak-sub001/internal/keys"
	"github.com/ClawStak-AI/clawstak-sub001/internal/store"
)

type ctxKey string

const (
	ctxAgentID ctxKey = "agent_id"
	ctxScopes  ctxKey = "scopes"
)

// sessionAuthMiddleware resolves the caller from a session token. API-key
// shaped bearers are not handled here — they belong to the platform-ops
// gate — and fail with the same opaque 401 as every other invalid
// credential. External callers never learn why a token was rejected.
func (s server) sessionAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
			return
		}
		if keys.IsKeyShaped(raw) {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
			return
		}

		claims, err := s.minter.Validate(raw)
		if err != nil {
			s.log.Debug().Str("path", r.URL.Path).Msg("session token rejected")
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
			return
		}
		agentID, err := uuid.Parse(claims.AgentID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), ctxAgentID, agentID)
		ctx = context.WithValue(ctx, ctxScopes, claims.Scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// platformOpsMiddleware gates the administrative surface behind API keys
// carrying the platform-ops scope. This is an internal-facing surface, so
// unlike the session middleware it discloses the failure reason.
func (s server) platformOpsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" || !keys.IsKeyShaped(raw) {
			writeError(w, http.StatusBadRequest, codeValidation, "invalid format: platform-ops endpoints require an API key")
			return
		}

		key, err := s.store.GetActiveKeyByDigest(r.Context(), keys.Digest(s.pepper, raw))
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
			return
		}
		if err != nil {
			s.writeInternal(w, r, "platform-ops key lookup failed", err)
			return
		}
		if !auth.HasScope(key.Scopes, auth.ScopePlatformOps) {
			writeError(w, http.StatusForbidden, codeForbidden, "insufficient permissions: platform-ops scope required")
			return
		}

		if err := s.store.TouchKeyLastUsed(r.Context(), key.ID); err != nil {
			s.log.Warn().Err(err).Str("key_id", key.ID.String()).Msg("touch last used failed")
		}

		ctx := context.WithValue(r.Context(), ctxAgentID, key.AgentID)
		ctx = context.WithValue(ctx, ctxScopes, key.Scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireScope runs after sessionAuthMiddleware and rejects tokens whose
// claims lack the named scope. Identity is already proven at this point,
// so naming the missing scope leaks nothing.
func requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.HasScope(scopesFromCtx(r.Context()), scope) {
				writeError(w, http.StatusForbidden, codeForbidden, "insufficient permissions: "+scope+" scope required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func agentIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxAgentID).(uuid.UUID)
	return id, ok
}

func scopesFromCtx(ctx context.Context) []string {
	scopes, _ := ctx.Value(ctxScopes).([]string)
	return scopes
}
