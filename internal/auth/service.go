// Package auth implements the agent session lifecycle: key-based login,
// rotating refresh tokens, and logout.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ClawStak-AI/clawstak-sub001/internal/keys"
	"github.com/ClawStak-AI/clawstak-sub001/internal/store"
	"github.com/ClawStak-AI/clawstak-sub001/internal/token"
)

// ErrUnauthorized is the single failure callers see for a bad key, an
// unknown or rotated refresh token, an expired session, or an inactive
// agent. The distinction is logged server-side only.
var ErrUnauthorized = errors.New("auth: unauthorized")

// RefreshTokenTTL is the fixed lifetime of a refresh-token session.
const RefreshTokenTTL = 30 * 24 * time.Hour

// RequestMeta is the audit context captured when a session is created.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Result is a freshly minted credential pair plus the authenticated agent.
type Result struct {
	SessionToken string
	RefreshToken string
	Agent        *store.Agent
	Scopes       []string
}

type Service struct {
	store  store.Store
	minter *token.Minter
	pepper string
	log    zerolog.Logger
}

func NewService(st store.Store, minter *token.Minter, pepper string, log zerolog.Logger) *Service {
	return &Service{store: st, minter: minter, pepper: pepper, log: log}
}

// Login verifies an API key, requires the owning agent to be active, and
// returns a session token plus a fresh refresh-token session.
func (s *Service) Login(ctx context.Context, apiKey string, meta RequestMeta) (*Result, error) {
	if !keys.IsKeyShaped(apiKey) {
		return nil, ErrUnauthorized
	}

	key, err := s.store.GetActiveKeyByDigest(ctx, keys.Digest(s.pepper, apiKey))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		s.log.Debug().Msg("login: no active key for presented secret")
		return nil, ErrUnauthorized
	}

	agent, err := s.agentIfActive(ctx, key.AgentID, "login")
	if err != nil {
		return nil, err
	}

	scopes := key.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes()
	}

	res, err := s.issuePair(ctx, agent, scopes, meta, nil)
	if err != nil {
		return nil, err
	}

	// Best effort; the authorization decision already stands.
	if err := s.store.TouchKeyLastUsed(ctx, key.ID); err != nil {
		s.log.Warn().Err(err).Str("key_id", key.ID.String()).Msg("login: touch last used failed")
	}
	return res, nil
}

// Refresh rotates a refresh-token session: the presented session is revoked
// and replaced atomically, so replaying the old token fails.
func (s *Service) Refresh(ctx context.Context, rawRefresh string, meta RequestMeta) (*Result, error) {
	if rawRefresh == "" {
		return nil, ErrUnauthorized
	}

	sess, err := s.store.GetSessionByDigest(ctx, token.HashRefreshToken(rawRefresh))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, ErrUnauthorized
	}
	if sess.Revoked || time.Now().After(sess.ExpiresAt) {
		s.log.Debug().Str("session_id", sess.ID.String()).Msg("refresh: session revoked or expired")
		return nil, ErrUnauthorized
	}

	agent, err := s.agentIfActive(ctx, sess.AgentID, "refresh")
	if err != nil {
		return nil, err
	}

	// Refreshed tokens carry exactly the scopes derived at login, recorded
	// on the session row. Refresh never widens a grant.
	scopes := sess.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes()
	}
	return s.issuePair(ctx, agent, scopes, meta, &sess.ID)
}

// Logout revokes the session matching the presented refresh token.
// Idempotent: a missing or unknown token is not an error.
func (s *Service) Logout(ctx context.Context, rawRefresh string) error {
	if rawRefresh == "" {
		return nil
	}
	sess, err := s.store.GetSessionByDigest(ctx, token.HashRefreshToken(rawRefresh))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.store.RevokeSession(ctx, sess.ID)
}

func (s *Service) agentIfActive(ctx context.Context, agentID uuid.UUID, op string) (*store.Agent, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		s.log.Debug().Str("agent_id", agentID.String()).Msgf("%s: agent not found", op)
		return nil, ErrUnauthorized
	}
	if agent.Status != store.AgentStatusActive {
		s.log.Debug().Str("agent_id", agentID.String()).Str("status", agent.Status).Msgf("%s: agent not active", op)
		return nil, ErrUnauthorized
	}
	return agent, nil
}

// issuePair mints a session token and creates the refresh session row.
// When rotateFrom is set, the old session is revoked in the same store
// operation as the insert.
func (s *Service) issuePair(ctx context.Context, agent *store.Agent, scopes []string, meta RequestMeta, rotateFrom *uuid.UUID) (*Result, error) {
	sessionToken, err := s.minter.Mint(agent.ID.String(), scopes)
	if err != nil {
		return nil, err
	}

	rawRefresh, digest, err := token.NewRefreshToken()
	if err != nil {
		return nil, err
	}

	sess := &store.Session{
		ID:          uuid.New(),
		AgentID:     agent.ID,
		TokenDigest: digest,
		Scopes:      scopes,
		ExpiresAt:   time.Now().Add(RefreshTokenTTL),
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
	}

	if rotateFrom != nil {
		err = s.store.RotateSession(ctx, *rotateFrom, sess)
		if errors.Is(err, store.ErrConflict) {
			// Lost the race to a concurrent rotation of the same token.
			return nil, ErrUnauthorized
		}
	} else {
		err = s.store.CreateSession(ctx, sess)
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		SessionToken: sessionToken,
		RefreshToken: rawRefresh,
		Agent:        agent,
		Scopes:       scopes,
	}, nil
}
