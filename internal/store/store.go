// Package store provides the storage interface and implementations for the
// platform core. Handler and service code depends only on the Store
// interface, so tests run against the in-memory implementation while
// production uses PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ClawStak-AI/clawstak-sub001/internal/collab"
)

var (
	// ErrNotFound covers both "no such row" and "row exists but is not
	// visible to this lookup" (inactive key, revoked session). Callers must
	// not be able to tell the difference.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict reports a violated uniqueness or state precondition
	// (duplicate agent slug, stale collaboration status, already-revoked
	// session).
	ErrConflict = errors.New("store: conflict")
)

// Agent statuses. Only active agents can authenticate.
const (
	AgentStatusActive    = "active"
	AgentStatusSuspended = "suspended"
)

type Agent struct {
	ID                 uuid.UUID
	Slug               string
	Name               string
	Description        string
	Status             string
	IsVerified         bool
	VerificationMethod string
	TrustScore         float64 // canonical 0-100 scale
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type APIKey struct {
	ID            uuid.UUID
	AgentID       uuid.UUID
	Digest        string
	DisplayPrefix string
	Scopes        []string
	IsActive      bool
	LastUsedAt    *time.Time
	CreatedAt     time.Time
}

// Session is one refresh-token record. Rows are append-only: revocation
// flips Revoked, nothing is ever deleted. Scopes snapshot the grant derived
// at login so refresh re-mints the same set.
type Session struct {
	ID          uuid.UUID
	AgentID     uuid.UUID
	TokenDigest string
	Scopes      []string
	ExpiresAt   time.Time
	Revoked     bool
	IP          string
	UserAgent   string
	CreatedAt   time.Time
}

type Collaboration struct {
	ID                uuid.UUID
	RequestingAgentID uuid.UUID
	ProvidingAgentID  uuid.UUID
	Status            collab.Status
	TaskDescription   string
	NegotiatedTerms   map[string]any
	Result            map[string]any
	QualityScore      *float64
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CollaborationUpdate describes a partial update. Status, Result and
// QualityScore are independent: any subset may be set.
type CollaborationUpdate struct {
	Status       *collab.Status
	Result       map[string]any
	QualityScore *float64
	CompletedAt  *time.Time
}

type CollaborationFilter struct {
	Status        *collab.Status
	ParticipantID *uuid.UUID // matches requesting or providing side
	Limit         int
	Offset        int
}

type MetricSample struct {
	ID        uuid.UUID
	AgentID   uuid.UUID
	Name      string
	Value     float64
	Labels    map[string]any
	CreatedAt time.Time
}

type AuditEvent struct {
	ID        uuid.UUID
	ActorType string // "platform" | "agent"
	ActorID   uuid.UUID
	Action    string
	Detail    map[string]any
	CreatedAt time.Time
}

type AgentStore interface {
	CreateAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error)
	GetAgentBySlug(ctx context.Context, slug string) (*Agent, error)
	ListAgents(ctx context.Context, status string, limit, offset int) ([]Agent, int, error)
	SetAgentStatus(ctx context.Context, id uuid.UUID, status string) error
	SetTrustScore(ctx context.Context, id uuid.UUID, score float64) error
}

type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, k *APIKey) error
	// GetActiveKeyByDigest only sees rows with is_active = true; inactive
	// and unknown digests both come back ErrNotFound.
	GetActiveKeyByDigest(ctx context.Context, digest string) (*APIKey, error)
	ListKeysByAgent(ctx context.Context, agentID uuid.UUID) ([]APIKey, error)
	DeactivateKey(ctx context.Context, agentID, keyID uuid.UUID) error
	TouchKeyLastUsed(ctx context.Context, keyID uuid.UUID) error
}

type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSessionByDigest(ctx context.Context, digest string) (*Session, error)
	RevokeSession(ctx context.Context, id uuid.UUID) error
	// RotateSession revokes the old session and inserts its replacement as
	// one atomic step. If the old session is already revoked the whole
	// rotation fails with ErrConflict and nothing is inserted; a replayed
	// refresh token can never mint a new session.
	RotateSession(ctx context.Context, oldID uuid.UUID, replacement *Session) error
}

type CollaborationStore interface {
	CreateCollaboration(ctx context.Context, c *Collaboration) error
	GetCollaboration(ctx context.Context, id uuid.UUID) (*Collaboration, error)
	// UpdateCollaboration applies upd only if the row still has status
	// expected (optimistic precondition); a stale read fails with
	// ErrConflict rather than moving the row along a second edge.
	UpdateCollaboration(ctx context.Context, id uuid.UUID, expected collab.Status, upd CollaborationUpdate) (*Collaboration, error)
	ListCollaborations(ctx context.Context, f CollaborationFilter) ([]Collaboration, int, error)
}

type MetricStore interface {
	InsertMetrics(ctx context.Context, samples []MetricSample) error
}

type AuditStore interface {
	AppendAudit(ctx context.Context, e *AuditEvent) error
}

type Store interface {
	AgentStore
	APIKeyStore
	SessionStore
	CollaborationStore
	MetricStore
	AuditStore

	Ping(ctx context.Context) error
	Close()
}
