package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ClawStak-AI/clawstak-sub001/internal/collab"
)

// Memory implements Store with in-memory maps. Used by tests and local
// development without Postgres. A single mutex stands in for the
// transactional guarantees the Postgres implementation gets from the
// database, so rotation and collaboration updates stay atomic here too.
type Memory struct {
	mu             sync.Mutex
	agents         map[uuid.UUID]*Agent
	agentsBySlug   map[string]uuid.UUID
	keys           map[uuid.UUID]*APIKey
	keysByDigest   map[string]uuid.UUID
	sessions       map[uuid.UUID]*Session
	sessionsByHash map[string]uuid.UUID
	collaborations map[uuid.UUID]*Collaboration
	metrics        []MetricSample
	auditEvents    []AuditEvent
}

func NewMemory() *Memory {
	return &Memory{
		agents:         make(map[uuid.UUID]*Agent),
		agentsBySlug:   make(map[string]uuid.UUID),
		keys:           make(map[uuid.UUID]*APIKey),
		keysByDigest:   make(map[string]uuid.UUID),
		sessions:       make(map[uuid.UUID]*Session),
		sessionsByHash: make(map[string]uuid.UUID),
		collaborations: make(map[uuid.UUID]*Collaboration),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

// --- agents

func (m *Memory) CreateAgent(_ context.Context, a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agentsBySlug[a.Slug]; exists {
		return ErrConflict
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	m.agents[a.ID] = &cp
	m.agentsBySlug[a.Slug] = a.ID
	return nil
}

func (m *Memory) GetAgent(_ context.Context, id uuid.UUID) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetAgentBySlug(_ context.Context, slug string) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.agentsBySlug[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.agents[id]
	return &cp, nil
}

func (m *Memory) ListAgents(_ context.Context, status string, limit, offset int) ([]Agent, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if status != "" && a.Status != status {
			continue
		}
		all = append(all, *a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, limit, offset), len(all), nil
}

func (m *Memory) SetAgentStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SetTrustScore(_ context.Context, id uuid.UUID, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.TrustScore = score
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// --- api keys

func (m *Memory) CreateAPIKey(_ context.Context, k *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keysByDigest[k.Digest]; exists {
		return ErrConflict
	}
	k.CreatedAt = time.Now().UTC()
	cp := *k
	m.keys[k.ID] = &cp
	m.keysByDigest[k.Digest] = k.ID
	return nil
}

func (m *Memory) GetActiveKeyByDigest(_ context.Context, digest string) (*APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.keysByDigest[digest]
	if !ok {
		return nil, ErrNotFound
	}
	k := m.keys[id]
	if !k.IsActive {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *Memory) ListKeysByAgent(_ context.Context, agentID uuid.UUID) ([]APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []APIKey
	for _, k := range m.keys {
		if k.AgentID == agentID {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeactivateKey(_ context.Context, agentID, keyID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.keys[keyID]
	if !ok || k.AgentID != agentID {
		return ErrNotFound
	}
	k.IsActive = false
	return nil
}

func (m *Memory) TouchKeyLastUsed(_ context.Context, keyID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if k, ok := m.keys[keyID]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

// --- sessions

func (m *Memory) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertSessionLocked(s)
}

func (m *Memory) insertSessionLocked(s *Session) error {
	if _, exists := m.sessionsByHash[s.TokenDigest]; exists {
		return ErrConflict
	}
	s.CreatedAt = time.Now().UTC()
	cp := *s
	m.sessions[s.ID] = &cp
	m.sessionsByHash[s.TokenDigest] = s.ID
	return nil
}

func (m *Memory) GetSessionByDigest(_ context.Context, digest string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.sessionsByHash[digest]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.sessions[id]
	return &cp, nil
}

func (m *Memory) RevokeSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.Revoked = true
	}
	return nil
}

func (m *Memory) RotateSession(_ context.Context, oldID uuid.UUID, replacement *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.sessions[oldID]
	if !ok || old.Revoked {
		return ErrConflict
	}
	if err := m.insertSessionLocked(replacement); err != nil {
		return err
	}
	old.Revoked = true
	return nil
}

// --- collaborations

func (m *Memory) CreateCollaboration(_ context.Context, c *Collaboration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := *c
	m.collaborations[c.ID] = &cp
	return nil
}

func (m *Memory) GetCollaboration(_ context.Context, id uuid.UUID) (*Collaboration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collaborations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) UpdateCollaboration(_ context.Context, id uuid.UUID, expected collab.Status, upd CollaborationUpdate) (*Collaboration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collaborations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != expected {
		return nil, ErrConflict
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.Result != nil {
		c.Result = upd.Result
	}
	if upd.QualityScore != nil {
		c.QualityScore = upd.QualityScore
	}
	if upd.CompletedAt != nil {
		c.CompletedAt = upd.CompletedAt
	}
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	return &cp, nil
}

func (m *Memory) ListCollaborations(_ context.Context, f CollaborationFilter) ([]Collaboration, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]Collaboration, 0, len(m.collaborations))
	for _, c := range m.collaborations {
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.ParticipantID != nil && c.RequestingAgentID != *f.ParticipantID && c.ProvidingAgentID != *f.ParticipantID {
			continue
		}
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, f.Limit, f.Offset), len(all), nil
}

// --- metrics

func (m *Memory) InsertMetrics(_ context.Context, samples []MetricSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// All-or-nothing, matching the Postgres transaction: an unknown agent
	// anywhere in the batch rejects the whole batch.
	for _, s := range samples {
		if _, ok := m.agents[s.AgentID]; !ok {
			return ErrNotFound
		}
	}
	m.metrics = append(m.metrics, samples...)
	return nil
}

// Metrics returns a copy of the ingested samples. Test helper.
func (m *Memory) Metrics() []MetricSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MetricSample(nil), m.metrics...)
}

// --- audit

func (m *Memory) AppendAudit(_ context.Context, e *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.CreatedAt = time.Now().UTC()
	m.auditEvents = append(m.auditEvents, *e)
	return nil
}

// AuditEvents returns a copy of the audit trail. Test helper.
func (m *Memory) AuditEvents() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEvent(nil), m.auditEvents...)
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

var _ Store = (*Memory)(nil)
