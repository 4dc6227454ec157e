package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClawStak-AI/clawstak-sub001/internal/collab"
)

func newTestAgent(t *testing.T, m *Memory, slug string) *Agent {
	t.Helper()
	a := &Agent{
		ID:     uuid.New(),
		Slug:   slug,
		Name:   slug,
		Status: AgentStatusActive,
	}
	require.NoError(t, m.CreateAgent(context.Background(), a))
	return a
}

func TestCreateAgentDuplicateSlug(t *testing.T) {
	m := NewMemory()
	newTestAgent(t, m, "alpha")

	err := m.CreateAgent(context.Background(), &Agent{ID: uuid.New(), Slug: "alpha", Status: AgentStatusActive})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestActiveKeyLookup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	agent := newTestAgent(t, m, "alpha")

	k := &APIKey{
		ID:            uuid.New(),
		AgentID:       agent.ID,
		Digest:        "digest-1",
		DisplayPrefix: "cs_abcde",
		Scopes:        []string{"publish"},
		IsActive:      true,
	}
	require.NoError(t, m.CreateAPIKey(ctx, k))

	got, err := m.GetActiveKeyByDigest(ctx, "digest-1")
	require.NoError(t, err)
	assert.Equal(t, agent.ID, got.AgentID)

	// Unknown and deactivated digests are indistinguishable.
	_, err = m.GetActiveKeyByDigest(ctx, "no-such-digest")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.DeactivateKey(ctx, agent.ID, k.ID))
	_, err = m.GetActiveKeyByDigest(ctx, "digest-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRotateSessionIsSingleUse(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	agent := newTestAgent(t, m, "alpha")

	old := &Session{
		ID:          uuid.New(),
		AgentID:     agent.ID,
		TokenDigest: "digest-old",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	require.NoError(t, m.CreateSession(ctx, old))

	repl := &Session{
		ID:          uuid.New(),
		AgentID:     agent.ID,
		TokenDigest: "digest-new",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	require.NoError(t, m.RotateSession(ctx, old.ID, repl))

	gotOld, err := m.GetSessionByDigest(ctx, "digest-old")
	require.NoError(t, err)
	assert.True(t, gotOld.Revoked)

	gotNew, err := m.GetSessionByDigest(ctx, "digest-new")
	require.NoError(t, err)
	assert.False(t, gotNew.Revoked)

	// Rotating the same session again must fail and insert nothing.
	again := &Session{ID: uuid.New(), AgentID: agent.ID, TokenDigest: "digest-replay"}
	err = m.RotateSession(ctx, old.ID, again)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = m.GetSessionByDigest(ctx, "digest-replay")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateCollaborationStalePrecondition(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := newTestAgent(t, m, "alpha")
	b := newTestAgent(t, m, "beta")

	c := &Collaboration{
		ID:                uuid.New(),
		RequestingAgentID: a.ID,
		ProvidingAgentID:  b.ID,
		Status:            collab.StatusProposed,
		TaskDescription:   "summarize the weekly digest",
	}
	require.NoError(t, m.CreateCollaboration(ctx, c))

	active := collab.StatusActive
	_, err := m.UpdateCollaboration(ctx, c.ID, collab.StatusProposed, CollaborationUpdate{Status: &active})
	require.NoError(t, err)

	// Second writer observed "proposed" before the first write landed.
	rejected := collab.StatusRejected
	_, err = m.UpdateCollaboration(ctx, c.ID, collab.StatusProposed, CollaborationUpdate{Status: &rejected})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = m.UpdateCollaboration(ctx, uuid.New(), collab.StatusProposed, CollaborationUpdate{Status: &active})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCollaborationsFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := newTestAgent(t, m, "alpha")
	b := newTestAgent(t, m, "beta")
	c := newTestAgent(t, m, "gamma")

	mk := func(req, prov uuid.UUID, status collab.Status) {
		require.NoError(t, m.CreateCollaboration(ctx, &Collaboration{
			ID:                uuid.New(),
			RequestingAgentID: req,
			ProvidingAgentID:  prov,
			Status:            status,
			TaskDescription:   "task",
		}))
	}
	mk(a.ID, b.ID, collab.StatusProposed)
	mk(b.ID, c.ID, collab.StatusActive)
	mk(c.ID, a.ID, collab.StatusProposed)

	proposed := collab.StatusProposed
	got, total, err := m.ListCollaborations(ctx, CollaborationFilter{Status: &proposed, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, got, 2)

	// Participant filter matches either side.
	got, total, err = m.ListCollaborations(ctx, CollaborationFilter{ParticipantID: &a.ID, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, got, 2)

	got, total, err = m.ListCollaborations(ctx, CollaborationFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, got, 2)

	got, _, err = m.ListCollaborations(ctx, CollaborationFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestInsertMetricsUnknownAgent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	a := newTestAgent(t, m, "alpha")

	err := m.InsertMetrics(ctx, []MetricSample{
		{ID: uuid.New(), AgentID: a.ID, Name: "task_success", Value: 1},
		{ID: uuid.New(), AgentID: uuid.New(), Name: "task_success", Value: 1},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	// The whole batch is rejected, including the valid sample.
	assert.Empty(t, m.Metrics())
}
