package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClawStak-AI/clawstak-sub001/internal/auth"
)

func createCollab(t *testing.T, env *testEnv, requesting, providing string) collabDTO {
	t.Helper()
	rr := env.do(t, http.MethodPost, "/v1/platform/collaborations", env.opsKey, map[string]any{
		"requesting_agent_id": requesting,
		"providing_agent_id":  providing,
		"task_description":    "summarize the quarterly reports",
		"negotiated_terms":    map[string]any{"rate": 5, "currency": "credits"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, "body: %s", rr.Body.String())
	var c collabDTO
	decodeData(t, rr, &c)
	return c
}

func TestCreateCollaboration(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "requester")
	b := env.seedAgent(t, "provider")

	c := createCollab(t, env, a.ID.String(), b.ID.String())
	assert.Equal(t, "proposed", c.Status)
	assert.Equal(t, a.ID.String(), c.RequestingAgentID)
	assert.Equal(t, b.ID.String(), c.ProvidingAgentID)
	assert.Empty(t, c.CompletedAt)
	assert.Nil(t, c.QualityScore)
	assert.Equal(t, map[string]any{"rate": float64(5), "currency": "credits"}, c.NegotiatedTerms)
}

func TestCreateCollaborationValidation(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "requester")
	b := env.seedAgent(t, "provider")

	t.Run("self collaboration", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/v1/platform/collaborations", env.opsKey, map[string]any{
			"requesting_agent_id": a.ID.String(),
			"providing_agent_id":  a.ID.String(),
			"task_description":    "talk to myself",
		})
		requireErrorCode(t, rr, http.StatusBadRequest, codeValidation)
	})

	t.Run("unknown providing agent", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/v1/platform/collaborations", env.opsKey, map[string]any{
			"requesting_agent_id": a.ID.String(),
			"providing_agent_id":  "00000000-0000-0000-0000-000000000001",
			"task_description":    "work with a ghost",
		})
		requireErrorCode(t, rr, http.StatusBadRequest, codeValidation)
	})

	t.Run("empty task description", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/v1/platform/collaborations", env.opsKey, map[string]any{
			"requesting_agent_id": a.ID.String(),
			"providing_agent_id":  b.ID.String(),
			"task_description":    "   ",
		})
		requireErrorCode(t, rr, http.StatusBadRequest, codeValidation)
	})
}

// TestCollaborationLifecycle walks the happy path end to end: key issuance,
// login, proposal, activation, a rejected late transition, completion.
func TestCollaborationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "requester")
	b := env.seedAgent(t, "provider")

	// Issue a publish+platform-ops key and log in with it.
	issued := env.do(t, http.MethodPost, "/v1/platform/agents/"+a.ID.String()+"/keys", env.opsKey,
		map[string]any{"scopes": []string{auth.ScopePublish, auth.ScopePlatformOps}})
	require.Equal(t, http.StatusCreated, issued.Code)
	var key issueKeyResponse
	decodeData(t, issued, &key)

	login := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"api_key": key.APIKey})
	require.Equal(t, http.StatusOK, login.Code)

	c := createCollab(t, env, a.ID.String(), b.ID.String())
	path := "/v1/platform/collaborations/" + c.ID

	// proposed -> active
	rr := env.do(t, http.MethodPatch, path, key.APIKey, map[string]any{"status": "active"})
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	decodeData(t, rr, &c)
	assert.Equal(t, "active", c.Status)

	// active -> rejected is not in the table; the error names the one
	// allowed target.
	rr = env.do(t, http.MethodPatch, path, key.APIKey, map[string]any{"status": "rejected"})
	e := requireErrorCode(t, rr, http.StatusConflict, codeInvalidTransition)
	assert.Contains(t, e.Message, "completed")

	// active -> completed with a quality score stamps completed_at.
	rr = env.do(t, http.MethodPatch, path, key.APIKey, map[string]any{
		"status":        "completed",
		"quality_score": 0.9,
		"result":        map[string]any{"summary": "done"},
	})
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
	decodeData(t, rr, &c)
	assert.Equal(t, "completed", c.Status)
	assert.NotEmpty(t, c.CompletedAt)
	require.NotNil(t, c.QualityScore)
	assert.Equal(t, 0.9, *c.QualityScore)

	// Terminal: nothing leaves completed.
	rr = env.do(t, http.MethodPatch, path, key.APIKey, map[string]any{"status": "active"})
	e = requireErrorCode(t, rr, http.StatusConflict, codeInvalidTransition)
	assert.Contains(t, e.Message, "terminal")
}

func TestUpdateCollaborationValidation(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "requester")
	b := env.seedAgent(t, "provider")
	c := createCollab(t, env, a.ID.String(), b.ID.String())
	path := "/v1/platform/collaborations/" + c.ID

	t.Run("empty patch", func(t *testing.T) {
		rr := env.do(t, http.MethodPatch, path, env.opsKey, map[string]any{})
		requireErrorCode(t, rr, http.StatusBadRequest, codeValidation)
	})

	t.Run("unknown status", func(t *testing.T) {
		rr := env.do(t, http.MethodPatch, path, env.opsKey, map[string]any{"status": "paused"})
		requireErrorCode(t, rr, http.StatusBadRequest, codeValidation)
	})

	t.Run("quality score out of range", func(t *testing.T) {
		rr := env.do(t, http.MethodPatch, path, env.opsKey, map[string]any{"quality_score": 1.5})
		requireErrorCode(t, rr, http.StatusBadRequest, codeValidation)
	})

	t.Run("result attaches without a transition", func(t *testing.T) {
		rr := env.do(t, http.MethodPatch, path, env.opsKey, map[string]any{
			"result": map[string]any{"draft": true},
		})
		require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())
		var got collabDTO
		decodeData(t, rr, &got)
		assert.Equal(t, "proposed", got.Status)
		assert.Equal(t, map[string]any{"draft": true}, got.Result)
	})

	t.Run("unknown collaboration", func(t *testing.T) {
		rr := env.do(t, http.MethodPatch, "/v1/platform/collaborations/00000000-0000-0000-0000-000000000001",
			env.opsKey, map[string]any{"status": "active"})
		requireErrorCode(t, rr, http.StatusNotFound, codeNotFound)
	})
}

func TestListCollaborations(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "requester")
	b := env.seedAgent(t, "provider")
	c := env.seedAgent(t, "bystander")

	first := createCollab(t, env, a.ID.String(), b.ID.String())
	second := createCollab(t, env, b.ID.String(), c.ID.String())

	rr := env.do(t, http.MethodPatch, "/v1/platform/collaborations/"+second.ID, env.opsKey,
		map[string]any{"status": "active"})
	require.Equal(t, http.StatusOK, rr.Code)

	t.Run("all", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/platform/collaborations", env.opsKey, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var list []collabDTO
		decodeData(t, rr, &list)
		assert.Len(t, list, 2)
		assert.Equal(t, 2, decodeEnvelope(t, rr).Meta.Total)
	})

	t.Run("status filter", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/platform/collaborations?status=active", env.opsKey, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var list []collabDTO
		decodeData(t, rr, &list)
		require.Len(t, list, 1)
		assert.Equal(t, second.ID, list[0].ID)
	})

	t.Run("participant filter matches either side", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/platform/collaborations?participant_id="+b.ID.String(), env.opsKey, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var list []collabDTO
		decodeData(t, rr, &list)
		assert.Len(t, list, 2)
	})

	t.Run("invalid status filter", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/platform/collaborations?status=paused", env.opsKey, nil)
		requireErrorCode(t, rr, http.StatusBadRequest, codeValidation)
	})

	t.Run("get by id", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/v1/platform/collaborations/"+first.ID, env.opsKey, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var got collabDTO
		decodeData(t, rr, &got)
		assert.Equal(t, first.ID, got.ID)
	})
}

func TestSessionScopedCollaborationList(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "requester")
	b := env.seedAgent(t, "provider")
	c := env.seedAgent(t, "bystander")

	createCollab(t, env, a.ID.String(), b.ID.String())
	createCollab(t, env, b.ID.String(), c.ID.String())

	tok, err := env.minter.Mint(a.ID.String(), auth.DefaultScopes())
	require.NoError(t, err)

	// The caller sees only collaborations they participate in, and cannot
	// widen the view with a participant_id parameter.
	rr := env.do(t, http.MethodGet, "/v1/collaborations?participant_id="+c.ID.String(), tok, nil)
	require.Equal(t, http.StatusOK, rr.Code, "body: %s", rr.Body.String())

	var list []collabDTO
	decodeData(t, rr, &list)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID.String(), list[0].RequestingAgentID)
}

func TestRepeatedTransitionRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedAgent(t, "requester")
	b := env.seedAgent(t, "provider")
	c := createCollab(t, env, a.ID.String(), b.ID.String())
	path := "/v1/platform/collaborations/" + c.ID

	rr := env.do(t, http.MethodPatch, path, env.opsKey, map[string]any{"status": "active"})
	require.Equal(t, http.StatusOK, rr.Code)

	// The same activation again finds the source state gone.
	rr = env.do(t, http.MethodPatch, path, env.opsKey, map[string]any{"status": "active"})
	requireErrorCode(t, rr, http.StatusConflict, codeInvalidTransition)
}
