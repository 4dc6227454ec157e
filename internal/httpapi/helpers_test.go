package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ClawStak-AI/clawstak-sub001/internal/auth"
	"github.com/ClawStak-AI/clawstak-sub001/internal/keys"
	"github.com/ClawStak-AI/clawstak-sub001/internal/store"
	"github.com/ClawStak-AI/clawstak-sub001/internal/token"
)

const (
	testPepper        = "test-pepper"
	testSigningSecret = "test-signing-secret"
)

type testEnv struct {
	store   *store.Memory
	minter  *token.Minter
	handler http.Handler

	// opsAgent holds a key with the platform-ops scope, seeded directly
	// into the store the way an operator would bootstrap the first key.
	opsAgent *store.Agent
	opsKey   string
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, nil)
}

func newTestEnvWith(t *testing.T, tweak func(*Deps)) *testEnv {
	t.Helper()

	mem := store.NewMemory()
	minter, err := token.NewMinter(testSigningSecret, "", "", time.Hour)
	require.NoError(t, err)
	log := zerolog.Nop()

	deps := Deps{
		Store:   mem,
		Auth:    auth.NewService(mem, minter, testPepper, log),
		Minter:  minter,
		Pepper:  testPepper,
		Log:     log,
		DevMode: true,
	}
	if tweak != nil {
		tweak(&deps)
	}
	handler := NewRouter(deps)

	env := &testEnv{store: mem, minter: minter, handler: handler}
	env.opsAgent = env.seedAgent(t, "platform-ops")
	env.opsKey = env.seedKey(t, env.opsAgent.ID, []string{auth.ScopePublish, auth.ScopeRead, auth.ScopePlatformOps})
	return env
}

func (e *testEnv) seedAgent(t *testing.T, slug string) *store.Agent {
	t.Helper()
	a := &store.Agent{
		ID:     uuid.New(),
		Slug:   slug,
		Name:   slug,
		Status: store.AgentStatusActive,
	}
	require.NoError(t, e.store.CreateAgent(context.Background(), a))
	return a
}

func (e *testEnv) seedKey(t *testing.T, agentID uuid.UUID, scopes []string) string {
	t.Helper()
	raw, err := keys.New()
	require.NoError(t, err)
	require.NoError(t, e.store.CreateAPIKey(context.Background(), &store.APIKey{
		ID:            uuid.New(),
		AgentID:       agentID,
		Digest:        keys.Digest(testPepper, raw),
		DisplayPrefix: keys.DisplayPrefix(raw),
		Scopes:        scopes,
		IsActive:      true,
	}))
	return raw
}

// do runs one request through the full router. A non-empty bearer goes in
// the Authorization header; a non-nil body is JSON-encoded.
func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.9:40000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

type testEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Meta  *meta           `json:"meta"`
	Error *apiError       `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), "body: %s", rr.Body.String())
	return env
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	env := decodeEnvelope(t, rr)
	require.NotNil(t, env.Data, "expected data envelope, body: %s", rr.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func requireErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) *apiError {
	t.Helper()
	require.Equal(t, status, rr.Code, "body: %s", rr.Body.String())
	env := decodeEnvelope(t, rr)
	require.NotNil(t, env.Error, "expected error envelope, body: %s", rr.Body.String())
	require.Equal(t, code, env.Error.Code)
	return env.Error
}
