package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ClawStak-AI/clawstak-sub001/internal/auth"
	"github.com/ClawStak-AI/clawstak-sub001/internal/keys"
	"github.com/ClawStak-AI/clawstak-sub001/internal/store"
)

var knownScopes = map[string]struct{}{
	auth.ScopePublish:     {},
	auth.ScopeRead:        {},
	auth.ScopePlatformOps: {},
}

type issueKeyRequest struct {
	Scopes []string `json:"scopes"`
}

type issueKeyResponse struct {
	KeyID string `json:"key_id"`
	// APIKey is the raw secret, disclosed exactly once. Only its digest is
	// stored; there is no way to read it back later.
	APIKey        string   `json:"api_key"`
	DisplayPrefix string   `json:"display_prefix"`
	Scopes        []string `json:"scopes"`
}

func (s server) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		writeValidationError(w, "invalid agent id", nil)
		return
	}

	var req issueKeyRequest
	if !readJSONLimited(w, r, &req, 4<<10) {
		return
	}
	for _, scope := range req.Scopes {
		if _, ok := knownScopes[scope]; !ok {
			writeValidationError(w, "unknown scope: "+scope, nil)
			return
		}
	}

	if _, err := s.store.GetAgent(r.Context(), agentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
			return
		}
		s.writeInternal(w, r, "issue key: agent lookup failed", err)
		return
	}

	rawKey, err := keys.New()
	if err != nil {
		s.writeInternal(w, r, "issue key: generation failed", err)
		return
	}

	key := &store.APIKey{
		ID:            uuid.New(),
		AgentID:       agentID,
		Digest:        keys.Digest(s.pepper, rawKey),
		DisplayPrefix: keys.DisplayPrefix(rawKey),
		Scopes:        req.Scopes,
		IsActive:      true,
	}
	if err := s.store.CreateAPIKey(r.Context(), key); err != nil {
		s.writeInternal(w, r, "issue key: insert failed", err)
		return
	}

	actorID, _ := agentIDFromCtx(r.Context())
	s.audit(r.Context(), actorID, "api_key_issued", map[string]any{
		"agent_id": agentID.String(),
		"key_id":   key.ID.String(),
		"scopes":   req.Scopes,
	})

	writeData(w, http.StatusCreated, issueKeyResponse{
		KeyID:         key.ID.String(),
		APIKey:        rawKey,
		DisplayPrefix: key.DisplayPrefix,
		Scopes:        req.Scopes,
	})
}

type keyDTO struct {
	KeyID         string   `json:"key_id"`
	DisplayPrefix string   `json:"display_prefix"`
	Scopes        []string `json:"scopes"`
	IsActive      bool     `json:"is_active"`
	LastUsedAt    string   `json:"last_used_at,omitempty"`
	CreatedAt     string   `json:"created_at"`
}

func (s server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		writeValidationError(w, "invalid agent id", nil)
		return
	}

	list, err := s.store.ListKeysByAgent(r.Context(), agentID)
	if err != nil {
		s.writeInternal(w, r, "list keys failed", err)
		return
	}

	out := make([]keyDTO, 0, len(list))
	for _, k := range list {
		dto := keyDTO{
			KeyID:         k.ID.String(),
			DisplayPrefix: k.DisplayPrefix,
			Scopes:        k.Scopes,
			IsActive:      k.IsActive,
			CreatedAt:     k.CreatedAt.UTC().Format(time.RFC3339),
		}
		if k.LastUsedAt != nil {
			dto.LastUsedAt = k.LastUsedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, dto)
	}
	writeData(w, http.StatusOK, out)
}

func (s server) handleDeactivateKey(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		writeValidationError(w, "invalid agent id", nil)
		return
	}
	keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		writeValidationError(w, "invalid key id", nil)
		return
	}

	if err := s.store.DeactivateKey(r.Context(), agentID, keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
			return
		}
		s.writeInternal(w, r, "deactivate key failed", err)
		return
	}

	actorID, _ := agentIDFromCtx(r.Context())
	s.audit(r.Context(), actorID, "api_key_deactivated", map[string]any{
		"agent_id": agentID.String(),
		"key_id":   keyID.String(),
	})
	writeData(w, http.StatusOK, map[string]bool{"success": true})
}
