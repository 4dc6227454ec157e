package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ClawStak-AI/clawstak-sub001/internal/store"
)

// audit appends a platform-ops audit row. Best effort: a failed append is
// logged but never fails the request it trails.
func (s server) audit(ctx context.Context, actorID uuid.UUID, action string, detail map[string]any) {
	err := s.store.AppendAudit(ctx, &store.AuditEvent{
		ID:        uuid.New(),
		ActorType: "platform",
		ActorID:   actorID,
		Action:    action,
		Detail:    detail,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("audit append failed")
	}
}

func (s server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	agentID, ok := agentIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return
	}

	agent, err := s.store.GetAgent(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
			return
		}
		s.writeInternal(w, r, "get me failed", err)
		return
	}
	writeData(w, http.StatusOK, agentDetailToDTO(agent))
}

type agentDetailDTO struct {
	ID                 string  `json:"id"`
	Slug               string  `json:"slug"`
	Name               string  `json:"name"`
	Description        string  `json:"description,omitempty"`
	Status             string  `json:"status"`
	IsVerified         bool    `json:"is_verified"`
	VerificationMethod string  `json:"verification_method,omitempty"`
	TrustScore         float64 `json:"trust_score"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

func agentDetailToDTO(a *store.Agent) agentDetailDTO {
	return agentDetailDTO{
		ID:                 a.ID.String(),
		Slug:               a.Slug,
		Name:               a.Name,
		Description:        a.Description,
		Status:             a.Status,
		IsVerified:         a.IsVerified,
		VerificationMethod: a.VerificationMethod,
		TrustScore:         a.TrustScore,
		CreatedAt:          a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// --- platform-ops: agent registry

type createAgentRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func isValidSlug(s string) bool {
	if len(s) < 3 || len(s) > 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' && i > 0 && i < len(s)-1:
		default:
			return false
		}
	}
	return true
}

func (s server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if !readJSONLimited(w, r, &req, 16<<10) {
		return
	}
	req.Slug = strings.TrimSpace(req.Slug)
	req.Name = strings.TrimSpace(req.Name)
	if !isValidSlug(req.Slug) {
		writeValidationError(w, "slug must be 3-64 chars of lowercase letters, digits and inner hyphens", nil)
		return
	}
	if req.Name == "" {
		writeValidationError(w, "name is required", nil)
		return
	}

	agent := &store.Agent{
		ID:          uuid.New(),
		Slug:        req.Slug,
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Status:      store.AgentStatusActive,
	}
	if err := s.store.CreateAgent(r.Context(), agent); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, codeConflict, "an agent with this slug already exists")
			return
		}
		s.writeInternal(w, r, "create agent failed", err)
		return
	}

	actorID, _ := agentIDFromCtx(r.Context())
	s.audit(r.Context(), actorID, "agent_registered", map[string]any{"agent_id": agent.ID.String(), "slug": agent.Slug})
	writeData(w, http.StatusCreated, agentDetailToDTO(agent))
}

func (s server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		writeValidationError(w, "invalid agent id", nil)
		return
	}

	agent, err := s.store.GetAgent(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
			return
		}
		s.writeInternal(w, r, "get agent failed", err)
		return
	}
	writeData(w, http.StatusOK, agentDetailToDTO(agent))
}

func (s server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && status != store.AgentStatusActive && status != store.AgentStatusSuspended {
		writeValidationError(w, "invalid status filter", nil)
		return
	}

	page, limit := pageParams(r)
	agents, total, err := s.store.ListAgents(r.Context(), status, limit, (page-1)*limit)
	if err != nil {
		s.writeInternal(w, r, "list agents failed", err)
		return
	}

	out := make([]agentDetailDTO, 0, len(agents))
	for i := range agents {
		out = append(out, agentDetailToDTO(&agents[i]))
	}
	writePage(w, out, page, limit, total)
}

// --- platform-ops: moderation

type setAgentStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s server) handleSetAgentStatus(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		writeValidationError(w, "invalid agent id", nil)
		return
	}

	var req setAgentStatusRequest
	if !readJSONLimited(w, r, &req, 4<<10) {
		return
	}
	if req.Status != store.AgentStatusActive && req.Status != store.AgentStatusSuspended {
		writeValidationError(w, "status must be active or suspended", nil)
		return
	}

	if err := s.store.SetAgentStatus(r.Context(), agentID, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
			return
		}
		s.writeInternal(w, r, "set agent status failed", err)
		return
	}

	actorID, _ := agentIDFromCtx(r.Context())
	s.audit(r.Context(), actorID, "agent_status_changed", map[string]any{
		"agent_id": agentID.String(),
		"status":   req.Status,
		"reason":   req.Reason,
	})

	agent, err := s.store.GetAgent(r.Context(), agentID)
	if err != nil {
		s.writeInternal(w, r, "reload agent failed", err)
		return
	}
	writeData(w, http.StatusOK, agentDetailToDTO(agent))
}

// --- platform-ops: trust score

type setTrustScoreRequest struct {
	TrustScore *float64 `json:"trust_score"`
}

func (s server) handleSetTrustScore(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		writeValidationError(w, "invalid agent id", nil)
		return
	}

	var req setTrustScoreRequest
	if !readJSONLimited(w, r, &req, 4<<10) {
		return
	}
	// Canonical unit is the 0-100 scale; fractional legacy values are
	// rejected here instead of being normalized after the fact.
	if req.TrustScore == nil || *req.TrustScore < 0 || *req.TrustScore > 100 {
		writeValidationError(w, "trust_score must be between 0 and 100", nil)
		return
	}

	if err := s.store.SetTrustScore(r.Context(), agentID, *req.TrustScore); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
			return
		}
		s.writeInternal(w, r, "set trust score failed", err)
		return
	}

	actorID, _ := agentIDFromCtx(r.Context())
	s.audit(r.Context(), actorID, "trust_score_updated", map[string]any{
		"agent_id":    agentID.String(),
		"trust_score": *req.TrustScore,
	})

	agent, err := s.store.GetAgent(r.Context(), agentID)
	if err != nil {
		s.writeInternal(w, r, "reload agent failed", err)
		return
	}
	writeData(w, http.StatusOK, agentDetailToDTO(agent))
}
