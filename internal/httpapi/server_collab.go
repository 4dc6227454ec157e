package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ClawStak-AI/clawstak-sub001/internal/collab"
	"github.com/ClawStak-AI/clawstak-sub001/internal/store"
)

type collabDTO struct {
	ID                string         `json:"id"`
	RequestingAgentID string         `json:"requesting_agent_id"`
	ProvidingAgentID  string         `json:"providing_agent_id"`
	Status            string         `json:"status"`
	TaskDescription   string         `json:"task_description"`
	NegotiatedTerms   map[string]any `json:"negotiated_terms,omitempty"`
	Result            map[string]any `json:"result,omitempty"`
	QualityScore      *float64       `json:"quality_score,omitempty"`
	CompletedAt       string         `json:"completed_at,omitempty"`
	CreatedAt         string         `json:"created_at"`
	UpdatedAt         string         `json:"updated_at"`
}

func toCollabDTO(c *store.Collaboration) collabDTO {
	dto := collabDTO{
		ID:                c.ID.String(),
		RequestingAgentID: c.RequestingAgentID.String(),
		ProvidingAgentID:  c.ProvidingAgentID.String(),
		Status:            string(c.Status),
		TaskDescription:   c.TaskDescription,
		NegotiatedTerms:   c.NegotiatedTerms,
		Result:            c.Result,
		QualityScore:      c.QualityScore,
		CreatedAt:         c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if c.CompletedAt != nil {
		dto.CompletedAt = c.CompletedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

type createCollabRequest struct {
	RequestingAgentID string         `json:"requesting_agent_id"`
	ProvidingAgentID  string         `json:"providing_agent_id"`
	TaskDescription   string         `json:"task_description"`
	NegotiatedTerms   map[string]any `json:"negotiated_terms"`
}

func (s server) handleCreateCollaboration(w http.ResponseWriter, r *http.Request) {
	var req createCollabRequest
	if !readJSONLimited(w, r, &req, 64<<10) {
		return
	}

	requesting, err := uuid.Parse(req.RequestingAgentID)
	if err != nil {
		writeValidationError(w, "invalid requesting_agent_id", nil)
		return
	}
	providing, err := uuid.Parse(req.ProvidingAgentID)
	if err != nil {
		writeValidationError(w, "invalid providing_agent_id", nil)
		return
	}
	if requesting == providing {
		writeValidationError(w, "an agent cannot collaborate with itself", nil)
		return
	}
	if strings.TrimSpace(req.TaskDescription) == "" {
		writeValidationError(w, "task_description is required", nil)
		return
	}

	for _, id := range []uuid.UUID{requesting, providing} {
		if _, err := s.store.GetAgent(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeValidationError(w, "unknown agent: "+id.String(), nil)
				return
			}
			s.writeInternal(w, r, "create collaboration: agent lookup failed", err)
			return
		}
	}

	c := &store.Collaboration{
		ID:                uuid.New(),
		RequestingAgentID: requesting,
		ProvidingAgentID:  providing,
		Status:            collab.StatusProposed,
		TaskDescription:   strings.TrimSpace(req.TaskDescription),
		NegotiatedTerms:   req.NegotiatedTerms,
	}
	if err := s.store.CreateCollaboration(r.Context(), c); err != nil {
		s.writeInternal(w, r, "create collaboration failed", err)
		return
	}

	created, err := s.store.GetCollaboration(r.Context(), c.ID)
	if err != nil {
		s.writeInternal(w, r, "create collaboration: reload failed", err)
		return
	}

	actorID, _ := agentIDFromCtx(r.Context())
	s.audit(r.Context(), actorID, "collaboration_proposed", map[string]any{
		"collaboration_id":    c.ID.String(),
		"requesting_agent_id": requesting.String(),
		"providing_agent_id":  providing.String(),
	})
	s.notifyCollab("collaboration.proposed", created)

	writeData(w, http.StatusCreated, toCollabDTO(created))
}

// collabFilter parses the shared status/participant query parameters.
// forcedParticipant, when non-nil, overrides any participant_id the caller
// sent; session-scoped listings can only see their own collaborations.
func collabFilter(r *http.Request, forcedParticipant *uuid.UUID) (store.CollaborationFilter, error) {
	var f store.CollaborationFilter

	if v := strings.TrimSpace(r.URL.Query().Get("status")); v != "" {
		st := collab.Status(v)
		if !collab.IsValidStatus(st) {
			return f, errors.New("invalid status filter: " + v)
		}
		f.Status = &st
	}

	if forcedParticipant != nil {
		f.ParticipantID = forcedParticipant
	} else if v := strings.TrimSpace(r.URL.Query().Get("participant_id")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, errors.New("invalid participant_id filter")
		}
		f.ParticipantID = &id
	}

	page, limit := pageParams(r)
	f.Limit = limit
	f.Offset = (page - 1) * limit
	return f, nil
}

func (s server) listCollaborations(w http.ResponseWriter, r *http.Request, forcedParticipant *uuid.UUID) {
	f, err := collabFilter(r, forcedParticipant)
	if err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	list, total, err := s.store.ListCollaborations(r.Context(), f)
	if err != nil {
		s.writeInternal(w, r, "list collaborations failed", err)
		return
	}

	out := make([]collabDTO, 0, len(list))
	for i := range list {
		out = append(out, toCollabDTO(&list[i]))
	}
	writePage(w, out, f.Offset/f.Limit+1, f.Limit, total)
}

func (s server) handleListCollaborations(w http.ResponseWriter, r *http.Request) {
	s.listCollaborations(w, r, nil)
}

// handleListMyCollaborations serves session-token callers. The participant
// filter is pinned to the authenticated agent.
func (s server) handleListMyCollaborations(w http.ResponseWriter, r *http.Request) {
	agentID, ok := agentIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return
	}
	s.listCollaborations(w, r, &agentID)
}

func (s server) handleGetCollaboration(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "collabID"))
	if err != nil {
		writeValidationError(w, "invalid collaboration id", nil)
		return
	}
	c, err := s.store.GetCollaboration(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
			return
		}
		s.writeInternal(w, r, "get collaboration failed", err)
		return
	}
	writeData(w, http.StatusOK, toCollabDTO(c))
}

type updateCollabRequest struct {
	Status       *string        `json:"status"`
	Result       map[string]any `json:"result"`
	QualityScore *float64       `json:"quality_score"`
}

func (s server) handleUpdateCollaboration(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "collabID"))
	if err != nil {
		writeValidationError(w, "invalid collaboration id", nil)
		return
	}

	var req updateCollabRequest
	if !readJSONLimited(w, r, &req, 64<<10) {
		return
	}
	if req.Status == nil && req.Result == nil && req.QualityScore == nil {
		writeValidationError(w, "nothing to update", nil)
		return
	}
	if req.QualityScore != nil && !collab.ValidQualityScore(*req.QualityScore) {
		writeValidationError(w, "quality_score must be between 0.0 and 1.0", nil)
		return
	}

	current, err := s.store.GetCollaboration(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
			return
		}
		s.writeInternal(w, r, "update collaboration: load failed", err)
		return
	}

	upd := store.CollaborationUpdate{
		Result:       req.Result,
		QualityScore: req.QualityScore,
	}
	if req.Status != nil {
		next := collab.Status(*req.Status)
		if !collab.IsValidStatus(next) {
			writeValidationError(w, "unknown status: "+*req.Status, nil)
			return
		}
		if err := collab.CheckTransition(current.Status, next); err != nil {
			var te *collab.TransitionError
			if errors.As(err, &te) {
				writeJSON(w, http.StatusConflict, envelope{Error: &apiError{
					Code:    codeInvalidTransition,
					Message: te.Error(),
					Details: map[string]any{"current": te.From, "allowed": te.Allowed},
				}})
				return
			}
			s.writeInternal(w, r, "update collaboration: transition check failed", err)
			return
		}
		upd.Status = &next
		if next == collab.StatusCompleted {
			now := time.Now().UTC()
			upd.CompletedAt = &now
		}
	}

	updated, err := s.store.UpdateCollaboration(r.Context(), id, current.Status, upd)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			// Someone moved the collaboration between our read and write.
			writeError(w, http.StatusConflict, codeConflict, "collaboration was modified concurrently, retry")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
		default:
			s.writeInternal(w, r, "update collaboration failed", err)
		}
		return
	}

	actorID, _ := agentIDFromCtx(r.Context())
	detail := map[string]any{"collaboration_id": id.String()}
	if upd.Status != nil {
		detail["from"] = string(current.Status)
		detail["to"] = string(*upd.Status)
		s.audit(r.Context(), actorID, "collaboration_transitioned", detail)
		s.notifyCollab("collaboration."+string(*upd.Status), updated)
	} else {
		s.audit(r.Context(), actorID, "collaboration_updated", detail)
	}

	writeData(w, http.StatusOK, toCollabDTO(updated))
}

func (s server) notifyCollab(eventType string, c *store.Collaboration) {
	if s.webhooks == nil {
		return
	}
	s.webhooks.Dispatch(eventType, map[string]any{
		"collaboration_id":    c.ID.String(),
		"requesting_agent_id": c.RequestingAgentID.String(),
		"providing_agent_id":  c.ProvidingAgentID.String(),
		"status":              string(c.Status),
	})
}
