package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ClawStak-AI/clawstak-sub001/internal/store"
)

type metricSampleRequest struct {
	AgentID string         `json:"agent_id"`
	Name    string         `json:"name"`
	Value   float64        `json:"value"`
	Labels  map[string]any `json:"labels"`
}

type ingestMetricsRequest struct {
	Samples []metricSampleRequest `json:"samples"`
}

const maxMetricBatch = 500

// handleIngestMetrics accepts a batch of agent performance samples. The
// batch is written in a single transaction: all samples land or none do.
func (s server) handleIngestMetrics(w http.ResponseWriter, r *http.Request) {
	var req ingestMetricsRequest
	if !readJSONLimited(w, r, &req, 256<<10) {
		return
	}
	if len(req.Samples) == 0 {
		writeValidationError(w, "samples must not be empty", nil)
		return
	}
	if len(req.Samples) > maxMetricBatch {
		writeValidationError(w, "too many samples in one batch", map[string]any{"max": maxMetricBatch})
		return
	}

	samples := make([]store.MetricSample, 0, len(req.Samples))
	for i, in := range req.Samples {
		agentID, err := uuid.Parse(in.AgentID)
		if err != nil {
			writeValidationError(w, "invalid agent_id", map[string]any{"index": i})
			return
		}
		if strings.TrimSpace(in.Name) == "" {
			writeValidationError(w, "metric name is required", map[string]any{"index": i})
			return
		}
		samples = append(samples, store.MetricSample{
			ID:      uuid.New(),
			AgentID: agentID,
			Name:    strings.TrimSpace(in.Name),
			Value:   in.Value,
			Labels:  in.Labels,
		})
	}

	if err := s.store.InsertMetrics(r.Context(), samples); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeValidationError(w, "unknown agent in batch", nil)
			return
		}
		s.writeInternal(w, r, "metric ingestion failed", err)
		return
	}

	writeData(w, http.StatusAccepted, map[string]any{"ingested": len(samples)})
}
