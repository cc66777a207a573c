// Package handlers implements the trigger listener endpoints: the relay
// webhook that enqueues stage sweeps and the read side for queued job state.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/kzoteam/qbo-bridge/internal/api/middleware"
	"github.com/kzoteam/qbo-bridge/internal/control"
	"github.com/kzoteam/qbo-bridge/internal/jobs"
)

// Relay event names, as sent by the spreadsheet-side trigger script.
const (
	EventTransform = "transform_trigger"
	EventSync      = "sync_trigger"
	EventReconcile = "reconcile_trigger"
)

var eventStages = map[string]control.Stage{
	EventTransform: control.StageTransform,
	EventSync:      control.StageSync,
	EventReconcile: control.StageReconcile,
}

// TriggerHandler accepts relay webhook events and enqueues sweep jobs.
type TriggerHandler struct {
	publisher jobs.Publisher
	log       zerolog.Logger
}

func NewTriggerHandler(publisher jobs.Publisher, log zerolog.Logger) *TriggerHandler {
	return &TriggerHandler{publisher: publisher, log: log}
}

// HandleWebhook handles POST /webhook. The body names the event and
// optionally the client whose workbook fired it; an empty client sweeps
// every active client.
func (h *TriggerHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Event  string `json:"event"`
		Client string `json:"client"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	stage, ok := eventStages[req.Event]
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, "Unknown event: "+req.Event)
		return
	}

	job := &jobs.SweepJob{
		Stage:  stage,
		Client: req.Client,
	}
	if err := h.publisher.PublishSweep(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("event", req.Event).Msg("Failed to enqueue sweep")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue sweep")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("stage", string(stage)).
		Str("client", req.Client).
		Msg("Sweep enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"stage":  string(stage),
		"status": string(job.Status),
	})
}

// HandleHealth handles GET /healthz.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JobsHandler reports on queued and finished sweeps.
type JobsHandler struct {
	store jobs.Store
	log   zerolog.Logger
}

func NewJobsHandler(store jobs.Store, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{store: store, log: log}
}

// GetJob handles GET /jobs/{id}.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /jobs with optional stage, status, limit and offset
// query parameters.
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.Filter{
		Stage:  control.Stage(query.Get("stage")),
		Status: jobs.Status(query.Get("status")),
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}
