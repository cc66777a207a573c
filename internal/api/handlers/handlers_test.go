package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/kzoteam/qbo-bridge/internal/api/handlers"
	"github.com/kzoteam/qbo-bridge/internal/control"
	"github.com/kzoteam/qbo-bridge/internal/jobs"
)

type fakePublisher struct {
	published []*jobs.SweepJob
	err       error
}

func (p *fakePublisher) PublishSweep(ctx context.Context, job *jobs.SweepJob) error {
	if p.err != nil {
		return p.err
	}
	job.JobID = "job-1"
	job.Status = jobs.StatusPending
	p.published = append(p.published, job)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeStore struct {
	jobs map[string]*jobs.SweepJob
}

func (s *fakeStore) SaveJob(ctx context.Context, job *jobs.SweepJob) error { return nil }

func (s *fakeStore) GetJob(ctx context.Context, jobID string) (*jobs.SweepJob, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, errors.New("not found")
	}
	return job, nil
}

func (s *fakeStore) ListJobs(ctx context.Context, filter jobs.Filter) ([]*jobs.SweepJob, error) {
	var out []*jobs.SweepJob
	for _, j := range s.jobs {
		if filter.Stage != "" && j.Stage != filter.Stage {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func TestWebhookEnqueuesSweep(t *testing.T) {
	pub := &fakePublisher{}
	h := handlers.NewTriggerHandler(pub, zerolog.Nop())

	body := `{"event": "sync_trigger", "client": "Kazo Kenya"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d jobs, want 1", len(pub.published))
	}
	job := pub.published[0]
	if job.Stage != control.StageSync || job.Client != "Kazo Kenya" {
		t.Errorf("job = %+v", job)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["job_id"] != "job-1" || resp["stage"] != "sync" {
		t.Errorf("response = %v", resp)
	}
}

func TestWebhookUnknownEvent(t *testing.T) {
	pub := &fakePublisher{}
	h := handlers.NewTriggerHandler(pub, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"event": "format_disk"}`))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(pub.published) != 0 {
		t.Errorf("published %d jobs, want 0", len(pub.published))
	}
}

func TestWebhookMalformedBody(t *testing.T) {
	h := handlers.NewTriggerHandler(&fakePublisher{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"event": `))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookPublisherFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("queue is closed")}
	h := handlers.NewTriggerHandler(pub, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"event": "transform_trigger"}`))
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	store := &fakeStore{jobs: map[string]*jobs.SweepJob{
		"job-7": {JobID: "job-7", Stage: control.StageReconcile, Status: jobs.StatusCompleted},
	}}
	h := handlers.NewJobsHandler(store, zerolog.Nop())

	router := mux.NewRouter()
	router.HandleFunc("/jobs/{id}", h.GetJob).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var job jobs.SweepJob
	if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if job.JobID != "job-7" || job.Status != jobs.StatusCompleted {
		t.Errorf("job = %+v", job)
	}

	req = httptest.NewRequest(http.MethodGet, "/jobs/no-such-job", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", rec.Code)
	}
}

func TestListJobsStageFilter(t *testing.T) {
	store := &fakeStore{jobs: map[string]*jobs.SweepJob{
		"a": {JobID: "a", Stage: control.StageSync},
		"b": {JobID: "b", Stage: control.StageTransform},
	}}
	h := handlers.NewJobsHandler(store, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/jobs?stage=sync", nil)
	rec := httptest.NewRecorder()
	h.ListJobs(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Jobs  []jobs.SweepJob `json:"jobs"`
		Count int             `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 1 || len(resp.Jobs) != 1 || resp.Jobs[0].JobID != "a" {
		t.Errorf("response = %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handlers.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
