package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/config"
	"github.com/dealbridge/dealroom-capture/internal/engine"
	"github.com/dealbridge/dealroom-capture/internal/metrics"
	"github.com/dealbridge/dealroom-capture/internal/platform"
	queueMemory "github.com/dealbridge/dealroom-capture/internal/queue/memory"
	storageMemory "github.com/dealbridge/dealroom-capture/internal/storage/memory"
)

type fakeIDGen struct {
	ids []string
	pos int
}

func (g *fakeIDGen) NewID() (string, error) {
	if g.pos >= len(g.ids) {
		return "job-overflow", nil
	}
	id := g.ids[g.pos]
	g.pos++
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type serverFixture struct {
	server   *Server
	jobStore *storageMemory.JobStore
	queue    *queueMemory.Queue
}

func newFixture(t *testing.T, cfg config.Config) *serverFixture {
	t.Helper()
	metrics.Init()
	jobStore := storageMemory.NewJobStore()
	q := queueMemory.NewQueue(10)
	registry := platform.NewRegistry(cfg.Platforms, cfg.Capture.DenyHosts)
	server := NewServer(
		jobStore,
		q,
		registry,
		&fakeIDGen{ids: []string{"job-1", "job-2"}},
		&fakeClock{now: time.Unix(100, 0)},
		cfg,
		zap.NewNop(),
	)
	return &serverFixture{server: server, jobStore: jobStore, queue: q}
}

func postWebhook(t *testing.T, server *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/dealroom", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_IntakeWebhook_Succeeds(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, config.Config{Capture: config.CaptureConfig{MaxFormSteps: 5}})
	rec := postWebhook(t, fix.server, `{
		"event": "deal.capture_requested",
		"portal_url": "https://deals.example.com/room/42",
		"deal_id": "deal-42"
	}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job-1")

	item, err := fix.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", item.JobID)
	require.Equal(t, "deal-42", item.Params.DealID)
	require.Equal(t, 5, item.Params.MaxFormSteps)
	require.True(t, item.Params.SkipSensitive)

	job, err := fix.jobStore.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, engine.JobStatusQueued, job.Status)
}

func TestServer_IntakeWebhook_Validation(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, config.Config{})
	cases := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{invalid", "invalid JSON"},
		{"missing portal url", `{"deal_id":"d"}`, "portal_url required"},
		{"relative portal url", `{"portal_url":"/room/1","deal_id":"d"}`, "absolute http"},
		{"missing deal id", `{"portal_url":"https://deals.example.com/1"}`, "deal_id required"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := postWebhook(t, fix.server, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func TestServer_IntakeWebhook_DeniedHost(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, config.Config{
		Capture: config.CaptureConfig{DenyHosts: []string{"*.blocked.example.com"}},
	})
	rec := postWebhook(t, fix.server, `{
		"portal_url": "https://rooms.blocked.example.com/1",
		"deal_id": "deal-9"
	}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "deny-listed")
}

func TestServer_IntakeWebhook_OverridesApplied(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, config.Config{
		Capture:  config.CaptureConfig{MaxFormSteps: 5},
		Fallback: config.FallbackConfig{MaxSteps: 3},
	})
	rec := postWebhook(t, fix.server, `{
		"portal_url": "https://deals.example.com/room/7",
		"deal_id": "deal-7",
		"max_form_steps": 2,
		"skip_sensitive": false,
		"fallback_max_steps": 1
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	item, err := fix.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, item.Params.MaxFormSteps)
	require.Equal(t, 1, item.Params.FallbackMaxSteps)
	require.False(t, item.Params.SkipSensitive)
}

func TestServer_JobStatusAndResult(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, config.Config{})
	ctx := context.Background()
	require.NoError(t, fix.jobStore.CreateJob(ctx, engine.Job{
		ID: "job-x", Status: engine.JobStatusSucceeded,
	}))
	require.NoError(t, fix.jobStore.RecordDocument(ctx, engine.DocumentRecord{
		JobID: "job-x", Name: "teaser.pdf", SizeBytes: 2048,
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-x/status", nil)
	rec := httptest.NewRecorder()
	fix.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "succeeded")

	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/job-x/result", nil)
	rec = httptest.NewRecorder()
	fix.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result engine.JobResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Documents, 1)
	require.Equal(t, "teaser.pdf", result.Documents[0].Name)
}

func TestServer_JobStatusNotFound(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/nope/status", nil)
	rec := httptest.NewRecorder()
	fix.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CancelJob(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, config.Config{})
	require.NoError(t, fix.jobStore.CreateJob(context.Background(), engine.Job{
		ID: "job-c", Status: engine.JobStatusQueued,
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/job-c/cancel", nil)
	rec := httptest.NewRecorder()
	fix.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	job, err := fix.jobStore.GetJob(context.Background(), "job-c")
	require.NoError(t, err)
	require.Equal(t, engine.JobStatusCanceled, job.Status)
}

func TestServer_APIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	fix := newFixture(t, config.Config{
		Auth: config.AuthConfig{Enabled: true, APIKey: "secret"},
	})

	rec := postWebhook(t, fix.server, `{"portal_url":"https://deals.example.com/1","deal_id":"d"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/dealroom",
		bytes.NewBufferString(`{"portal_url":"https://deals.example.com/1","deal_id":"d"}`))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	fix.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	fix.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
