package database

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

func newMockStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "", "")
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolValidatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	if _, err := NewWithPool(mock, "bad;drop", ""); err == nil {
		t.Fatal("expected invalid jobs table to be rejected")
	}
	if _, err := NewWithPool(nil, "", ""); err == nil {
		t.Fatal("expected nil pool to be rejected")
	}
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	job := engine.Job{
		ID:        "job-1",
		Status:    engine.JobStatusQueued,
		Submitted: now,
		Parameters: engine.JobParameters{
			PortalURL: "https://dataroom.example.com/deal/42",
			DealID:    "deal-42",
		},
	}

	mock.ExpectExec("INSERT INTO capture_jobs").
		WithArgs(job.ID, "queued", now, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobRequiresID(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	err := store.CreateJob(context.Background(), engine.Job{})
	require.Error(t, err)
}

func TestUpdateJobStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE capture_jobs SET").
		WithArgs("job-1", "running", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateJobStatus(context.Background(), "job-1", engine.JobStatusRunning, "", engine.JobCounters{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusMissingJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE capture_jobs SET").
		WithArgs("missing", "failed", "boom", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateJobStatus(context.Background(), "missing", engine.JobStatusFailed, "boom", engine.JobCounters{})
	require.ErrorIs(t, err, ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDocumentInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	doc := engine.DocumentRecord{
		JobID:       "job-1",
		DealID:      "deal-42",
		Name:        "teaser.pdf",
		SizeBytes:   2048,
		ContentHash: "abc123",
		BlobURI:     "gs://deal-docs/job-1/teaser.pdf",
		StagedAt:    now,
	}

	mock.ExpectExec("INSERT INTO capture_documents").
		WithArgs(doc.JobID, doc.DealID, doc.Name, doc.SizeBytes, doc.ContentHash, doc.BlobURI, doc.StagedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordDocument(context.Background(), doc))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "status", "submitted_at", "started_at", "finished_at", "error_text", "parameters", "counters",
	}).AddRow(
		"job-1", "succeeded", now, &now, &now, "",
		[]byte(`{"portal_url":"https://dataroom.example.com/deal/42","deal_id":"deal-42"}`),
		[]byte(`{"documents_staged":3,"fields_filled":6}`),
	)

	mock.ExpectQuery("SELECT id, status, submitted_at").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, engine.JobStatusSucceeded, job.Status)
	require.Equal(t, "deal-42", job.Parameters.DealID)
	require.Equal(t, 3, job.Counters.DocumentsStaged)
	require.Equal(t, 6, job.Counters.FieldsFilled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDocuments(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"job_id", "deal_id", "name", "size_bytes", "content_hash", "blob_uri", "staged_at",
	}).
		AddRow("job-1", "deal-42", "teaser.pdf", int64(2048), "abc", "gs://b/1", now).
		AddRow("job-1", "deal-42", "cim.pdf", int64(4096), "def", "gs://b/2", now)

	mock.ExpectQuery("SELECT job_id, deal_id, name").
		WithArgs("job-1").
		WillReturnRows(rows)

	docs, err := store.ListDocuments(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "teaser.pdf", docs[0].Name)
	require.Equal(t, int64(4096), docs[1].SizeBytes)
	require.NoError(t, mock.ExpectationsWereMet())
}
