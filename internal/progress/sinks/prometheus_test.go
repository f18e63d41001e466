package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/dealbridge/dealroom-capture/internal/progress"
)

func TestPrometheusSinkJobLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{JobID: id, TS: time.Now(), Stage: progress.StageJobStart},
		{JobID: id, TS: time.Now(), Stage: progress.StageJobDone, Dur: 30 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("success")))
	require.Equal(t, float64(0), testutil.ToFloat64(sink.jobsRunning))
}

func TestPrometheusSinkDocumentAndStepCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{JobID: id, TS: time.Now(), Stage: progress.StageFormStep, Site: "deals.example.com",
			Method: progress.MethodDeterministic, Fields: 4},
		{JobID: id, TS: time.Now(), Stage: progress.StageDocStaged, Site: "deals.example.com", Bytes: 4096},
		{JobID: id, TS: time.Now(), Stage: progress.StageDocFailed, Site: "deals.example.com"},
		{JobID: id, TS: time.Now(), Stage: progress.StageFallbackStep, Site: "deals.example.com"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1),
		testutil.ToFloat64(sink.formSteps.WithLabelValues("deals.example.com", "deterministic")))
	require.Equal(t, float64(4),
		testutil.ToFloat64(sink.fieldsFilled.WithLabelValues("deals.example.com")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(sink.documents.WithLabelValues("deals.example.com", "staged")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(sink.documents.WithLabelValues("deals.example.com", "failed")))
	require.Equal(t, float64(4096),
		testutil.ToFloat64(sink.documentBytes.WithLabelValues("deals.example.com")))
	require.Equal(t, float64(1),
		testutil.ToFloat64(sink.fallbackSteps.WithLabelValues("deals.example.com")))
}

func TestPrometheusSinkDoubleStartCountsOnce(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := progress.UUIDToBytes(uuid.New())
	evt := progress.Event{JobID: id, TS: time.Now(), Stage: progress.StageJobStart}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{evt, evt}))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.jobsRunning))
}
