package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dealbridge/dealroom-capture/internal/progress"
)

// PrometheusSink exports capture progress metrics via Prometheus. It owns
// all collectors for jobs started/completed/running and per-site document
// and form-step counters.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	formSteps     *prometheus.CounterVec
	fieldsFilled  *prometheus.CounterVec
	documents     *prometheus.CounterVec
	documentBytes *prometheus.CounterVec
	fallbackSteps *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_progress_jobs_started_total",
			Help: "Total capture jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_progress_jobs_completed_total",
			Help: "Total capture jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "capture_progress_jobs_running",
			Help: "Current number of running capture jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capture_progress_job_runtime_seconds",
			Help:    "Wall time per completed capture job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		formSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_progress_form_steps_total",
			Help: "Form steps completed partitioned by site and method.",
		}, []string{"site", "method"}),
		fieldsFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_progress_fields_filled_total",
			Help: "Form fields filled per site.",
		}, []string{"site"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_progress_documents_total",
			Help: "Documents staged or failed partitioned by site and outcome.",
		}, []string{"site", "outcome"}),
		documentBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_progress_document_bytes_total",
			Help: "Bytes staged per site.",
		}, []string{"site"}),
		fallbackSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_progress_fallback_steps_total",
			Help: "Assisted fallback steps per site.",
		}, []string{"site"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.formSteps,
		s.fieldsFilled,
		s.documents,
		s.documentBytes,
		s.fallbackSteps,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart, progress.StageJobDone, progress.StageJobError:
		s.handleJobEvent(evt)
	case progress.StageFormStep:
		s.handleFormStep(evt)
	case progress.StageDocStaged:
		s.documents.WithLabelValues(site(evt), "staged").Inc()
		if evt.Bytes > 0 {
			s.documentBytes.WithLabelValues(site(evt)).Add(float64(evt.Bytes))
		}
	case progress.StageDocFailed:
		s.documents.WithLabelValues(site(evt), "failed").Inc()
	case progress.StageFallbackStep:
		s.fallbackSteps.WithLabelValues(site(evt)).Inc()
	}
}

func (s *PrometheusSink) handleJobEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageJobStart && s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFormStep(evt progress.Event) {
	method := string(evt.Method)
	if method == "" {
		method = string(progress.MethodDeterministic)
	}
	s.formSteps.WithLabelValues(site(evt), method).Inc()
	if evt.Fields > 0 {
		s.fieldsFilled.WithLabelValues(site(evt)).Add(float64(evt.Fields))
	}
}

func site(evt progress.Event) string {
	if evt.Site == "" {
		return "unknown"
	}
	return evt.Site
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[[16]byte]struct{})}
}

func (t *jobTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
