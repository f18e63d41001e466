package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the milestone channel (default 4096).
//   - MaxBatchEvents: flush once this many milestones queue (default 1000).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub collects job milestones from capture workers and fans them out to the
// registered sinks in batches. Workers emit from hot paths (one event per
// filled form step, per staged document), so Emit never blocks: under
// backpressure milestones are dropped rather than stalling a capture.
type Hub struct {
	cfg        Config
	sinks      []Sink
	milestones chan Event
	stopCh     chan struct{}
	doneCh     chan struct{}
	logger     *zap.Logger

	dropThrottle dropThrottle
	dropped      atomic.Int64
	closed       atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine over the supplied sinks. The Hub
// accepts milestones immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:          cfg,
		sinks:        append([]Sink(nil), sinks...),
		milestones:   make(chan Event, cfg.BufferSize),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		logger:       logger,
		dropThrottle: dropThrottle{interval: dropLogInterval},
	}
	go h.pump()
	return h
}

// Emit queues a job milestone for batching. Invalid events are discarded so a
// malformed emitter cannot poison the sinks; a full buffer drops the event
// and logs a rate-limited warning.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid job milestone", zap.Error(err))
		return
	}
	select {
	case h.milestones <- evt:
	default:
		h.dropped.Add(1)
		if h.dropThrottle.Allow(time.Now()) {
			count := h.dropped.Swap(0)
			h.logger.Warn("job milestones dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Close drains queued milestones, flushes the sinks, and blocks until the
// batching goroutine exits. Safe to call more than once.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) pump() {
	defer close(h.doneCh)
	b := newBatcher(h.cfg.MaxBatchEvents, h.cfg.MaxBatchWait)
	defer b.stopTimer()
	for {
		select {
		case evt := <-h.milestones:
			if b.add(evt) {
				h.flush(b.take())
			}
		case <-b.timer.C:
			b.timerActive = false
			if len(b.pending) > 0 {
				h.flush(b.take())
			}
		case <-h.stopCh:
			h.drain(b)
			return
		}
	}
}

// drain empties the milestone channel after stop, flushing full batches along
// the way, then the remainder, then closes the sinks.
func (h *Hub) drain(b *batcher) {
	b.stopTimer()
	for {
		select {
		case evt := <-h.milestones:
			if b.add(evt) {
				h.flush(b.take())
			}
		default:
			if len(b.pending) > 0 {
				h.flush(b.take())
			}
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	baseCtx := h.cfg.BaseContext
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx := baseCtx
		cancel := func() {}
		if h.cfg.SinkTimeout > 0 {
			ctx, cancel = context.WithTimeout(baseCtx, h.cfg.SinkTimeout)
		}
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// batcher accumulates milestones until the size or age threshold trips.
type batcher struct {
	pending     []Event
	maxEvents   int
	maxWait     time.Duration
	timer       *time.Timer
	timerActive bool
}

func newBatcher(maxEvents int, maxWait time.Duration) *batcher {
	t := time.NewTimer(maxWait)
	t.Stop()
	return &batcher{
		pending:   make([]Event, 0, maxEvents),
		maxEvents: maxEvents,
		maxWait:   maxWait,
		timer:     t,
	}
}

// add appends the event and reports whether the batch is full. The age timer
// starts on the first event of a batch.
func (b *batcher) add(evt Event) bool {
	b.pending = append(b.pending, evt)
	if len(b.pending) >= b.maxEvents {
		return true
	}
	if b.maxWait > 0 && !b.timerActive {
		b.timer.Reset(b.maxWait)
		b.timerActive = true
	}
	return false
}

// take hands off the accumulated batch and resets for the next one. Sinks
// keep the returned slice; pending is reallocated rather than reused.
func (b *batcher) take() []Event {
	batch := b.pending
	b.pending = make([]Event, 0, b.maxEvents)
	b.stopTimer()
	return batch
}

func (b *batcher) stopTimer() {
	if !b.timerActive {
		return
	}
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.timerActive = false
}

// dropThrottle rate-limits the backpressure warning so a sustained overload
// does not itself flood the log.
type dropThrottle struct {
	interval time.Duration
	last     atomic.Int64
}

func (d *dropThrottle) Allow(now time.Time) bool {
	if d == nil || d.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := d.last.Load()
	if nano-last < d.interval.Nanoseconds() {
		return false
	}
	return d.last.CompareAndSwap(last, nano)
}
