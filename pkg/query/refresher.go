package query

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"escola-client/pkg/metrics"
)

// Refresher runs background revalidations on a bounded worker pool so that
// Read never waits for the network.
type Refresher struct {
	queue      chan refreshJob
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     RefresherConfig
	metrics    metrics.MetricsCollector

	// Statistics (accessed atomically)
	pending int64
	dropped int64
	total   int64
	failed  int64
	closing atomic.Bool

	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

// refreshJob is one queued revalidation.
type refreshJob struct {
	entity string
	run    func() error
}

// RefresherConfig configures the refresh worker pool.
type RefresherConfig struct {
	// QueueSize is the bounded queue size (default: 256)
	QueueSize int `koanf:"queue_size"`

	// Workers is the number of concurrent background fetches (default: 4)
	Workers int `koanf:"workers"`

	// MaxWaitTime is how long Submit waits for queue space before dropping
	// the refresh (default: 10ms)
	MaxWaitTime time.Duration `koanf:"max_wait"`

	// MetricsInterval is how often the queue depth is reported (default: 5s)
	MetricsInterval time.Duration `koanf:"metrics_interval"`
}

// DefaultRefresherConfig returns the default worker pool configuration.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		QueueSize:       256,
		Workers:         4,
		MaxWaitTime:     10 * time.Millisecond,
		MetricsInterval: 5 * time.Second,
	}
}

// NewRefresher creates a worker pool that starts processing immediately
// and must be closed with Close().
func NewRefresher(config RefresherConfig, collector metrics.MetricsCollector) *Refresher {
	defaults := DefaultRefresherConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = defaults.MaxWaitTime
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = defaults.MetricsInterval
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Refresher{
		queue:         make(chan refreshJob, config.QueueSize),
		ctx:           ctx,
		cancelFunc:    cancel,
		config:        config,
		metrics:       collector,
		metricsTicker: time.NewTicker(config.MetricsInterval),
		metricsStop:   make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}

	go r.reportMetrics()

	return r
}

// Submit enqueues a refresh. If the queue is full it waits up to
// MaxWaitTime before dropping the refresh with ErrQueueFull.
func (r *Refresher) Submit(entity string, run func() error) error {
	if r.closing.Load() {
		return ErrRefresherClosed
	}

	job := refreshJob{entity: entity, run: run}
	atomic.AddInt64(&r.pending, 1)

	select {
	case r.queue <- job:
		atomic.AddInt64(&r.total, 1)
		return nil
	default:
	}

	if r.config.MaxWaitTime < 0 {
		return r.drop(entity)
	}

	timer := time.NewTimer(r.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case r.queue <- job:
		atomic.AddInt64(&r.total, 1)
		return nil
	case <-timer.C:
		return r.drop(entity)
	case <-r.ctx.Done():
		atomic.AddInt64(&r.pending, -1)
		return ErrRefresherClosed
	}
}

func (r *Refresher) drop(entity string) error {
	atomic.AddInt64(&r.pending, -1)
	atomic.AddInt64(&r.dropped, 1)
	r.metrics.RecordRefreshDropped(entity)
	return ErrQueueFull
}

// worker processes refreshes from the queue.
func (r *Refresher) worker() {
	defer r.wg.Done()

	for {
		select {
		case job := <-r.queue:
			r.process(job)
		case <-r.ctx.Done():
			// Drain what is already queued; the jobs observe the store's
			// cancelled context and settle quickly.
			for {
				select {
				case job := <-r.queue:
					r.process(job)
				default:
					return
				}
			}
		}
	}
}

func (r *Refresher) process(job refreshJob) {
	defer atomic.AddInt64(&r.pending, -1)
	if err := job.run(); err != nil {
		atomic.AddInt64(&r.failed, 1)
	}
}

// Flush waits until every submitted refresh has finished or the timeout elapses.
func (r *Refresher) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if atomic.LoadInt64(&r.pending) == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}

		time.Sleep(time.Millisecond)
	}
}

// Close stops accepting refreshes and waits for the workers to finish.
func (r *Refresher) Close() error {
	if !r.closing.CompareAndSwap(false, true) {
		return nil
	}

	close(r.metricsStop)
	r.metricsTicker.Stop()

	r.cancelFunc()
	r.wg.Wait()

	return nil
}

// reportMetrics periodically reports queue depth.
func (r *Refresher) reportMetrics() {
	for {
		select {
		case <-r.metricsTicker.C:
			r.metrics.RecordQueueDepth(len(r.queue))
		case <-r.metricsStop:
			return
		}
	}
}

// RefresherStats provides statistics about background refreshes.
type RefresherStats struct {
	// QueueDepth is the current number of queued refreshes
	QueueDepth int `json:"queue_depth"`

	// Pending is the number of refreshes queued or running
	Pending int64 `json:"pending"`

	// Dropped is the total number of refreshes dropped due to backpressure
	Dropped int64 `json:"dropped"`

	// Total is the total number of refreshes accepted
	Total int64 `json:"total"`

	// Failed is the total number of refreshes whose fetch failed
	Failed int64 `json:"failed"`
}

// Stats returns current statistics about the refresher.
func (r *Refresher) Stats() RefresherStats {
	return RefresherStats{
		QueueDepth: len(r.queue),
		Pending:    atomic.LoadInt64(&r.pending),
		Dropped:    atomic.LoadInt64(&r.dropped),
		Total:      atomic.LoadInt64(&r.total),
		Failed:     atomic.LoadInt64(&r.failed),
	}
}
