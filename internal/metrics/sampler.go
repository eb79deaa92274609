package metrics

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// QueueStats is the subset of task queue statistics exported as gauges
type QueueStats struct {
	Pending  int64
	Running  int64
	Deferred int64
}

// QueueStatsProvider provides queue statistics for metrics
type QueueStatsProvider interface {
	QueueStats(ctx context.Context) (*QueueStats, error)
}

// Sampler periodically copies queue and process state into gauges
type Sampler struct {
	metrics   *Metrics
	queue     QueueStatsProvider
	interval  time.Duration
	startTime time.Time
	logger    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSampler creates a sampler; queue may be nil
func NewSampler(m *Metrics, queue QueueStatsProvider, interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sampler{
		metrics:   m,
		queue:     queue,
		interval:  interval,
		startTime: time.Now(),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins sampling in the background
func (s *Sampler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop stops sampling and waits for the loop to exit
func (s *Sampler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sample(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sample(ctx)
		}
	}
}

// Sample updates all gauges once
func (s *Sampler) Sample(ctx context.Context) {
	s.metrics.UptimeSeconds.Set(time.Since(s.startTime).Seconds())
	s.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if s.queue == nil {
		return
	}

	stats, err := s.queue.QueueStats(ctx)
	if err != nil {
		s.logger.Warn("failed to sample queue stats", "error", err)
		return
	}
	s.metrics.QueuePending.Set(float64(stats.Pending))
	s.metrics.QueueRunning.Set(float64(stats.Running))
	s.metrics.QueueDeferred.Set(float64(stats.Deferred))
}
