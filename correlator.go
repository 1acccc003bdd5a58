package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CorrelationScheduler queues the write-back of a local id to the identity provider.
// Schedule must not block.
type CorrelationScheduler interface {
	Schedule(externalID, localID string)
}

// MetadataWriter stores a local id in the identity provider's user metadata
type MetadataWriter interface {
	SetLocalID(ctx context.Context, externalID, localID string) error
}

type correlationJob struct {
	externalID string
	localID    string
}

// Correlator writes local ids back to the identity provider in the background.
// Every job is attempted once after a fixed delay; failures are logged only.
type Correlator struct {
	writer  MetadataWriter
	jobs    chan correlationJob
	delay   time.Duration
	timeout time.Duration
	workers int

	// stopped is set when Start shuts down; guarded by mu
	mu      sync.RWMutex
	stopped bool
}

const defaultCorrelationTimeout = 10 * time.Second

// NewCorrelator creates a new correlator instance
func NewCorrelator(writer MetadataWriter, delay, timeout time.Duration, workers, queueSize int) *Correlator {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if delay < 0 {
		delay = 0
	}
	if timeout <= 0 {
		timeout = defaultCorrelationTimeout
	}

	return &Correlator{
		writer:  writer,
		jobs:    make(chan correlationJob, queueSize),
		delay:   delay,
		timeout: timeout,
		workers: workers,
	}
}

// Schedule queues a write-back. A full queue or a stopped correlator drops the job.
func (c *Correlator) Schedule(externalID, localID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.stopped {
		c.drop(correlationJob{externalID: externalID, localID: localID})
		return
	}

	select {
	case c.jobs <- correlationJob{externalID: externalID, localID: localID}:
		logger.Debug("Correlation scheduled",
			zap.String("externalId", externalID),
			zap.String("localId", localID))
	default:
		correlationWritesTotal.WithLabelValues("dropped").Inc()
		logger.Warn("Correlation queue full, dropping write-back",
			zap.String("externalId", externalID),
			zap.String("localId", localID))
	}
}

// Start processes queued jobs until ctx is cancelled. Jobs still queued at
// that point are dropped, and in-flight writes are awaited.
func (c *Correlator) Start(ctx context.Context) {
	logger.Info("Starting correlator",
		zap.Duration("delay", c.delay),
		zap.Duration("timeout", c.timeout),
		zap.Int("workers", c.workers))

	var g errgroup.Group
	g.SetLimit(c.workers)

	for {
		// Shutdown wins over queued jobs
		if ctx.Err() != nil {
			c.stop()
			_ = g.Wait()
			logger.Info("Correlator stopped")
			return
		}

		select {
		case job := <-c.jobs:
			g.Go(func() error {
				c.correlate(ctx, job)
				return nil
			})
		case <-ctx.Done():
		}
	}
}

// stop rejects further jobs and drops everything still queued
func (c *Correlator) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	for {
		select {
		case job := <-c.jobs:
			c.drop(job)
		default:
			return
		}
	}
}

func (c *Correlator) drop(job correlationJob) {
	correlationWritesTotal.WithLabelValues("dropped").Inc()
	logger.Warn("Correlator stopped, dropping write-back",
		zap.String("externalId", job.externalID),
		zap.String("localId", job.localID))
}

// correlate waits for the provider to settle and performs a single write
func (c *Correlator) correlate(ctx context.Context, job correlationJob) {
	if c.delay > 0 {
		timer := time.NewTimer(c.delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			c.drop(job)
			return
		}
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if err := c.writer.SetLocalID(callCtx, job.externalID, job.localID); err != nil {
		correlationWritesTotal.WithLabelValues("failure").Inc()
		logger.Error("Failed to write local id to identity provider",
			zap.String("externalId", job.externalID),
			zap.String("localId", job.localID),
			zap.Error(&CorrelationError{ExternalID: job.externalID, LocalID: job.localID, Err: err}))
		return
	}

	correlationWritesTotal.WithLabelValues("success").Inc()
	logger.Info("Local id written to identity provider",
		zap.String("externalId", job.externalID),
		zap.String("localId", job.localID))
}

// noopScheduler is used when write-back is disabled
type noopScheduler struct{}

func (noopScheduler) Schedule(externalID, localID string) {
	logger.Debug("Correlation disabled, skipping write-back",
		zap.String("externalId", externalID),
		zap.String("localId", localID))
}
