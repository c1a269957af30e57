package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"bitwise74/attachment-api/internal/metrics"

	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("thumbnail queue full")
	ErrQueueClosed = errors.New("thumbnail queue closed")
)

// ThumbnailJob is one unit of background thumbnail work
type ThumbnailJob struct {
	AttachmentID string
	Run          func(ctx context.Context)
}

// ThumbnailQueue is a bounded worker pool so image decoding can't eat
// all of the CPU the request handlers need
type ThumbnailQueue struct {
	jobs    chan *ThumbnailJob
	workers int
	timeout time.Duration

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
	done     sync.WaitGroup
}

// NewThumbnailQueue creates a queue holding at most size pending jobs
func NewThumbnailQueue(workers, size int, timeout time.Duration) *ThumbnailQueue {
	if workers <= 0 {
		workers = 1
	}

	if timeout <= 0 {
		timeout = time.Minute
	}

	zap.L().Debug("Initializing thumbnail queue", zap.Int("workers", workers), zap.Int("size", size))

	return &ThumbnailQueue{
		jobs:    make(chan *ThumbnailJob, max(size, 0)),
		workers: workers,
		timeout: timeout,
	}
}

func (q *ThumbnailQueue) StartWorkerPool() {
	q.done.Add(q.workers)
	for range q.workers {
		go q.worker()
	}
}

func (q *ThumbnailQueue) worker() {
	defer q.done.Done()

	for job := range q.jobs {
		q.run(job)
	}
}

func (q *ThumbnailQueue) run(job *ThumbnailJob) {
	defer q.inflight.Done()
	defer metrics.ThumbnailQueueDepth.Dec()

	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("Thumbnail job panicked", zap.String("attachment_id", job.AttachmentID), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	start := time.Now()
	job.Run(ctx)

	zap.L().Debug("Thumbnail job finished",
		zap.String("attachment_id", job.AttachmentID),
		zap.Duration("took", time.Since(start)))
}

// Enqueue never blocks, a saturated queue returns ErrQueueFull
func (q *ThumbnailQueue) Enqueue(job *ThumbnailJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.inflight.Add(1)
	metrics.ThumbnailQueueDepth.Inc()

	select {
	case q.jobs <- job:
		return nil
	default:
		metrics.ThumbnailQueueDepth.Dec()
		q.inflight.Done()
		return ErrQueueFull
	}
}

// Wait blocks until every job enqueued so far has finished
func (q *ThumbnailQueue) Wait() {
	q.inflight.Wait()
}

// Stop refuses new jobs, lets the workers drain the queue and waits for them
func (q *ThumbnailQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.done.Wait()
}
