package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// pool is the fixed set of long-running grading workers draining the
// shared queue.
type pool struct {
	queue   *Queue
	size    int
	process func(ctx context.Context, workerID int, job Job)

	wg sync.WaitGroup
}

func newPool(queue *Queue, size int, process func(ctx context.Context, workerID int, job Job)) *pool {
	return &pool{queue: queue, size: size, process: process}
}

// start launches the workers. They run until ctx is cancelled.
func (p *pool) start(ctx context.Context) {
	for i := 1; i <= p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	slog.Info("started grading workers", "count", p.size)
}

func (p *pool) run(ctx context.Context, workerID int) {
	defer p.wg.Done()
	slog.Debug("grading worker started", "worker", workerID)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("grading worker stopping", "worker", workerID)
			return
		case job := <-p.queue.Jobs():
			p.safeProcess(ctx, workerID, job)
		}
	}
}

// safeProcess confines any job failure, including a panic, to the single
// job. Nothing a job does may take down the worker loop.
func (p *pool) safeProcess(ctx context.Context, workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing grading job",
				"worker", workerID, "job", job.ID, "tenant", job.TenantID, "panic", r)
		}
	}()
	p.process(ctx, workerID, job)
}

// wait blocks until every worker has exited or the grace period elapses.
// It reports whether shutdown was clean.
func (p *pool) wait(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		slog.Warn("grading workers did not stop within grace period", "grace", grace)
		return false
	}
}
