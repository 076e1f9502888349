package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shouni/go-storyboard-kit/pkg/domain"
)

// LocalDispatcher はプロセス内のチャネルとワーカーゴルーチンでジョブを実行します。
type LocalDispatcher struct {
	queue       chan Job
	workers     int
	maxAttempts int
	registry    *JobRegistry

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	handler Handler
}

var _ Dispatcher = (*LocalDispatcher)(nil)

// NewLocalDispatcher は LocalDispatcher を生成します。
func NewLocalDispatcher(workers, depth, maxAttempts int, registry *JobRegistry) *LocalDispatcher {
	return &LocalDispatcher{
		queue:       make(chan Job, max(depth, 1)),
		workers:     max(workers, 1),
		maxAttempts: max(maxAttempts, 1),
		registry:    registry,
	}
}

func (d *LocalDispatcher) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("handler は必須です")
	}
	d.handler = handler
	for range d.workers {
		d.wg.Add(1)
		go d.work(ctx)
	}
	return nil
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	d.registry.Set(job, JobQueued, nil)
	select {
	case d.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *LocalDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}

func (d *LocalDispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-d.queue:
			if !ok {
				return
			}
			d.run(ctx, job)
		}
	}
}

// run は再試行を含めてジョブを実行します。再投入はキューを経由せずにその場で行います。
func (d *LocalDispatcher) run(ctx context.Context, job Job) {
	logger := slog.With("job_id", job.ID, "job_kind", job.Kind, "project_id", job.ProjectID)
	for {
		job.Attempt++
		d.registry.Set(job, JobRunning, nil)
		err := d.handler(ctx, job)
		if err == nil {
			d.registry.Set(job, JobSucceeded, nil)
			logger.InfoContext(ctx, "Job finished", "attempt", job.Attempt)
			return
		}
		if job.Attempt >= d.maxAttempts || domain.IsFatal(err) || ctx.Err() != nil {
			d.registry.Set(job, JobFailed, err)
			logger.ErrorContext(ctx, "Job failed", "attempt", job.Attempt, "error", err)
			return
		}
		logger.WarnContext(ctx, "Job failed; retrying", "attempt", job.Attempt, "error", err)
	}
}
