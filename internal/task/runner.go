package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/jbweber/yolocloud/internal/deadline"
	"github.com/jbweber/yolocloud/internal/metrics"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 4

var (
	// ErrRunnerStopped is returned when submitting to a stopped Runner.
	ErrRunnerStopped = errors.New("task runner stopped")

	// ErrTaskAborted reports a task cut short by cancellation of the
	// Runner's context, either before it started or while it ran.
	ErrTaskAborted = errors.New("task aborted")
)

// Runner executes tasks on a bounded worker pool.
type Runner struct {
	exec    Executor
	pool    pond.Pool
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	ctx     context.Context
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger task failures are reported to.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics records task outcomes in m.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithTaskTimeout bounds each task's total run time. Zero means no bound
// beyond the per-call timeouts of the hypervisor and store.
func WithTaskTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// WithContext sets the parent context of every task. Canceling it aborts
// queued and running tasks, and their Submit handles report the abort.
func WithContext(ctx context.Context) RunnerOption {
	return func(r *Runner) { r.ctx = ctx }
}

// NewRunner creates a Runner with at most workers tasks in flight.
func NewRunner(exec Executor, workers int, opts ...RunnerOption) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	r := &Runner{
		exec:   exec,
		logger: zap.NewNop(),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pool = pond.NewPool(workers, pond.WithContext(r.ctx))
	return r
}

// Submit queues t and returns without waiting for it. Task failures are
// logged rather than returned, so the handle's error is nil once the task
// has run to completion. It is non-nil when the task never ran or was
// aborted (ErrTaskAborted or the pool's context error).
func (r *Runner) Submit(t Task) (pond.Task, error) {
	if r.pool.Stopped() {
		return nil, ErrRunnerStopped
	}
	return r.pool.SubmitErr(func() error {
		return r.Run(r.ctx, t)
	}), nil
}

// Run executes t on the calling goroutine, logging and counting the outcome.
// It returns ErrTaskAborted when ctx is canceled before or during the task;
// every other outcome, failures included, returns nil.
func (r *Runner) Run(ctx context.Context, t Task) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s for vm %s not started: %w", ErrTaskAborted, t.Name, t.VMID, ctx.Err())
	}

	parent := ctx
	start := time.Now()
	result := metrics.ResultSuccess

	defer func() {
		if p := recover(); p != nil {
			result = metrics.ResultPanic
			r.logger.Error("task panicked",
				zap.String("task", string(t.Name)),
				zap.String("vm_id", t.VMID.String()),
				zap.Any("panic", p))
		}
		r.metrics.ObserveTask(string(t.Name), result, time.Since(start))
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	err := r.exec.Dispatch(ctx, t)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", deadline.ErrTimeout, err)
	}
	if err == nil {
		r.logger.Debug("task completed",
			zap.String("task", string(t.Name)),
			zap.String("vm_id", t.VMID.String()),
			zap.Duration("elapsed", time.Since(start)))
		return nil
	}

	result = metrics.ResultError
	if errors.Is(err, deadline.ErrTimeout) {
		result = metrics.ResultTimeout
	}
	r.logger.Error("task failed",
		zap.String("task", string(t.Name)),
		zap.String("vm_id", t.VMID.String()),
		zap.Error(err))

	if parent.Err() != nil {
		return fmt.Errorf("%w: %w", ErrTaskAborted, err)
	}
	return nil
}

// Stop waits for queued and running tasks to finish and stops the pool.
func (r *Runner) Stop() {
	r.pool.StopAndWait()
}
