// Package tasks runs long model operations off the update goroutines.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/storylens/core/logger"
)

var (
	ErrQueueFull   = errors.New("tasks: queue is full")
	ErrQueueClosed = errors.New("tasks: runner is closed")
)

// Task is one unit of background work.
type Task struct {
	Name   string
	UserID string
	// Timeout bounds Run; zero means no deadline.
	Timeout time.Duration
	Run     func(ctx context.Context) error
	// OnError is called with the failure, including deadline and panic errors.
	OnError func(ctx context.Context, err error)
}

// Info describes a running task.
type Info struct {
	Name     string
	UserID   string
	Started  time.Time
	Deadline time.Time
}

// Stats are cumulative runner counters.
type Stats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	Rejected  uint64
	Queued    int
}

// Options size the runner.
type Options struct {
	Workers   int
	QueueSize int
}

type job struct {
	id   uint64
	ctx  context.Context
	task Task
}

// Runner is a fixed pool of workers reading from a bounded queue.
type Runner struct {
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	runningMu sync.Mutex
	running   map[uint64]Info

	seq       atomic.Uint64
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// New starts a runner with opts.Workers goroutines.
func New(opts Options) *Runner {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 64
	}
	r := &Runner{
		jobs:    make(chan job, size),
		running: make(map[uint64]Info),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	logger.Tasks.LogAttrs(context.Background(), slog.LevelInfo, "tasks.start",
		slog.Int("count", workers),
		slog.Int("queue", size),
	)
	return r
}

// Submit enqueues t without blocking. The task inherits ctx values but not its cancellation.
func (r *Runner) Submit(ctx context.Context, t Task) error {
	if t.Run == nil {
		return fmt.Errorf("tasks: %s: nil run func", t.Name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrQueueClosed
	}
	j := job{id: r.seq.Add(1), ctx: context.WithoutCancel(ctx), task: t}
	select {
	case r.jobs <- j:
		r.submitted.Add(1)
		return nil
	default:
		r.rejected.Add(1)
		logger.Tasks.LogAttrs(ctx, slog.LevelWarn, "task.rejected",
			slog.String("status", "fail"),
			slog.String("task", t.Name),
			slog.String("user_id", t.UserID),
			slog.Int("queue", len(r.jobs)),
		)
		return ErrQueueFull
	}
}

// InFlight returns the running tasks ordered by start time.
func (r *Runner) InFlight() []Info {
	r.runningMu.Lock()
	out := make([]Info, 0, len(r.running))
	for _, info := range r.running {
		out = append(out, info)
	}
	r.runningMu.Unlock()
	slices.SortFunc(out, func(a, b Info) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return out
}

// Stats returns a counter snapshot.
func (r *Runner) Stats() Stats {
	return Stats{
		Submitted: r.submitted.Load(),
		Completed: r.completed.Load(),
		Failed:    r.failed.Load(),
		Rejected:  r.rejected.Load(),
		Queued:    len(r.jobs),
	}
}

// Close stops accepting tasks and waits for queued ones to finish or ctx to end.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Tasks.LogAttrs(ctx, slog.LevelInfo, "tasks.stopped",
			slog.String("status", "ok"),
			slog.Uint64("count", r.completed.Load()),
		)
		return nil
	case <-ctx.Done():
		logger.Tasks.LogAttrs(ctx, slog.LevelWarn, "tasks.stopped",
			slog.String("status", "timeout"),
			slog.Int("in_flight", len(r.InFlight())),
		)
		return ctx.Err()
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for j := range r.jobs {
		r.execute(j)
	}
}

func (r *Runner) execute(j job) {
	t := j.task
	ctx := logger.WithTask(j.ctx, t.Name)
	cancel := context.CancelFunc(func() {})
	if t.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
	}
	defer cancel()

	start := time.Now()
	info := Info{Name: t.Name, UserID: t.UserID, Started: start}
	if dl, ok := ctx.Deadline(); ok {
		info.Deadline = dl
	}
	r.runningMu.Lock()
	r.running[j.id] = info
	r.runningMu.Unlock()
	defer func() {
		r.runningMu.Lock()
		delete(r.running, j.id)
		r.runningMu.Unlock()
	}()

	err := runSafe(ctx, t.Run)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	took := logger.Took(start)
	if err == nil {
		r.completed.Add(1)
		logger.Tasks.LogAttrs(ctx, slog.LevelInfo, "task.done",
			slog.String("status", "ok"),
			slog.String("user_id", t.UserID),
			slog.Duration("duration", took),
		)
		return
	}

	r.failed.Add(1)
	logger.Tasks.LogAttrs(ctx, slog.LevelError, "task.done",
		slog.String("status", logger.Status(err)),
		slog.String("user_id", t.UserID),
		slog.Duration("duration", took),
		slog.String("err", err.Error()),
	)
	if t.OnError != nil {
		// the task context may be expired; failure handling gets its own budget
		errCtx, errCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer errCancel()
		_ = runSafe(errCtx, func(c context.Context) error {
			t.OnError(c, err)
			return nil
		})
	}
}

func runSafe(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tasks: panic: %v", rec)
		}
	}()
	return fn(ctx)
}
