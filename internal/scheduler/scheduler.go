// Package scheduler runs recurring jobs one at a time in due order.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/abay-monitor/internal/metrics"
)

var (
	// ErrStopped is returned when adding to or running a stopped scheduler.
	ErrStopped = errors.New("scheduler: stopped")
	// ErrUnknownJob is returned by RunNow for a name never added.
	ErrUnknownJob = errors.New("scheduler: unknown job")
	// ErrDuplicateJob is returned when a job name is added twice.
	ErrDuplicateJob = errors.New("scheduler: duplicate job")
	// ErrPanic wraps a panic recovered from a task.
	ErrPanic = errors.New("scheduler: task panicked")
)

// Task is the work of one job run.
type Task func(ctx context.Context) error

// Job is a named task repeated every Interval. The first run is due
// immediately.
type Job struct {
	Name     string
	Interval time.Duration
	Task     Task
}

// JobStats describes a job's history.
type JobStats struct {
	Name     string
	Interval time.Duration
	Next     time.Time
	LastRun  time.Time
	LastErr  error
	Runs     int
	Failures int
}

// Scheduler owns a set of jobs and runs them sequentially. A run that
// overruns the next due time delays that run; runs never overlap.
type Scheduler struct {
	mu      sync.Mutex
	heap    jobHeap
	jobs    map[string]*entry
	wakeup  chan struct{}
	stopped bool

	// exec serializes task execution between Run and RunNow.
	exec sync.Mutex

	onSuccess func(ctx context.Context, name string)
	onFailure func(ctx context.Context, name string, err error)

	logger *zap.Logger
	now    func() time.Time
}

// New creates an empty scheduler
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		heap:   make(jobHeap, 0),
		jobs:   make(map[string]*entry),
		wakeup: make(chan struct{}, 1),
		logger: logger,
		now:    time.Now,
	}
}

// OnSuccess sets a hook called after every successful run.
func (s *Scheduler) OnSuccess(fn func(ctx context.Context, name string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSuccess = fn
}

// OnFailure sets a hook called after every failed run.
func (s *Scheduler) OnFailure(fn func(ctx context.Context, name string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = fn
}

// Add registers a job
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Task == nil || job.Interval <= 0 {
		return fmt.Errorf("invalid job %q: name, task and positive interval are required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}

	e := &entry{job: job, next: s.now()}
	heap.Push(&s.heap, e)
	s.jobs[job.Name] = e

	select {
	case s.wakeup <- struct{}{}:
	default:
	}
	return nil
}

// Run executes due jobs until ctx is cancelled. It returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		var due *entry
		wait := 24 * time.Hour
		if s.heap.Len() > 0 {
			if d := s.heap[0].next.Sub(s.now()); d <= 0 {
				due = s.heap[0]
			} else {
				wait = d
			}
		}
		s.mu.Unlock()

		if due != nil {
			s.execute(ctx, due)
			s.reschedule(due)
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// RunNow runs a job immediately, waiting for any run in progress. The
// job's regular schedule is unchanged.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	stopped := s.stopped
	s.mu.Unlock()

	if stopped {
		return ErrStopped
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, e)
}

// Stats returns a snapshot of every job, in due order.
func (s *Scheduler) Stats() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStats, 0, len(s.heap))
	for _, e := range s.heap {
		out = append(out, JobStats{
			Name:     e.job.Name,
			Interval: e.job.Interval,
			Next:     e.next,
			LastRun:  e.lastRun,
			LastErr:  e.lastErr,
			Runs:     e.runs,
			Failures: e.failures,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

func (s *Scheduler) execute(ctx context.Context, e *entry) error {
	s.exec.Lock()
	defer s.exec.Unlock()

	start := s.now()
	err := safeRun(ctx, e.job.Task)
	elapsed := s.now().Sub(start)
	metrics.ObserveJob(e.job.Name, err, elapsed)

	s.mu.Lock()
	e.runs++
	e.lastRun = start
	e.lastErr = err
	if err != nil {
		e.failures++
	}
	onSuccess, onFailure := s.onSuccess, s.onFailure
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Job failed",
			zap.String("job", e.job.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		if onFailure != nil {
			onFailure(ctx, e.job.Name, err)
		}
		return err
	}

	s.logger.Debug("Job finished", zap.String("job", e.job.Name), zap.Duration("elapsed", elapsed))
	if onSuccess != nil {
		onSuccess(ctx, e.job.Name)
	}
	return nil
}

// reschedule moves e to its next slot. Missed slots are not replayed.
func (s *Scheduler) reschedule(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := e.next.Add(e.job.Interval)
	if next.Before(now) {
		s.logger.Warn("Job overran its interval",
			zap.String("job", e.job.Name),
			zap.Duration("interval", e.job.Interval),
			zap.Duration("late", now.Sub(next)),
		)
		next = now
	}
	e.next = next
	if e.index >= 0 {
		heap.Fix(&s.heap, e.index)
	}
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return task(ctx)
}
