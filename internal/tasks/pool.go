package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrTaskTimeout marks a job that outlived the pool's per-task limit.
var ErrTaskTimeout = errors.New("task exceeded its time limit")

// Job is one unit of pool work. Run may call release to lift its deadline
// for the rest of its life; release reports false once the deadline has
// already passed.
type Job struct {
	ID   uuid.UUID
	Name string
	Run  func(ctx context.Context, release func() bool) error
}

const (
	deadlineArmed int32 = iota
	deadlineReleased
	deadlineExpired
)

// Pool runs jobs on independent goroutines, at most limit at a time, each
// under its own deadline.
type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *zap.Logger
}

func NewPool(limit int, timeout time.Duration, logger *zap.Logger) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(limit)),
		timeout: timeout,
		logger:  logger,
	}
}

// Run dispatches every job and blocks until each has returned or been
// abandoned. onResult is called exactly once per job. The returned error
// combines every job failure.
func (p *Pool) Run(ctx context.Context, jobs []Job, onResult func(Job, error)) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	record := func(job Job, err error) {
		if onResult != nil {
			onResult(job, err)
		}
		if err != nil {
			mu.Lock()
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name, err))
			mu.Unlock()
		}
	}

	for _, job := range jobs {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			record(job, fmt.Errorf("acquire worker slot: %w", err))
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			defer p.sem.Release(1)
			record(job, p.runOne(ctx, job))
		}(job)
	}

	wg.Wait()
	return errs
}

// runOne waits for job or its deadline, whichever comes first. A job still
// running at the deadline has its context cancelled and is not waited for.
// A released job is waited for until it returns or ctx ends.
func (p *Pool) runOne(ctx context.Context, job Job) error {
	taskCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var state atomic.Int32
	expired := make(chan struct{})
	timer := time.AfterFunc(p.timeout, func() {
		if state.CompareAndSwap(deadlineArmed, deadlineExpired) {
			cancel(ErrTaskTimeout)
			close(expired)
		}
	})
	defer timer.Stop()
	release := func() bool {
		return state.CompareAndSwap(deadlineArmed, deadlineReleased) || state.Load() == deadlineReleased
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		done <- job.Run(taskCtx, release)
	}()

	var err error
	select {
	case err = <-done:
	case <-expired:
	case <-ctx.Done():
	}
	// Whatever ended the wait, the deadline can no longer fire.
	state.CompareAndSwap(deadlineArmed, deadlineReleased)
	if ctx.Err() == nil && state.Load() == deadlineExpired {
		p.logger.Warn("task exceeded its time limit, terminating",
			zap.String("task", job.Name),
			zap.Stringer("task_id", job.ID),
			zap.Duration("timeout", p.timeout),
		)
		return fmt.Errorf("%w (%s)", ErrTaskTimeout, p.timeout)
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}
