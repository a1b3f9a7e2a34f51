// Package jobs executes collections of independent work items concurrently
// under a fixed worker cap, returning results in submission order.
//
// Run admits every job immediately and lets a permit pool bound how many
// execute at once. BatchGather trades the rolling window for coarse
// sequential batches with a hard barrier between them. Both wait for every
// admitted job to settle before reporting failure, and a failure is
// all-or-error: no partial results are returned.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultWorkers bounds concurrent execution in Run.
	DefaultWorkers = 4

	// DefaultBatchSize is the chunk length used by BatchGather.
	DefaultBatchSize = 10
)

var (
	ErrInvalidWorkers   = errors.New("jobs: worker count must be at least 1")
	ErrInvalidBatchSize = errors.New("jobs: batch size must be at least 1")
)

// Job is one independently schedulable unit of work. Jobs receive the
// context passed to the runner and should honor its cancellation at their
// own suspension points; the runner itself only aborts jobs still waiting
// for a permit.
type Job[T any] func(ctx context.Context) (T, error)

type options struct {
	workers   int
	batchSize int
	progress  func(completed, total int)
}

// Option configures a runner call.
type Option func(*options)

// WithWorkers sets the concurrency cap for Run. Default DefaultWorkers.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithBatchSize sets the chunk length for BatchGather. Default
// DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithProgress registers a callback invoked as work settles: after every job
// in Run, after every chunk in BatchGather. Counts are cumulative.
// Invocations are serialized; the callback must not block for long and
// cannot affect results or ordering.
func WithProgress(fn func(completed, total int)) Option {
	return func(o *options) { o.progress = fn }
}

func newOptions(opts []Option) options {
	o := options{
		workers:   DefaultWorkers,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Run executes all jobs with at most the configured number running
// concurrently and returns their results in submission order: the result at
// index i belongs to jobs[i] for every completion order.
//
// Every job is admitted up front; each acquires one permit before running
// and releases it when it settles, success or failure. A failing job does
// not cancel its siblings: Run waits for all admitted jobs and then returns
// nil results with the individual errors joined (errors.Is and errors.As
// reach each one). An empty job list returns an empty slice immediately.
func Run[T any](ctx context.Context, jobs []Job[T], opts ...Option) ([]T, error) {
	o := newOptions(opts)
	if o.workers < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkers, o.workers)
	}

	var (
		results = make([]T, len(jobs))
		errs    = make([]error, len(jobs))
		sem     = semaphore.NewWeighted(int64(o.workers))
		track   = newTracker(o.progress, len(jobs))
		wg      sync.WaitGroup
	)
	for i, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				errs[i] = fmt.Errorf("acquire worker: %w", err)
				return
			}
			defer sem.Release(1)
			results[i], errs[i] = job(ctx)
			track.advance(1)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return results, nil
}

// BatchGather partitions jobs into contiguous chunks of the configured batch
// size and runs chunk after chunk: every job of chunk N settles before chunk
// N+1 starts. Within a chunk all jobs run concurrently with no cap beyond
// the chunk length; the final chunk may be short. Results are concatenated
// in submission order.
//
// Failure semantics match Run, scoped to the running chunk: its jobs all
// settle, the call returns nil results with the joined errors, and later
// chunks never start.
func BatchGather[T any](ctx context.Context, jobs []Job[T], opts ...Option) ([]T, error) {
	o := newOptions(opts)
	if o.batchSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, o.batchSize)
	}

	results := make([]T, 0, len(jobs))
	track := newTracker(o.progress, len(jobs))
	for start := 0; start < len(jobs); start += o.batchSize {
		end := min(start+o.batchSize, len(jobs))
		chunk, err := gather(ctx, jobs[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, chunk...)
		track.advance(end - start)
	}
	return results, nil
}

// gather runs every job concurrently, waits for all, and joins failures.
func gather[T any](ctx context.Context, jobs []Job[T]) ([]T, error) {
	var (
		results = make([]T, len(jobs))
		errs    = make([]error, len(jobs))
		wg      sync.WaitGroup
	)
	for i, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = job(ctx)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return results, nil
}

// tracker serializes progress callbacks and keeps the cumulative count.
type tracker struct {
	mu        sync.Mutex
	fn        func(completed, total int)
	completed int
	total     int
}

func newTracker(fn func(completed, total int), total int) *tracker {
	return &tracker{fn: fn, total: total}
}

func (t *tracker) advance(n int) {
	if t.fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed += n
	t.fn(t.completed, t.total)
}
