// Package workers runs a bounded set of independent workers in parallel,
// tolerating partial failure. A worker that errors, panics, or times out
// contributes a failure record instead of aborting the batch; the batch as
// a whole fails only when fewer workers succeed than the configured minimum.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// DefaultWorkerTimeout bounds each worker independently.
const DefaultWorkerTimeout = 2 * time.Minute

// Worker is one unit of parallel work, e.g. a single review lens.
type Worker[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Success is one worker's output.
type Success[T any] struct {
	Worker string
	Output T
}

// Failure records why a worker produced no output.
type Failure struct {
	Worker   string
	Reason   string
	TimedOut bool
	Panicked bool
}

// Result aggregates a batch. Successes keep submission order.
type Result[T any] struct {
	Successes []Success[T]
	Failures  []Failure

	// MetThreshold is true when enough workers succeeded for downstream
	// synthesis to proceed with partial data.
	MetThreshold bool
}

// Options configures a batch run.
type Options struct {
	// Timeout applies per worker, not to the batch. Zero means
	// DefaultWorkerTimeout.
	Timeout time.Duration

	// MinSuccess is the minimum number of successful workers for the batch
	// to pass. Zero means all workers must succeed.
	MinSuccess int

	Logger *slog.Logger
}

// Execute fans the workers out, each with its own timeout, and joins the
// results. It never returns an error for individual worker failures; the
// only error case is an empty batch.
func Execute[T any](ctx context.Context, batch []Worker[T], opts Options) (*Result[T], error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("parallel batch is empty")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultWorkerTimeout
	}

	minSuccess := opts.MinSuccess
	if minSuccess <= 0 || minSuccess > len(batch) {
		minSuccess = len(batch)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "workers")

	type outcome struct {
		success *Success[T]
		failure *Failure
	}

	outcomes := make([]outcome, len(batch))

	var wg sync.WaitGroup

	for i, worker := range batch {
		wg.Add(1)

		go func() {
			defer wg.Done()

			workerCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			output, err := runOne(workerCtx, worker)

			switch {
			case err == nil:
				outcomes[i].success = &Success[T]{Worker: worker.Name, Output: output}

			case errors.Is(err, context.DeadlineExceeded):
				outcomes[i].failure = &Failure{
					Worker:   worker.Name,
					Reason:   fmt.Sprintf("timed out after %s", timeout),
					TimedOut: true,
				}

			default:
				failure := &Failure{Worker: worker.Name, Reason: err.Error()}
				if _, panicked := err.(*workerPanic); panicked {
					failure.Panicked = true
				}

				outcomes[i].failure = failure
			}
		}()
	}

	wg.Wait()

	result := &Result[T]{}

	for _, o := range outcomes {
		if o.success != nil {
			result.Successes = append(result.Successes, *o.success)

			continue
		}

		result.Failures = append(result.Failures, *o.failure)
		logger.WarnContext(ctx, "Worker failed",
			"worker", o.failure.Worker,
			"reason", o.failure.Reason,
			"timed_out", o.failure.TimedOut)
	}

	result.MetThreshold = len(result.Successes) >= minSuccess

	if !result.MetThreshold {
		logger.ErrorContext(ctx, "Parallel batch below success threshold",
			"successes", len(result.Successes),
			"failures", len(result.Failures),
			"min_success", minSuccess)
	}

	return result, nil
}

type workerPanic struct {
	value any
	stack []byte
}

func (p *workerPanic) Error() string {
	return fmt.Sprintf("worker panicked: %v", p.value)
}

// runOne invokes the worker body in its own goroutine so a timeout is
// observed even when the body ignores ctx. A late result from an abandoned
// body is dropped.
func runOne[T any](ctx context.Context, worker Worker[T]) (T, error) {
	type reply struct {
		output T
		err    error
	}

	replies := make(chan reply, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				replies <- reply{output: zero, err: &workerPanic{value: r, stack: debug.Stack()}}
			}
		}()

		output, err := worker.Run(ctx)
		replies <- reply{output: output, err: err}
	}()

	select {
	case r := <-replies:
		return r.output, r.err
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	}
}
