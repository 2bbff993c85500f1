package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"bookreader/document"
)

// Job produces one illustration. It runs off the loop and may block on the network.
type Job func(ctx context.Context) (document.Illustration, error)

// Result is delivered once per dispatched job: either an illustration or the reason there is none.
type Result struct {
	Illustration document.Illustration
	Err          error
}

// Options tune the dispatcher.
type Options struct {
	// Workers bounds concurrently running jobs. Defaults to 1.
	Workers int64
	// Timeout bounds each job. Zero disables the deadline.
	Timeout time.Duration
	// Interval enforces a minimum spacing between job starts. Zero disables it.
	Interval time.Duration
}

// Dispatcher runs generation jobs on worker goroutines and marshals each
// result back onto the owning loop.
type Dispatcher struct {
	poster  Poster
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// New creates a dispatcher that delivers results through poster.
func New(poster Poster, opts Options, log zerolog.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	d := &Dispatcher{
		poster:  poster,
		sem:     semaphore.NewWeighted(opts.Workers),
		timeout: opts.Timeout,
		log:     log.With().Str("component", "dispatcher").Logger(),
	}
	if opts.Interval > 0 {
		d.limiter = rate.NewLimiter(rate.Every(opts.Interval), 1)
	}
	return d
}

// Handle tracks one dispatched job.
type Handle struct {
	done chan struct{}
}

// Done is closed after the result has been delivered on the loop, or once the
// result has been dropped because the loop was closed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Dispatch runs job on a worker and invokes deliver exactly once, on the loop.
// If the loop is closed before the job finishes, deliver is never called and
// the result is only logged; Done is closed either way.
// There is no way to cancel a job once dispatched; only the configured timeout ends it early.
func (d *Dispatcher) Dispatch(job Job, deliver func(Result)) *Handle {
	h := &Handle{done: make(chan struct{})}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		res := d.run(job)
		if res.Err != nil {
			d.log.Error().Err(res.Err).Msg("generation job failed")
		} else {
			d.log.Info().Int("target_block", res.Illustration.TargetBlock).Msg("generation job finished")
		}
		posted := d.poster.Post(func() {
			defer close(h.done)
			deliver(res)
		})
		if !posted {
			d.log.Warn().Err(res.Err).Msg("loop closed, generation result dropped")
			close(h.done)
		}
	}()
	return h
}

// Wait blocks until every dispatched job has handed its result to the loop.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(job Job) (res Result) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return Result{Err: fmt.Errorf("waiting for a worker: %w", err)}
	}
	defer d.sem.Release(1)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Result{Err: fmt.Errorf("waiting for the rate limiter: %w", err)}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("generation job panicked: %v", r)}
		}
	}()

	ill, err := job(ctx)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Illustration: ill}
}
