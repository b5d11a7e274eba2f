// Package worker validates batches of Bundles in parallel.
//
// Example usage:
//
//	b := worker.NewBatch(func(ctx context.Context, data []byte) (*validator.Result, error) {
//	    return v.Validate(ctx, data, rs)
//	}, 4)
//	res := b.Run(ctx, []worker.Job{{ID: "a.json", Data: a}, {ID: "b.json", Data: b}})
//	for _, r := range res.Results {
//	    // r.Result is nil when r.Err is set
//	}
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/gofhir/bundlevalidator/pkg/validator"
)

// ErrNoValidator is returned by Run when the batch has no validate function.
var ErrNoValidator = errors.New("no validator configured")

// ValidateFunc validates a single document.
type ValidateFunc func(ctx context.Context, data []byte) (*validator.Result, error)

// Job is one document of a batch.
type Job struct {
	// ID identifies the job in its result, usually a file name.
	ID   string
	Data []byte
}

// JobResult is the outcome of one job.
type JobResult struct {
	ID     string
	Result *validator.Result

	// Err is set when validation did not complete, including jobs that
	// never started because the context was cancelled.
	Err      error
	Duration time.Duration
}

// BatchResult holds the job results in submission order.
type BatchResult struct {
	Results       []JobResult
	CompletedJobs int
	FailedJobs    int
	Duration      time.Duration
}

// Valid reports whether every job completed with a valid result.
func (br *BatchResult) Valid() bool {
	for _, r := range br.Results {
		if r.Err != nil || r.Result == nil || !r.Result.Valid() {
			return false
		}
	}
	return true
}

// ErrorCount returns the number of findings across all results.
func (br *BatchResult) ErrorCount() int {
	n := 0
	for _, r := range br.Results {
		if r.Result != nil {
			n += len(r.Result.Errors)
		}
	}
	return n
}

// Batch runs a ValidateFunc over many jobs with a bounded number of workers.
type Batch struct {
	validate ValidateFunc
	workers  int
}

// NewBatch creates a batch runner. If workers <= 0, it defaults to
// runtime.GOMAXPROCS(0).
func NewBatch(fn ValidateFunc, workers int) *Batch {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Batch{validate: fn, workers: workers}
}

// Workers returns the worker limit.
func (b *Batch) Workers() int { return b.workers }

// Run validates jobs and returns one result per job, in job order.
func (b *Batch) Run(ctx context.Context, jobs []Job) *BatchResult {
	start := time.Now()
	results := make([]JobResult, len(jobs))
	for i, j := range jobs {
		results[i].ID = j.ID
	}

	switch {
	case b.validate == nil:
		for i := range results {
			results[i].Err = ErrNoValidator
		}
	case len(jobs) <= 2 || b.workers == 1:
		for i, j := range jobs {
			b.process(ctx, j, &results[i])
		}
	default:
		b.runParallel(ctx, jobs, results)
	}

	br := &BatchResult{Results: results, Duration: time.Since(start)}
	for _, r := range results {
		if r.Err != nil {
			br.FailedJobs++
		} else {
			br.CompletedJobs++
		}
	}
	return br
}

func (b *Batch) runParallel(ctx context.Context, jobs []Job, results []JobResult) {
	workers := min(b.workers, len(jobs))

	indexes := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range indexes {
				b.process(ctx, jobs[i], &results[i])
			}
		}()
	}

	for i := range jobs {
		indexes <- i
	}
	close(indexes)
	wg.Wait()
}

// process writes into its own slot of the results slice only.
func (b *Batch) process(ctx context.Context, j Job, r *JobResult) {
	if err := ctx.Err(); err != nil {
		r.Err = err
		return
	}
	start := time.Now()
	r.Result, r.Err = b.validate(ctx, j.Data)
	r.Duration = time.Since(start)
}
