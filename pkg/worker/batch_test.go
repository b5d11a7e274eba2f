package worker

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofhir/bundlevalidator/pkg/issue"
	"github.com/gofhir/bundlevalidator/pkg/validator"
)

// countingFunc reports one finding per byte and fails on "fail".
func countingFunc(calls *atomic.Int32, delay time.Duration) ValidateFunc {
	return func(ctx context.Context, data []byte) (*validator.Result, error) {
		calls.Add(1)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if string(data) == "fail" {
			return nil, errors.New("boom")
		}
		res := &validator.Result{}
		for range data {
			res.Errors = append(res.Errors, issue.ValidationError{Severity: issue.SeverityError})
		}
		res.Summary = issue.Summarize(res.Errors)
		return res, nil
	}
}

func jobs(payloads ...string) []Job {
	out := make([]Job, len(payloads))
	for i, p := range payloads {
		out[i] = Job{ID: strconv.Itoa(i), Data: []byte(p)}
	}
	return out
}

func TestBatch_DefaultWorkers(t *testing.T) {
	b := NewBatch(nil, 0)
	if b.Workers() <= 0 {
		t.Errorf("Workers() = %d; want > 0", b.Workers())
	}
}

func TestBatch_Order(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		jobs    []Job
	}{
		{"sequential", 1, jobs("a", "bb", "ccc", "", "dddd")},
		{"small", 4, jobs("a", "bb")},
		{"parallel", 3, jobs("a", "bb", "ccc", "", "dddd", "eeeee", "ffffff")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			res := NewBatch(countingFunc(&calls, time.Millisecond), tt.workers).Run(context.Background(), tt.jobs)

			if int(calls.Load()) != len(tt.jobs) {
				t.Errorf("calls = %d; want %d", calls.Load(), len(tt.jobs))
			}
			if len(res.Results) != len(tt.jobs) {
				t.Fatalf("got %d results; want %d", len(res.Results), len(tt.jobs))
			}
			want := 0
			for i, r := range res.Results {
				if r.ID != tt.jobs[i].ID {
					t.Errorf("result %d has ID %q; want %q", i, r.ID, tt.jobs[i].ID)
				}
				if r.Err != nil {
					t.Fatalf("result %d: %v", i, r.Err)
				}
				if got := len(r.Result.Errors); got != len(tt.jobs[i].Data) {
					t.Errorf("result %d has %d errors; want %d", i, got, len(tt.jobs[i].Data))
				}
				want += len(tt.jobs[i].Data)
			}
			if res.ErrorCount() != want {
				t.Errorf("ErrorCount() = %d; want %d", res.ErrorCount(), want)
			}
			if res.CompletedJobs != len(tt.jobs) || res.FailedJobs != 0 {
				t.Errorf("completed=%d failed=%d", res.CompletedJobs, res.FailedJobs)
			}
		})
	}
}

func TestBatch_Failures(t *testing.T) {
	var calls atomic.Int32
	res := NewBatch(countingFunc(&calls, 0), 2).Run(context.Background(), jobs("", "fail", "", ""))

	if res.FailedJobs != 1 || res.CompletedJobs != 3 {
		t.Errorf("completed=%d failed=%d; want 3 and 1", res.CompletedJobs, res.FailedJobs)
	}
	if res.Results[1].Err == nil || res.Results[1].Result != nil {
		t.Errorf("result 1 = %+v", res.Results[1])
	}
	if res.Valid() {
		t.Error("batch with a failed job must not be valid")
	}
}

func TestBatch_Valid(t *testing.T) {
	var calls atomic.Int32
	res := NewBatch(countingFunc(&calls, 0), 2).Run(context.Background(), jobs("", "", ""))
	if !res.Valid() {
		t.Error("batch without findings should be valid")
	}
}

func TestBatch_NoValidator(t *testing.T) {
	res := NewBatch(nil, 2).Run(context.Background(), jobs("a", "b", "c"))
	for _, r := range res.Results {
		if !errors.Is(r.Err, ErrNoValidator) {
			t.Errorf("Err = %v; want ErrNoValidator", r.Err)
		}
	}
	if res.FailedJobs != 3 {
		t.Errorf("FailedJobs = %d; want 3", res.FailedJobs)
	}
}

func TestBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	res := NewBatch(countingFunc(&calls, 0), 2).Run(ctx, jobs("a", "b", "c", "d"))

	if calls.Load() != 0 {
		t.Errorf("calls = %d; want 0", calls.Load())
	}
	for i, r := range res.Results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("result %d Err = %v; want context.Canceled", i, r.Err)
		}
	}
}

func TestBatch_Empty(t *testing.T) {
	res := NewBatch(func(context.Context, []byte) (*validator.Result, error) {
		t.Fatal("must not be called")
		return nil, nil
	}, 2).Run(context.Background(), nil)
	if len(res.Results) != 0 || !res.Valid() {
		t.Errorf("empty batch = %+v", res)
	}
}
