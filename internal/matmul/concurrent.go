package matmul

import (
	"context"
	"fmt"
	"sync"

	"github.com/23skdu/longbow-gemm/internal/device"
)

// Job is one dispatch to run as part of a concurrent batch.
type Job struct {
	Queue device.Queue
	N     int
	Label string
}

// Outcome pairs a job's label with its result or failure.
type Outcome struct {
	Label  string
	Result Result
	Err    error
}

// RunConcurrent runs every job on its own goroutine and waits for all of
// them. A failure (or panic) in one job does not affect the others; each
// outcome is reported independently, in job order.
func RunConcurrent(ctx context.Context, jobs []Job, opts ...Option) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = runIsolated(ctx, job, opts...)
		}()
	}
	wg.Wait()
	return outcomes
}

func runIsolated(ctx context.Context, job Job, opts ...Option) (out Outcome) {
	out.Label = job.Label
	defer func() {
		if r := recover(); r != nil {
			name := ""
			if job.Queue != nil {
				name = job.Queue.Name()
			}
			out.Err = &device.DeviceExecutionError{Device: name, Op: "dispatch", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out.Result, out.Err = Run(ctx, job.Queue, job.N, job.Label, opts...)
	return out
}
