package simulation

import (
	"context"
	"runtime"
	"sync"

	"github.com/banshee-data/terrain.report/internal/kalman"
	"github.com/banshee-data/terrain.report/internal/monitoring"
	"github.com/banshee-data/terrain.report/internal/terrain"
)

// Job is one independent run in a batch. Each job must own its Estimator
// and Sinks; jobs share nothing, so they can run on separate goroutines.
type Job struct {
	Name      string
	Config    Config
	Estimator *kalman.Estimator
	Samples   []terrain.Sample
	Sinks     []Sink
}

// Result is the outcome of one Job.
type Result struct {
	Name    string
	Summary Summary
	Err     error
}

// RunBatch runs jobs on up to workers goroutines and returns their results
// in job order. workers <= 0 uses GOMAXPROCS. A failing job does not stop
// the others; cancelling ctx stops all of them at their next step.
func RunBatch(ctx context.Context, jobs []Job, workers int) []Result {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	results := make([]Result, len(jobs))
	next := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				job := jobs[i]
				sum, err := Run(ctx, job.Config, job.Estimator, job.Samples, job.Sinks...)
				if err != nil {
					monitoring.Logf("[simulation] job %q failed: %v", job.Name, err)
				}
				results[i] = Result{Name: job.Name, Summary: sum, Err: err}
			}
		}()
	}

	for i := range jobs {
		next <- i
	}
	close(next)
	wg.Wait()
	return results
}
