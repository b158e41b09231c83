package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/orchestrator"
)

// SubmitFunc queues one request and returns the item id.
type SubmitFunc func(ctx context.Context, req orchestrator.Request) (string, error)

// WaitFunc blocks until the item is terminal.
type WaitFunc func(ctx context.Context, id string) error

// Outcome is the result of one request, in input order.
type Outcome struct {
	ID  string
	Err error
}

type job struct {
	index int
	req   orchestrator.Request
}

// Run keeps at most numWorkers items in flight until every request has settled.
func Run(ctx context.Context, reqs []orchestrator.Request, numWorkers int, submit SubmitFunc, wait WaitFunc) []Outcome {
	if numWorkers <= 0 || numWorkers > len(reqs) {
		numWorkers = len(reqs)
	}
	jobCh := make(chan job, len(reqs))
	for i, req := range reqs {
		jobCh <- job{index: i, req: req}
	}
	close(jobCh)

	outcomes := make([]Outcome, len(reqs))
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			processJobs(ctx, workerID, jobCh, outcomes, submit, wait)
		}(i)
	}
	wg.Wait()
	return outcomes
}

func processJobs(ctx context.Context, workerID int, jobCh <-chan job, outcomes []Outcome, submit SubmitFunc, wait WaitFunc) {
	for j := range jobCh {
		if err := ctx.Err(); err != nil {
			outcomes[j.index] = Outcome{Err: err}
			continue
		}
		id, err := submit(ctx, j.req)
		if err != nil {
			log.Debug().Str("op", "scheduler/worker").Msgf("Worker %d could not queue %s: %v", workerID, j.req.Href, err)
			outcomes[j.index] = Outcome{Err: err}
			continue
		}
		outcomes[j.index] = Outcome{ID: id, Err: wait(ctx, id)}
	}
}
