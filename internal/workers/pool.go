// Package workers provides bounded parallel execution for batches of
// independent I/O tasks.
package workers

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Task is one unit of work.
type Task func(ctx context.Context) error

// Pool fans a batch of tasks out over a fixed number of goroutines.
type Pool struct {
	logger     *zap.Logger
	name       string
	numWorkers int
}

// NewPool creates a pool. numWorkers below one is treated as one.
func NewPool(logger *zap.Logger, name string, numWorkers int) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		logger:     logger.Named("pool-" + name),
		name:       name,
		numWorkers: numWorkers,
	}
}

// Run executes every task and returns errors aligned with the task index.
// A panicking task is converted to an error so one bad task cannot take the
// process down.
func (p *Pool) Run(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	if len(tasks) == 0 {
		return errs
	}

	workers := p.numWorkers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indexes {
				errs[i] = p.execute(ctx, tasks[i])
			}
		}()
	}

	for i := range tasks {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return errs
}

func (p *Pool) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked",
				zap.String("pool", p.name),
				zap.Any("panic", r))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return task(ctx)
}
