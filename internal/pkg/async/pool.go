// Package async runs a batch of named tasks with bounded concurrency and
// collects their results by name.
package async

import (
	"context"
	"fmt"
	"sync"
)

// Task is one unit of work. Names must be unique within a batch since the
// result map is keyed by them.
type Task struct {
	Name    string
	Execute func() (interface{}, error)
}

// Result carries a task's return value or error.
type Result struct {
	Name string
	Data interface{}
	Err  error
}

// Pool bounds how many tasks run at once.
type Pool struct {
	size int
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

// Execute runs every task, at most size at a time, and returns their results
// keyed by task name. A panicking task is reported as a failed Result rather
// than taking the batch down. When ctx is cancelled, tasks not yet started
// are skipped; their names are absent from the returned map.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	sem := make(chan struct{}, p.size)
	out := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for _, task := range tasks {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return drain(out)
		}

		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			defer func() { <-sem }()
			out <- run(t)
		}(task)
	}

	wg.Wait()
	return drain(out)
}

func run(t Task) (result Result) {
	result.Name = t.Name
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
	}()
	result.Data, result.Err = t.Execute()
	return result
}

func drain(out chan Result) map[string]Result {
	close(out)
	results := make(map[string]Result, len(out))
	for r := range out {
		results[r.Name] = r
	}
	return results
}
