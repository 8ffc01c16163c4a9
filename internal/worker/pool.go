// Package worker runs many independent area analyses in parallel.
package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MeKo-Tech/areastats/internal/pipeline"
	"github.com/MeKo-Tech/areastats/internal/report"
	"github.com/MeKo-Tech/areastats/internal/types"
)

// Analyzer is the interface for analyzing one region.
// This matches the signature of pipeline.Analyzer.Analyze.
type Analyzer interface {
	Analyze(ctx context.Context, region types.SearchRegion, origin string) (*pipeline.Result, error)
}

// Task is a single named region to analyze.
type Task struct {
	Name   string
	Region types.SearchRegion
}

// Result is the outcome of one task.
type Result struct {
	Task    Task
	Index   int
	Result  *pipeline.Result
	Err     error
	Elapsed time.Duration
}

// ProgressFunc is called after each task completes.
type ProgressFunc func(completed, total, failed int)

// Config configures the worker pool.
type Config struct {
	Workers    int
	Analyzer   Analyzer
	OnProgress ProgressFunc
}

// Pool manages parallel analyses.
type Pool struct {
	workers    int
	analyzer   Analyzer
	onProgress ProgressFunc
}

type indexedTask struct {
	index int
	task  Task
}

// New creates a new worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		analyzer:   cfg.Analyzer,
		onProgress: cfg.OnProgress,
	}
}

// Run executes all tasks and returns one result per task, in task order.
// It blocks until every task finished or the context is cancelled; tasks
// not started before cancellation carry the context error.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	taskCh := make(chan indexedTask, len(tasks))
	resultCh := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, taskCh, resultCh)
		}()
	}

	for i, task := range tasks {
		taskCh <- indexedTask{index: i, task: task}
	}
	close(taskCh)

	results := make([]Result, 0, len(tasks))
	done := make(chan struct{})

	go func() {
		failed := 0
		for result := range resultCh {
			results = append(results, result)
			if result.Err != nil {
				failed++
			}
			if p.onProgress != nil {
				p.onProgress(len(results), len(tasks), failed)
			}
		}
		close(done)
	}()

	wg.Wait()
	close(resultCh)
	<-done

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results
}

func (p *Pool) worker(ctx context.Context, tasks <-chan indexedTask, results chan<- Result) {
	for it := range tasks {
		if err := ctx.Err(); err != nil {
			results <- Result{Task: it.task, Index: it.index, Err: err}
			continue
		}

		start := time.Now()
		res, err := p.analyzer.Analyze(ctx, it.task.Region, pipeline.OriginBatch)
		results <- Result{
			Task:    it.task,
			Index:   it.index,
			Result:  res,
			Err:     err,
			Elapsed: time.Since(start),
		}
	}
}

// Rows turns pool results into batch report rows.
func Rows(results []Result) []report.BatchRow {
	rows := make([]report.BatchRow, 0, len(results))
	for _, r := range results {
		row := report.BatchRow{Name: r.Task.Name, Region: r.Task.Region, Err: r.Err}
		if r.Err == nil && r.Result != nil {
			row.Summary = r.Result.Summary
		}
		rows = append(rows, row)
	}
	return rows
}
