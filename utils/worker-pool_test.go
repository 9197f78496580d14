package utils

import (
	"sync/atomic"
	"testing"
)

func TestWorkerPool_ProcessesEveryJob(t *testing.T) {
	pool := NewWorkerPool(4, 10, 10)

	var total int64
	pool.StartWorkers(func(job interface{}) interface{} {
		n := job.(int)
		atomic.AddInt64(&total, int64(n))
		return n * 2
	})
	for i := 1; i <= 10; i++ {
		pool.SubmitJob(i)
	}
	pool.CloseAndWait()

	var results []int
	for result := range pool.Results {
		results = append(results, result.(int))
	}
	if len(results) != 10 {
		t.Fatalf("got %d results, want 10", len(results))
	}
	if total != 55 {
		t.Errorf("sum of jobs = %d, want 55", total)
	}
	sum := 0
	for _, result := range results {
		sum += result
	}
	if sum != 110 {
		t.Errorf("sum of results = %d, want 110", sum)
	}
}

func TestWorkerPool_StartTwice(t *testing.T) {
	pool := NewWorkerPool(2, 2, 2)
	pool.StartWorkers(func(job interface{}) interface{} { return job })
	pool.StartWorkers(func(job interface{}) interface{} { return nil })

	pool.SubmitJob("x")
	pool.CloseAndWait()

	if result := <-pool.Results; result != "x" {
		t.Fatalf("result = %v, want x from the first work function", result)
	}
}

func TestProcessBatch_DropsNilResults(t *testing.T) {
	processor := NewParallelProcessor(2)

	items := make([]interface{}, 10)
	for i := range items {
		items[i] = i
	}
	results, err := processor.ProcessBatch(items, func(job interface{}) interface{} {
		if job.(int)%2 == 0 {
			return nil
		}
		return job
	}, "odd-filter")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
}

func TestProcessBatch_Empty(t *testing.T) {
	processor := NewParallelProcessor(1)
	results, err := processor.ProcessBatch(nil, func(job interface{}) interface{} { return job }, "empty")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results, want 0", len(results))
	}
}

func TestProgressTracker(t *testing.T) {
	tracker := NewProgressTracker(4, "units")
	tracker.Increment()
	tracker.Increment()

	processed, total, percentage := tracker.GetProgress()
	if processed != 2 || total != 4 || percentage != 50 {
		t.Fatalf("progress = %d/%d (%v%%), want 2/4 (50%%)", processed, total, percentage)
	}
}
