package utils

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// WorkerPool fans jobs out to a fixed set of goroutines. Every submitted
// job produces exactly one message on Results, nil results included.
type WorkerPool struct {
	NumWorkers int
	JobQueue   chan interface{}
	Results    chan interface{}
	wg         sync.WaitGroup
	started    bool
	mu         sync.Mutex
}

// NewWorkerPool sizes the pool; zero or negative workers means one per CPU.
func NewWorkerPool(numWorkers, jobBuffer, resultBuffer int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &WorkerPool{
		NumWorkers: numWorkers,
		JobQueue:   make(chan interface{}, jobBuffer),
		Results:    make(chan interface{}, resultBuffer),
	}
}

// StartWorkers launches the workers with the given work function. Calling
// it again is a no-op.
func (wp *WorkerPool) StartWorkers(work func(interface{}) interface{}) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return
	}
	wp.started = true

	wp.wg.Add(wp.NumWorkers)
	for range wp.NumWorkers {
		go wp.worker(work)
	}
}

func (wp *WorkerPool) worker(work func(interface{}) interface{}) {
	defer wp.wg.Done()
	for job := range wp.JobQueue {
		wp.Results <- work(job)
	}
}

// SubmitJob queues one job. Blocks when the job buffer is full.
func (wp *WorkerPool) SubmitJob(job interface{}) {
	wp.JobQueue <- job
}

// CloseAndWait signals that no more jobs are coming, waits for the workers
// to drain the queue and closes Results so readers can range over it. The
// result buffer must hold every outstanding job unless a reader drains it
// concurrently.
func (wp *WorkerPool) CloseAndWait() {
	close(wp.JobQueue)
	wp.wg.Wait()
	close(wp.Results)
}

// ProgressTracker counts completed items and prints throughput as it goes.
type ProgressTracker struct {
	Total     int64
	Processed int64
	StartTime time.Time
	Name      string
	interval  int64
}

// NewProgressTracker picks a print interval from the batch size, so small
// batches report every item and large ones every hundredth.
func NewProgressTracker(total int64, name string) *ProgressTracker {
	interval := int64(100)
	if total <= 100 {
		interval = 1
	}
	return &ProgressTracker{
		Total:     total,
		StartTime: time.Now(),
		Name:      name,
		interval:  interval,
	}
}

// Increment marks one item done.
func (pt *ProgressTracker) Increment() {
	processed := atomic.AddInt64(&pt.Processed, 1)
	if processed%pt.interval == 0 || processed == pt.Total {
		elapsed := time.Since(pt.StartTime)
		rate := float64(processed) / elapsed.Seconds()
		percentage := float64(processed) / float64(pt.Total) * 100
		fmt.Printf("%s: %d/%d (%.1f%%) - %.1f items/sec\n",
			pt.Name, processed, pt.Total, percentage, rate)
	}
}

// GetProgress returns processed, total and the completion percentage.
func (pt *ProgressTracker) GetProgress() (int64, int64, float64) {
	processed := atomic.LoadInt64(&pt.Processed)
	return processed, pt.Total, float64(processed) / float64(pt.Total) * 100
}

// ParallelProcessor runs one-shot batches over a worker pool.
type ParallelProcessor struct {
	NumWorkers int
}

func NewParallelProcessor(numWorkers int) *ParallelProcessor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &ParallelProcessor{NumWorkers: numWorkers}
}

// ProcessBatch fans the items out, waits for every result and drops the
// nil ones. Result order is not related to item order.
func (pp *ParallelProcessor) ProcessBatch(items []interface{},
	work func(interface{}) interface{},
	progressName string) ([]interface{}, error) {

	if len(items) == 0 {
		return []interface{}{}, nil
	}

	tracker := NewProgressTracker(int64(len(items)), progressName)
	pool := NewWorkerPool(pp.NumWorkers, len(items), len(items))
	pool.StartWorkers(func(job interface{}) interface{} {
		result := work(job)
		tracker.Increment()
		return result
	})

	for _, item := range items {
		pool.SubmitJob(item)
	}
	pool.CloseAndWait()

	results := make([]interface{}, 0, len(items))
	for result := range pool.Results {
		if result != nil {
			results = append(results, result)
		}
	}

	fmt.Printf("%s: completed %d of %d items\n", progressName, len(results), len(items))
	return results, nil
}
