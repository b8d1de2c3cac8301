package ingest

import (
	"context"
	"sync"

	"github.com/FocuswithJustin/bookvault/internal/model"
)

// bookWorkerPool bounds the number of books ingested simultaneously,
// mirroring the generic worker-pool pattern used elsewhere for bounded
// parallel job processing, specialized here to PlanEntry/Result instead of
// being left generic — the Engine is the only caller and needs no reuse
// across job/result types.
type bookWorkerPool struct {
	numWorkers int
	jobs       chan model.PlanEntry
	results    chan Result
	wg         sync.WaitGroup
}

func newBookWorkerPool(numWorkers, numJobs int) *bookWorkerPool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if numJobs > 0 && numWorkers > numJobs {
		numWorkers = numJobs
	}
	return &bookWorkerPool{
		numWorkers: numWorkers,
		jobs:       make(chan model.PlanEntry, numJobs),
		results:    make(chan Result, numJobs),
	}
}

func (p *bookWorkerPool) start(ctx context.Context, workerFn func(context.Context, model.PlanEntry) Result) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.results <- workerFn(ctx, job)
			}
		}()
	}
}

func (p *bookWorkerPool) submit(entry model.PlanEntry) { p.jobs <- entry }

func (p *bookWorkerPool) close() {
	close(p.jobs)
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

// Engine runs a Planner across every entry of a plan at book_workers-bounded
// concurrency and accumulates a Summary.
type Engine struct {
	planner     *Planner
	bookWorkers int
}

// NewEngine builds an Engine that drives planner across books with at most
// bookWorkers running concurrently.
func NewEngine(planner *Planner, bookWorkers int) *Engine {
	return &Engine{planner: planner, bookWorkers: bookWorkers}
}

// Summary is the terminal report of one ingestion run (§7): counts of new
// chapters fetched, books refreshed, books removed, and books that errored.
type Summary struct {
	BooksRefreshed int
	BooksSkipped   int
	BooksRemoved   int
	BooksErrored   int
	ChaptersAdded  int
	Errors         []error
}

// Run ingests every entry in plan, blocking until all books complete or ctx
// is canceled.
func (e *Engine) Run(ctx context.Context, plan []model.PlanEntry) Summary {
	pool := newBookWorkerPool(e.bookWorkers, len(plan))
	pool.start(ctx, e.planner.Ingest)

	go func() {
		for _, entry := range plan {
			pool.submit(entry)
		}
		pool.close()
	}()

	var sum Summary
	for res := range pool.results {
		switch {
		case res.Err != nil:
			sum.BooksErrored++
			sum.Errors = append(sum.Errors, res.Err)
		case res.Removed:
			sum.BooksRemoved++
		case res.Skipped:
			sum.BooksSkipped++
		default:
			sum.BooksRefreshed++
			sum.ChaptersAdded += res.ChaptersAdded
		}
	}
	return sum
}
