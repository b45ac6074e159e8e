package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/souvik131/ibex-iv/ingest"
	"github.com/souvik131/ibex-iv/store"
	"github.com/souvik131/ibex-iv/volatility"
)

// Sink persists a computed batch.
type Sink interface {
	Save(ctx context.Context, b store.Batch) error
}

type Notifier interface {
	Notify(ctx context.Context, r *Result) error
}

// Result is one full computation over a snapshot.
type Result struct {
	ScrapeDate string
	Valuation  time.Time
	ComputedAt time.Time
	Duration   time.Duration
	Skipped    int
	Results    []volatility.IVResult
	Coverage   volatility.Coverage
}

func (r *Result) Batch() store.Batch {
	return store.Batch{
		ScrapeDate: r.ScrapeDate,
		ComputedAt: r.ComputedAt,
		Rows:       store.NewRows(r.Results),
	}
}

type Engine struct {
	Source    ingest.Source
	Processor *volatility.Processor
	Sinks     []Sink
	Notifier  Notifier
	// ValuationDate overrides the scrape date as the valuation date.
	ValuationDate *time.Time
	Now           func() time.Time

	mu        sync.RWMutex
	last      *Result
	listeners []func(*Result)
}

func New(src ingest.Source, p *volatility.Processor, sinks ...Sink) *Engine {
	return &Engine{Source: src, Processor: p, Sinks: sinks, Now: time.Now}
}

// OnResult registers fn to be called after every successful run.
func (e *Engine) OnResult(fn func(*Result)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) Last() *Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// RunOnce reads one snapshot, solves every quote and hands the batch to
// each sink. Sink failures are logged and joined into the returned error;
// the result is still returned.
func (e *Engine) RunOnce(ctx context.Context) (*Result, error) {
	start := e.Now()
	snap, err := e.Source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if len(snap.Options) == 0 {
		return nil, errors.New("snapshot has no option quotes")
	}
	if len(snap.Futures) == 0 {
		log.Printf("Snapshot %s has no futures, every quote will lack an underlying", snap.ScrapeDate)
	}

	valuation := snap.Valuation(e.ValuationDate, start)
	results := e.Processor.Process(snap.Options, snap.Futures, valuation)
	res := &Result{
		ScrapeDate: snap.ScrapeDate,
		Valuation:  valuation,
		ComputedAt: start,
		Duration:   e.Now().Sub(start),
		Skipped:    snap.Skipped,
		Results:    results,
		Coverage:   volatility.Summarize(results),
	}
	log.Printf("Scrape %s valued on %s: %s, %d rows skipped", res.ScrapeDate, valuation.Format("2006-01-02"), res.Coverage, res.Skipped)

	var sinkErrs []error
	batch := res.Batch()
	for _, s := range e.Sinks {
		if err := s.Save(ctx, batch); err != nil {
			log.Printf("sink %T: %v", s, err)
			sinkErrs = append(sinkErrs, fmt.Errorf("%T: %w", s, err))
		}
	}

	e.mu.Lock()
	e.last = res
	listeners := append([]func(*Result){}, e.listeners...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(res)
	}

	if e.Notifier != nil {
		if err := e.Notifier.Notify(ctx, res); err != nil {
			log.Printf("notify: %v", err)
		}
	}
	return res, errors.Join(sinkErrs...)
}

// Serve runs RunOnce immediately and then on every tick of schedule, a
// six-field cron spec with seconds, until ctx is done. Runs never overlap;
// a tick that fires while a run is in progress is dropped.
func (e *Engine) Serve(ctx context.Context, schedule string) error {
	running := make(chan struct{}, 1)
	run := func() {
		select {
		case running <- struct{}{}:
		default:
			log.Printf("Previous run still in progress, skipping tick")
			return
		}
		defer func() { <-running }()
		if _, err := e.RunOnce(ctx); err != nil {
			log.Printf("run: %v", err)
		}
	}

	c := cron.New()
	if err := c.AddFunc(schedule, run); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	run()
	c.Start()
	log.Printf("Engine scheduled on %q", schedule)

	<-ctx.Done()
	c.Stop()
	log.Printf("Shutting down engine")
	return nil
}
