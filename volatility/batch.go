package volatility

import (
	"sync"
	"time"
)

const daysPerYear = 365.0

// Processor evaluates option quotes against a futures snapshot.
type Processor struct {
	RiskFreeRate float64
	// Workers > 1 spreads quotes over that many goroutines.
	Workers int
}

func NewProcessor(riskFreeRate float64, workers int) *Processor {
	return &Processor{RiskFreeRate: riskFreeRate, Workers: workers}
}

// TimeToExpiry is max(days, 1)/365 between valuation and expiry.
func TimeToExpiry(expiry, valuation time.Time) float64 {
	days := DaysBetween(valuation, expiry)
	if days < 1 {
		days = 1
	}
	return float64(days) / daysPerYear
}

// Process returns exactly one result per raw quote, in input order.
// futures is only read.
func (p *Processor) Process(raw []RawQuote, futures []UnderlyingQuote, valuation time.Time) []IVResult {
	results := make([]IVResult, len(raw))

	if p.Workers <= 1 || len(raw) < 2 {
		for i := range raw {
			results[i] = p.Evaluate(raw[i], futures, valuation)
		}
		return results
	}

	workers := p.Workers
	if workers > len(raw) {
		workers = len(raw)
	}
	jobs := make(chan int)
	wg := &sync.WaitGroup{}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.Evaluate(raw[i], futures, valuation)
			}
		}()
	}
	for i := range raw {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

// Evaluate resolves and solves a single quote.
func (p *Processor) Evaluate(rq RawQuote, futures []UnderlyingQuote, valuation time.Time) IVResult {
	q := Quote{
		ID:            rq.ID,
		ScrapeDate:    rq.ScrapeDate,
		Strike:        rq.Strike,
		Type:          rq.Type,
		ObservedPrice: rq.Price,
		Expiry:        rq.Expiry,
		RiskFreeRate:  p.RiskFreeRate,
		TimeToExpiry:  TimeToExpiry(rq.Expiry, valuation),
		Volume:        rq.Volume,
	}

	underlying, ok := ResolveUnderlying(rq.Expiry, futures)
	if !ok {
		return IVResult{Quote: q, Status: StatusNoUnderlying}
	}
	q.UnderlyingPrice = underlying

	sigma, err := ImpliedVolatility(q.ObservedPrice, q.UnderlyingPrice, q.Strike, q.TimeToExpiry, q.RiskFreeRate, q.Type)
	if err != nil {
		return IVResult{Quote: q, Status: StatusOf(err)}
	}
	return IVResult{Quote: q, ImpliedVolatility: &sigma, Status: StatusOK}
}
