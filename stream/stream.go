package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/souvik131/ibex-iv/ingest"
	"github.com/souvik131/ibex-iv/store"
	"github.com/souvik131/ibex-iv/volatility"
)

type Publisher interface {
	Publish(subj string, data []byte) error
}

// Stream solves option quotes as they arrive on NATS. Futures messages keep
// a per-expiry cache of the latest underlying price; each quote message is
// solved against it and the rows are published on the results subject.
type Stream struct {
	Processor      *volatility.Processor
	Publisher      Publisher
	ResultsSubject string
	// ValuationDate fixes the valuation date; otherwise the quote's scrape
	// date or the current day is used.
	ValuationDate *time.Time
	Now           func() time.Time

	mu      sync.RWMutex
	futures map[time.Time]volatility.UnderlyingQuote
}

func New(p *volatility.Processor, pub Publisher, resultsSubject string) *Stream {
	return &Stream{
		Processor:      p,
		Publisher:      pub,
		ResultsSubject: resultsSubject,
		Now:            time.Now,
		futures:        map[time.Time]volatility.UnderlyingQuote{},
	}
}

// records accepts a single JSON object as well as a list or envelope.
func records(data []byte) ([]ingest.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' && !bytes.Contains(data, []byte(`"body"`)) {
		data = append(append([]byte{'['}, data...), ']')
	}
	return ingest.DecodeRecords(data)
}

func (s *Stream) HandleFutures(data []byte) (int, error) {
	recs, err := records(data)
	if err != nil {
		return 0, err
	}
	for _, r := range recs {
		if r["type"] == "" {
			r["type"] = "futures"
		}
	}
	snap := ingest.Build(recs)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range snap.Futures {
		s.futures[volatility.Day(f.Expiry)] = f
	}
	return len(snap.Futures), nil
}

func (s *Stream) Futures() []volatility.UnderlyingQuote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]volatility.UnderlyingQuote, 0, len(s.futures))
	for _, f := range s.futures {
		out = append(out, f)
	}
	return out
}

// HandleQuotes solves the options in data. Futures carried in the same
// message are added to the cache first.
func (s *Stream) HandleQuotes(data []byte) ([]volatility.IVResult, error) {
	recs, err := records(data)
	if err != nil {
		return nil, err
	}
	snap := ingest.Build(recs)
	s.mu.Lock()
	for _, f := range snap.Futures {
		s.futures[volatility.Day(f.Expiry)] = f
	}
	s.mu.Unlock()

	return s.Processor.Process(snap.Options, s.Futures(), snap.Valuation(s.ValuationDate, s.Now())), nil
}

func (s *Stream) publish(results []volatility.IVResult) error {
	if s.Publisher == nil || len(results) == 0 {
		return nil
	}
	b, err := json.Marshal(store.NewRows(results))
	if err != nil {
		return err
	}
	return s.Publisher.Publish(s.ResultsSubject, b)
}

// OnQuotes is the handler for the quotes subject.
func (s *Stream) OnQuotes(m *nats.Msg) {
	results, err := s.HandleQuotes(m.Data)
	if err != nil {
		log.Printf("%s: %v", m.Subject, err)
		return
	}
	if err := s.publish(results); err != nil {
		log.Printf("publish: %v", err)
	}
	log.Printf("%s: %s", m.Subject, volatility.Summarize(results))
}

func (s *Stream) OnFutures(m *nats.Msg) {
	if _, err := s.HandleFutures(m.Data); err != nil {
		log.Printf("%s: %v", m.Subject, err)
	}
}

// Run subscribes on nc until ctx is done, then drains the connection.
func (s *Stream) Run(ctx context.Context, nc *nats.Conn, quotesSubject, futuresSubject string) error {
	fsub, err := nc.Subscribe(futuresSubject, s.OnFutures)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", futuresSubject, err)
	}
	defer fsub.Unsubscribe()
	qsub, err := nc.Subscribe(quotesSubject, s.OnQuotes)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", quotesSubject, err)
	}
	defer qsub.Unsubscribe()
	log.Printf("Listening on %s and %s", quotesSubject, futuresSubject)

	<-ctx.Done()
	log.Printf("Shutting down stream")
	return nc.Drain()
}

func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("ibex-iv"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
}
