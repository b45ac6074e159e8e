package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/souvik131/ibex-iv/volatility"
	"golang.org/x/exp/slices"
)

// Snapshot is one valuation moment: the option quotes, the futures they are
// written on, and how many input rows could not be represented.
type Snapshot struct {
	ScrapeDate string
	Options    []volatility.RawQuote
	Futures    []volatility.UnderlyingQuote
	Skipped    int
}

// Valuation picks the date the quotes are valued on: explicit when set,
// otherwise the scrape date, otherwise the day of now.
func (s *Snapshot) Valuation(explicit *time.Time, now time.Time) time.Time {
	if explicit != nil {
		return *explicit
	}
	if s.ScrapeDate != "" {
		if d, err := ParseDate(s.ScrapeDate); err == nil {
			return d
		}
	}
	return volatility.Day(now)
}

type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Record is one untyped input row keyed by canonical column name.
type Record map[string]string

// NewRecord normalises the column names of an unordered row. When several
// columns map to the same canonical name, a column already spelled
// canonically wins, then the alphabetically first alias.
func NewRecord(fields map[string]string) Record {
	cols := make([]string, 0, len(fields))
	for k := range fields {
		cols = append(cols, k)
	}
	slices.SortFunc(cols, func(a, b string) int {
		ca, cb := isCanonical(a), isCanonical(b)
		if ca != cb {
			if ca {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	})
	rec := Record{}
	for i, c := range NormalizeHeader(cols) {
		rec[c] = fields[cols[i]]
	}
	return rec
}

func isCanonical(col string) bool {
	_, alias := headerAliases[strings.ToLower(strings.TrimSpace(col))]
	return !alias
}

func (r Record) get(key string) string {
	return strings.TrimSpace(r[key])
}

// builder accumulates records into a snapshot. Rows keyed by scrape date
// are tracked per date so the newest scrape can be selected.
type builder struct {
	options []volatility.RawQuote
	futures []volatility.UnderlyingQuote
	// scrape date of each option/future, parallel to the slices above
	optionScrape []string
	futureScrape []string
	skipped      int
}

func (b *builder) add(rec Record) {
	id := ParseID(rec.get("id"))

	kind := ParseKind(rec.get("type"))
	if kind == KindUnknown {
		kind = id.Kind
	}
	dateStr := rec.get("date")
	if dateStr == "" {
		dateStr = id.Date
	}
	scrape := rec.get("scrape_date")
	if scrape == "" {
		scrape = id.ScrapeDate
	}
	if scrape != "" {
		if d, err := ParseDate(scrape); err == nil {
			scrape = FormatDate(d)
		}
	}

	expiry, err := ParseDate(dateStr)
	if err != nil {
		b.skipped++
		return
	}

	switch kind {
	case KindFutures:
		priceStr := rec.get("last_price")
		if priceStr == "" {
			priceStr = rec.get("price")
		}
		price, err := ParseNumber(priceStr)
		if err != nil {
			b.skipped++
			return
		}
		b.futures = append(b.futures, volatility.UnderlyingQuote{Expiry: expiry, LastPrice: price})
		b.futureScrape = append(b.futureScrape, scrape)

	case KindCall, KindPut:
		strikeStr := rec.get("strike")
		if strikeStr == "" {
			strikeStr = id.Strike
		}
		strike, err := ParseNumber(strikeStr)
		if err != nil {
			b.skipped++
			return
		}
		price, err := ParseNumber(rec.get("price"))
		if err != nil {
			b.skipped++
			return
		}
		q := volatility.RawQuote{
			ID:         rec.get("id"),
			ScrapeDate: scrape,
			Strike:     strike,
			Price:      price,
			Expiry:     expiry,
			Type:       volatility.Call,
		}
		if kind == KindPut {
			q.Type = volatility.Put
		}
		if v, err := ParseNumber(rec.get("volume")); err == nil {
			q.Volume = &v
		}
		b.options = append(b.options, q)
		b.optionScrape = append(b.optionScrape, scrape)

	default:
		b.skipped++
	}
}

// latest keeps the rows of the newest scrape date. Rows without a scrape
// date belong to every scrape.
func (b *builder) latest() *Snapshot {
	newest := ""
	for _, s := range append(append([]string{}, b.optionScrape...), b.futureScrape...) {
		if s > newest {
			newest = s
		}
	}
	snap := &Snapshot{ScrapeDate: newest, Skipped: b.skipped}
	for i, q := range b.options {
		if b.optionScrape[i] == "" || b.optionScrape[i] == newest {
			snap.Options = append(snap.Options, q)
		}
	}
	for i, f := range b.futures {
		if b.futureScrape[i] == "" || b.futureScrape[i] == newest {
			snap.Futures = append(snap.Futures, f)
		}
	}
	return snap
}

// Build turns canonical records into the snapshot of the newest scrape.
func Build(records []Record) *Snapshot {
	b := &builder{}
	for _, r := range records {
		b.add(r)
	}
	return b.latest()
}
