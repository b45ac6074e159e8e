package volatility

import (
	"fmt"
	"strings"
	"time"
)

type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// ParseOptionType accepts the spellings the upstream feeds use
// (call/calls/c/ce, put/puts/p/pe) in any case.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "calls", "c", "ce":
		return Call, nil
	case "put", "puts", "p", "pe":
		return Put, nil
	}
	return "", fmt.Errorf("unknown option type %q", s)
}

func (t OptionType) IsCall() bool {
	return t == Call
}

type Status string

const (
	StatusOK            Status = "OK"
	StatusNoUnderlying  Status = "NO_UNDERLYING"
	StatusInvalidInput  Status = "INVALID_INPUT"
	StatusNoConvergence Status = "NO_CONVERGENCE"
)

// RawQuote is an option observation as handed over by ingestion, before the
// underlying price and time to expiry are attached.
type RawQuote struct {
	ID         string     `json:"id,omitempty"`
	ScrapeDate string     `json:"scrape_date,omitempty"`
	Strike     float64    `json:"strike"`
	Price      float64    `json:"price"`
	Expiry     time.Time  `json:"date"`
	Type       OptionType `json:"type"`
	Volume     *float64   `json:"volume,omitempty"`
}

type UnderlyingQuote struct {
	Expiry    time.Time `json:"date"`
	LastPrice float64   `json:"last_price"`
}

// Quote is a fully resolved option observation. It is built by the Processor
// and only read afterwards.
type Quote struct {
	ID              string     `json:"id,omitempty"`
	ScrapeDate      string     `json:"scrape_date,omitempty"`
	Strike          float64    `json:"strike"`
	Type            OptionType `json:"type"`
	ObservedPrice   float64    `json:"price"`
	Expiry          time.Time  `json:"date"`
	UnderlyingPrice float64    `json:"underlying"`
	RiskFreeRate    float64    `json:"risk_free_rate"`
	TimeToExpiry    float64    `json:"time_to_expiry"`
	Volume          *float64   `json:"volume,omitempty"`
}

type IVResult struct {
	Quote             Quote    `json:"quote"`
	ImpliedVolatility *float64 `json:"iv"`
	Status            Status   `json:"status"`
}

func (r IVResult) OK() bool {
	return r.Status == StatusOK && r.ImpliedVolatility != nil
}

// Coverage counts how many quotes of a batch produced a usable IV.
type Coverage struct {
	Total    int            `json:"total"`
	Valid    int            `json:"valid"`
	ByStatus map[Status]int `json:"by_status"`
}

func Summarize(results []IVResult) Coverage {
	c := Coverage{Total: len(results), ByStatus: map[Status]int{}}
	for _, r := range results {
		c.ByStatus[r.Status]++
		if r.OK() {
			c.Valid++
		}
	}
	return c
}

func (c Coverage) String() string {
	return fmt.Sprintf("%d of %d strikes produced a valid IV (no_underlying=%d invalid_input=%d no_convergence=%d)",
		c.Valid, c.Total,
		c.ByStatus[StatusNoUnderlying], c.ByStatus[StatusInvalidInput], c.ByStatus[StatusNoConvergence])
}
