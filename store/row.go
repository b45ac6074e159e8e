package store

import (
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/souvik131/ibex-iv/ingest"
	"github.com/souvik131/ibex-iv/volatility"
)

// ivDecimals is the precision IVs are stored and exported with.
const ivDecimals = 4

// Row is the persisted shape of one IV result, shared by the IV table, the
// CSV export and the API.
type Row struct {
	ID         string   `json:"id" dynamodbav:"id" csv:"id"`
	ScrapeDate string   `json:"scrape_date" dynamodbav:"scrape_date,omitempty" csv:"scrape_date"`
	Date       string   `json:"date" dynamodbav:"date" csv:"date"`
	Type       string   `json:"type" dynamodbav:"type" csv:"type"`
	Strike     float64  `json:"strike" dynamodbav:"strike" csv:"strike"`
	Price      float64  `json:"price" dynamodbav:"price" csv:"price"`
	Underlying float64  `json:"underlying" dynamodbav:"underlying" csv:"underlying"`
	DaysToExp  int      `json:"dias_vto" dynamodbav:"dias_vto" csv:"dias_vto"`
	IV         *float64 `json:"iv" dynamodbav:"iv,omitempty" csv:"iv"`
	Status     string   `json:"status" dynamodbav:"status" csv:"status"`
}

// plural type names match the keys the scraper lambdas write.
func typeKey(t volatility.OptionType) string {
	if t == volatility.Put {
		return "puts"
	}
	return "calls"
}

func RoundIV(iv float64) decimal.Decimal {
	return decimal.NewFromFloat(iv).Round(ivDecimals)
}

func NewRow(res volatility.IVResult) Row {
	q := res.Quote
	date := ingest.FormatDate(q.Expiry)
	row := Row{
		ID:         date + "#" + typeKey(q.Type) + "#" + strconv.FormatFloat(q.Strike, 'f', -1, 64),
		ScrapeDate: q.ScrapeDate,
		Date:       date,
		Type:       typeKey(q.Type),
		Strike:     q.Strike,
		Price:      q.ObservedPrice,
		Underlying: q.UnderlyingPrice,
		DaysToExp:  int(q.TimeToExpiry*365 + 0.5),
		Status:     string(res.Status),
	}
	if q.ScrapeDate != "" {
		row.ID = q.ScrapeDate + "#" + row.ID
	}
	if res.OK() {
		iv := RoundIV(*res.ImpliedVolatility).InexactFloat64()
		row.IV = &iv
	}
	return row
}

func NewRows(results []volatility.IVResult) []Row {
	rows := make([]Row, 0, len(results))
	for _, r := range results {
		rows = append(rows, NewRow(r))
	}
	return rows
}
