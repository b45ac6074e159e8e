package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const dateFormat = "2006-01-02"

// headerAliases maps the column spellings seen across scraper exports,
// uploads and the API onto canonical names.
var headerAliases = map[string]string{
	"tipo":                 "type",
	"type_opcion":          "type",
	"tipo_opcion":          "type",
	"fecha":                "date",
	"vencimiento":          "date",
	"fecha_venc":           "date",
	"strike_price":         "strike",
	"precio_ejercicio":     "strike",
	"precio":               "price",
	"precio_ultimo":        "last_price",
	"ultimo":               "last_price",
	"volumen":              "volume",
	"dias_vencimiento":     "dias_vto",
	"scrape_datetimestamp": "scrape_date",
	"identificador":        "id",
	"id_opcion":            "id",
	"id_futuro":            "id",
}

// NormalizeHeader lower-cases, trims and de-aliases column names. A column
// whose canonical name was already taken is renamed so it is ignored.
func NormalizeHeader(cols []string) []string {
	out := make([]string, len(cols))
	seen := map[string]bool{}
	for i, col := range cols {
		c := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\uFEFF")))
		if alias, ok := headerAliases[c]; ok {
			c = alias
		}
		if seen[c] {
			c = fmt.Sprintf("_dup_%d_%s", i, c)
		}
		seen[c] = true
		out[i] = c
	}
	return out
}

type Kind int

const (
	KindUnknown Kind = iota
	KindCall
	KindPut
	KindFutures
)

func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "calls", "c", "ce":
		return KindCall
	case "put", "puts", "p", "pe":
		return KindPut
	case "futures", "future", "futuros", "futuro", "fut":
		return KindFutures
	}
	return KindUnknown
}

// ParseNumber accepts plain numbers and the European "10.250,5" format.
// Digit groups may be separated by spaces or non-breaking spaces.
func ParseNumber(s string) (float64, error) {
	s = strings.NewReplacer(" ", "", "\u00a0", "").Replace(strings.TrimSpace(s))
	if s == "" || s == "-" {
		return 0, fmt.Errorf("empty number")
	}
	if strings.Contains(s, ",") || thousandsPattern.MatchString(s) {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	return strconv.ParseFloat(s, 64)
}

// 10.250 and 1.234.567 are thousands-grouped, not decimals
var thousandsPattern = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})+$`)

// FormatNumber renders a typed number (a JSON number, a DynamoDB N value) so
// that ParseNumber reads it back unchanged: a dot-decimal that would look
// thousands-grouped, such as 12.375, gets a trailing zero.
func FormatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if thousandsPattern.MatchString(s) {
		s += "0"
	}
	return s
}

var dateLayouts = []string{
	dateFormat,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"02-01-2006",
	"02/01/06",
	"02-Jan-2006",
	"20060102",
}

// ParseDate returns the calendar date of s in UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	if len(s) > 10 {
		return ParseDate(s[:10])
	}
	return time.Time{}, fmt.Errorf("unparsable date %q", s)
}

// FormatDate renders the canonical YYYY-MM-DD form used in keys and files.
func FormatDate(t time.Time) string {
	return t.Format(dateFormat)
}

var idDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

type ID struct {
	ScrapeDate string
	Date       string
	Kind       Kind
	Strike     string
}

// ParseID splits composite keys such as "2024-03-01#2024-03-15#call#10250",
// "2024-03-15#calls#10250" or "2024-03-15#futures". With a single date in
// the key it is taken as the expiry.
func ParseID(id string) ID {
	out := ID{}
	dates := idDatePattern.FindAllString(id, -1)
	switch len(dates) {
	case 0:
	case 1:
		out.Date = dates[0]
	default:
		out.ScrapeDate, out.Date = dates[0], dates[1]
	}

	parts := strings.Split(id, "#")
	for _, p := range parts {
		if k := ParseKind(p); k != KindUnknown {
			out.Kind = k
		}
	}
	for i := len(parts) - 1; i >= 0; i-- {
		if idDatePattern.MatchString(parts[i]) {
			continue
		}
		if v, err := strconv.ParseFloat(parts[i], 64); err == nil {
			out.Strike = strconv.FormatFloat(v, 'f', -1, 64)
			break
		}
	}
	return out
}
