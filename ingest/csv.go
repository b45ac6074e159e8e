package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
)

// csvRow is the canonical upload layout: option and futures rows share one
// file and are told apart by the type column.
type csvRow struct {
	ID         string `csv:"id"`
	ScrapeDate string `csv:"scrape_date"`
	Date       string `csv:"date"`
	Type       string `csv:"type"`
	Strike     string `csv:"strike"`
	Price      string `csv:"price"`
	LastPrice  string `csv:"last_price"`
	Volume     string `csv:"volume"`
	DaysToExp  string `csv:"dias_vto"`
}

func (r *csvRow) record() Record {
	return Record{
		"id":          r.ID,
		"scrape_date": r.ScrapeDate,
		"date":        r.Date,
		"type":        r.Type,
		"strike":      r.Strike,
		"price":       r.Price,
		"last_price":  r.LastPrice,
		"volume":      r.Volume,
		"dias_vto":    r.DaysToExp,
	}
}

// headerReader normalises the first record it reads.
type headerReader struct {
	r    *csv.Reader
	done bool
}

func (h *headerReader) Read() ([]string, error) {
	rec, err := h.r.Read()
	if err == nil && !h.done {
		h.done = true
		rec = NormalizeHeader(rec)
	}
	return rec, err
}

func (h *headerReader) ReadAll() ([][]string, error) {
	out := [][]string{}
	for {
		rec, err := h.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// ParseCSV reads an upload with either ',' or ';' separators.
func ParseCSV(r io.Reader) (*Snapshot, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bytes.NewReader(b))
	reader.Comma = detectComma(b)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows := []*csvRow{}
	if err := gocsv.UnmarshalCSV(&headerReader{r: reader}, &rows); err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return Build(records), nil
}

func detectComma(b []byte) rune {
	line := b
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		line = b[:i]
	}
	if strings.Count(string(line), ";") > strings.Count(string(line), ",") {
		return ';'
	}
	return ','
}

type CSVSource struct {
	Path string
}

func NewCSVSource(path string) *CSVSource {
	return &CSVSource{Path: path}
}

func (s *CSVSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCSV(f)
}
