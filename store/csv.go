package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"
	"golang.org/x/exp/slices"
)

type exportRow struct {
	ID         string  `csv:"id"`
	Date       string  `csv:"date"`
	Type       string  `csv:"type"`
	Strike     float64 `csv:"strike"`
	IV         string  `csv:"iv"`
	Price      float64 `csv:"price"`
	Underlying float64 `csv:"underlying"`
	DaysToExp  int     `csv:"dias_vto"`
	Status     string  `csv:"status"`
}

// CSVExporter writes one file per expiry and option type, named
// calls_iv_<date>.csv and puts_iv_<date>.csv, rows ordered by strike.
type CSVExporter struct {
	Dir string
	// OnlyValid drops rows without an IV.
	OnlyValid bool
}

func NewCSVExporter(dir string) *CSVExporter {
	return &CSVExporter{Dir: dir}
}

// Export returns the paths written.
func (e *CSVExporter) Export(rows []Row) ([]string, error) {
	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return nil, err
	}

	groups := map[string][]*exportRow{}
	keys := []string{}
	for _, r := range rows {
		if e.OnlyValid && r.IV == nil {
			continue
		}
		key := r.Type + "_iv_" + r.Date
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		iv := ""
		if r.IV != nil {
			iv = strconv.FormatFloat(*r.IV, 'f', ivDecimals, 64)
		}
		groups[key] = append(groups[key], &exportRow{
			ID:         r.ID,
			Date:       r.Date,
			Type:       r.Type,
			Strike:     r.Strike,
			IV:         iv,
			Price:      r.Price,
			Underlying: r.Underlying,
			DaysToExp:  r.DaysToExp,
			Status:     r.Status,
		})
	}
	slices.Sort(keys)

	paths := make([]string, 0, len(keys))
	for _, key := range keys {
		group := groups[key]
		slices.SortStableFunc(group, func(a, b *exportRow) int {
			switch {
			case a.Strike < b.Strike:
				return -1
			case a.Strike > b.Strike:
				return 1
			}
			return 0
		})

		path := filepath.Join(e.Dir, key+".csv")
		if err := writeCSV(path, group); err != nil {
			return paths, fmt.Errorf("%s: %w", path, err)
		}
		log.Printf("Exported %d rows to %s", len(group), path)
		paths = append(paths, path)
	}
	return paths, nil
}

func writeCSV(path string, rows []*exportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return gocsv.MarshalFile(&rows, file)
}

func (e *CSVExporter) Save(_ context.Context, b Batch) error {
	_, err := e.Export(b.Rows)
	return err
}
