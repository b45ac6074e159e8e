package store_test

import (
	"context"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/souvik131/ibex-iv/store"
	"github.com/souvik131/ibex-iv/volatility"
)

func sampleRows() []store.Row {
	iv := 0.1312
	return []store.Row{
		{ID: "2024-03-01#2024-03-15#calls#10000", ScrapeDate: "2024-03-01", Date: "2024-03-15", Type: "calls", Strike: 10000, Price: 150, Underlying: 10000, DaysToExp: 14, IV: &iv, Status: "OK"},
		{ID: "2024-03-01#2024-03-15#puts#9000", ScrapeDate: "2024-03-01", Date: "2024-03-15", Type: "puts", Strike: 9000, Price: 0.5, Underlying: 10000, DaysToExp: 14, Status: "NO_CONVERGENCE"},
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := store.NewArchive(dir)
	at := time.Date(2024, 3, 1, 17, 30, 0, 0, time.UTC)

	first := store.Batch{ScrapeDate: "2024-03-01", ComputedAt: at, Rows: sampleRows()}
	second := store.Batch{ScrapeDate: "2024-03-01", ComputedAt: at.Add(15 * time.Minute), Rows: sampleRows()[:1]}

	path, err := a.Append(first)
	if err != nil {
		t.Fatalf("Append returned an error: %v", err)
	}
	if err := a.Save(context.Background(), second); err != nil {
		t.Fatalf("Save returned an error: %v", err)
	}

	got, err := a.Read(at)
	if err != nil {
		t.Fatalf("Read returned an error: %v", err)
	}
	if !reflect.DeepEqual(got, []store.Batch{first, second}) {
		t.Errorf("expected %+v, got %+v", []store.Batch{first, second}, got)
	}

	t.Run("TruncatedFile", func(t *testing.T) {
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, raw[:len(raw)-3], 0644); err != nil {
			t.Fatal(err)
		}
		batches, err := store.ReadArchive(path)
		if err == nil {
			t.Fatalf("expected an error for a truncated archive")
		}
		if len(batches) != 1 {
			t.Errorf("expected the intact first batch, got %d", len(batches))
		}
	})

	t.Run("MissingDay", func(t *testing.T) {
		if _, err := a.Read(at.AddDate(0, 0, 1)); err == nil {
			t.Errorf("expected an error for a day with no archive")
		}
	})
}

func TestNewRow(t *testing.T) {
	iv := 0.131249
	res := volatility.IVResult{
		Quote: volatility.Quote{
			ScrapeDate:      "2024-03-01",
			Strike:          10250.5,
			Type:            volatility.Put,
			ObservedPrice:   300,
			Expiry:          time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
			UnderlyingPrice: 10000,
			TimeToExpiry:    14.0 / 365,
		},
		ImpliedVolatility: &iv,
		Status:            volatility.StatusOK,
	}
	row := store.NewRow(res)
	if row.ID != "2024-03-01#2024-03-15#puts#10250.5" {
		t.Errorf("unexpected id %q", row.ID)
	}
	if row.Type != "puts" || row.DaysToExp != 14 || row.Status != "OK" {
		t.Errorf("unexpected row %+v", row)
	}
	if row.IV == nil || *row.IV != 0.1312 {
		t.Errorf("expected iv 0.1312, got %v", row.IV)
	}

	res.ImpliedVolatility = nil
	res.Status = volatility.StatusNoConvergence
	if row := store.NewRow(res); row.IV != nil || row.Status != "NO_CONVERGENCE" {
		t.Errorf("unexpected row %+v", row)
	}
}
