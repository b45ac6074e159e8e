package ingest_test

import (
	"testing"
	"time"

	"github.com/souvik131/ibex-iv/ingest"
)

func TestSnapshotValuation(t *testing.T) {
	now := time.Date(2024, 3, 5, 16, 45, 0, 0, time.UTC)
	explicit := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	cases := []struct {
		name     string
		snap     ingest.Snapshot
		explicit *time.Time
		want     time.Time
	}{
		{"Explicit", ingest.Snapshot{ScrapeDate: "2024-03-01"}, &explicit, explicit},
		{"ScrapeDate", ingest.Snapshot{ScrapeDate: "2024-03-01"}, nil, day(2024, 3, 1)},
		{"BadScrapeDate", ingest.Snapshot{ScrapeDate: "yesterday"}, nil, day(2024, 3, 5)},
		{"Now", ingest.Snapshot{}, nil, day(2024, 3, 5)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.snap.Valuation(c.explicit, now); !got.Equal(c.want) {
				t.Errorf("expected %v, got %v", c.want, got)
			}
		})
	}
}
