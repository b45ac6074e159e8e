package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/souvik131/ibex-iv/engine"
	"github.com/souvik131/ibex-iv/ingest"
	"github.com/souvik131/ibex-iv/store"
	"github.com/souvik131/ibex-iv/volatility"
	"golang.org/x/exp/slices"
)

type RowReader interface {
	QueryRows(ctx context.Context, q store.Query) ([]store.Row, error)
}

type ArchiveReader interface {
	Read(day time.Time) ([]store.Batch, error)
}

type Server struct {
	Engine *engine.Engine
	// Rows serves GET /iv. When nil the rows of the last run are served.
	Rows RowReader
	// Archive serves GET /archive/:day. When nil the route answers 404.
	Archive      ArchiveReader
	RiskFreeRate float64
	Workers      int
	Hub          *Hub
}

func NewServer(e *engine.Engine, rows RowReader, riskFreeRate float64, workers int) *Server {
	s := &Server{Engine: e, Rows: rows, RiskFreeRate: riskFreeRate, Workers: workers, Hub: NewHub()}
	if e != nil {
		e.OnResult(s.Hub.Broadcast)
	}
	return s
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "clients": s.Hub.Clients()})
	})
	r.GET("/iv", s.getIV)
	r.POST("/iv", s.postIV)
	r.GET("/coverage", s.getCoverage)
	r.GET("/archive/:day", s.getArchive)
	r.GET("/ws", func(c *gin.Context) {
		s.Hub.serve(c.Writer, c.Request, s.last())
	})
	return r
}

func (s *Server) last() *engine.Result {
	if s.Engine == nil {
		return nil
	}
	return s.Engine.Last()
}

// ListenAndServe blocks until ctx is done and then shuts the server down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func compareRows(a, b store.Row) int {
	switch {
	case a.Date != b.Date:
		return strings.Compare(a.Date, b.Date)
	case a.Type != b.Type:
		return strings.Compare(a.Type, b.Type)
	case a.Strike < b.Strike:
		return -1
	case a.Strike > b.Strike:
		return 1
	}
	return 0
}

func matches(q store.Query, r store.Row) bool {
	return (q.ScrapeDate == "" || q.ScrapeDate == r.ScrapeDate) &&
		(q.Date == "" || q.Date == r.Date) &&
		(q.Type == "" || strings.EqualFold(q.Type, r.Type))
}

func (s *Server) getIV(c *gin.Context) {
	q := store.Query{
		ScrapeDate: c.Query("scrape_date"),
		Date:       c.Query("date"),
		Type:       c.Query("type"),
	}
	if q.Type != "" {
		switch ingest.ParseKind(q.Type) {
		case ingest.KindCall:
			q.Type = "calls"
		case ingest.KindPut:
			q.Type = "puts"
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be calls or puts"})
			return
		}
	}

	var rows []store.Row
	if s.Rows != nil {
		var err error
		if rows, err = s.Rows.QueryRows(c.Request.Context(), q); err != nil {
			log.Printf("query rows: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	} else if last := s.last(); last != nil {
		for _, r := range store.NewRows(last.Results) {
			if matches(q, r) {
				rows = append(rows, r)
			}
		}
	}
	if rows == nil {
		rows = []store.Row{}
	}
	slices.SortStableFunc(rows, compareRows)
	c.JSON(http.StatusOK, rows)
}

func (s *Server) getCoverage(c *gin.Context) {
	last := s.last()
	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot computed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scrape_date": last.ScrapeDate,
		"valuation":   ingest.FormatDate(last.Valuation),
		"computed_at": last.ComputedAt,
		"skipped":     last.Skipped,
		"coverage":    last.Coverage,
		"summary":     last.Coverage.String(),
	})
}

// getArchive returns every batch archived on a UTC day. A partly
// corrupted file still yields the batches before the damage.
func (s *Server) getArchive(c *gin.Context) {
	if s.Archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive not configured"})
		return
	}
	day, err := ingest.ParseDate(c.Param("day"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "day: " + err.Error()})
		return
	}
	batches, err := s.Archive.Read(day)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": "nothing archived on " + ingest.FormatDate(day)})
		return
	case err != nil && len(batches) == 0:
		log.Printf("read archive %s: %v", ingest.FormatDate(day), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Printf("read archive %s: %v, serving %d intact batches", ingest.FormatDate(day), err, len(batches))
	}
	c.JSON(http.StatusOK, batches)
}

type computeRequest struct {
	ValuationDate string          `json:"valuation_date"`
	RiskFreeRate  *float64        `json:"risk_free_rate"`
	Options       json.RawMessage `json:"options" binding:"required"`
	Futures       json.RawMessage `json:"futures"`
}

// solved is an IV result with the greeks at the solved volatility. Greeks
// is omitted when the quote did not solve.
type solved struct {
	volatility.IVResult
	Greeks *volatility.Greeks `json:"greeks,omitempty"`
}

func withGreeks(results []volatility.IVResult) []solved {
	out := make([]solved, len(results))
	for i, res := range results {
		out[i].IVResult = res
		if g, ok := volatility.GreeksOf(res); ok {
			out[i].Greeks = &g
		}
	}
	return out
}

type computeResponse struct {
	Results  []solved            `json:"results"`
	Coverage volatility.Coverage `json:"coverage"`
	Skipped  int                 `json:"skipped"`
}

// postIV solves the quotes in the request body without touching any store.
func (s *Server) postIV(c *gin.Context) {
	req := computeRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := ingest.DecodeRecords(req.Options)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "options: " + err.Error()})
		return
	}
	if len(req.Futures) > 0 && string(req.Futures) != "null" {
		futures, err := ingest.DecodeRecords(req.Futures)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "futures: " + err.Error()})
			return
		}
		for _, r := range futures {
			if r["type"] == "" {
				r["type"] = "futures"
			}
		}
		records = append(records, futures...)
	}
	snap := ingest.Build(records)

	var explicit *time.Time
	if req.ValuationDate != "" {
		d, err := ingest.ParseDate(req.ValuationDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "valuation_date: " + err.Error()})
			return
		}
		explicit = &d
	}
	valuation := snap.Valuation(explicit, time.Now())

	rate := s.RiskFreeRate
	if req.RiskFreeRate != nil {
		rate = *req.RiskFreeRate
	}
	results := volatility.NewProcessor(rate, s.Workers).Process(snap.Options, snap.Futures, valuation)
	c.JSON(http.StatusOK, computeResponse{
		Results:  withGreeks(results),
		Coverage: volatility.Summarize(results),
		Skipped:  snap.Skipped,
	})
}
