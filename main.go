package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/souvik131/ibex-iv/api"
	"github.com/souvik131/ibex-iv/config"
	"github.com/souvik131/ibex-iv/engine"
	"github.com/souvik131/ibex-iv/ingest"
	"github.com/souvik131/ibex-iv/notify"
	"github.com/souvik131/ibex-iv/store"
	"github.com/souvik131/ibex-iv/stream"
	"github.com/souvik131/ibex-iv/volatility"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Println("Mode:", cfg.Mode, "Source:", cfg.Source)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("%s: %v", cfg.Mode, err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	processor := volatility.NewProcessor(cfg.RiskFreeRate, cfg.Workers)

	if cfg.Mode == "stream" {
		nc, err := stream.Connect(cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		s := stream.New(processor, nc, cfg.NatsResultsSubject)
		s.ValuationDate = cfg.ValuationDate
		return s.Run(ctx, nc, cfg.NatsQuotesSubject, cfg.NatsFuturesSubject)
	}

	src, dynamo, err := source(cfg)
	if err != nil {
		return err
	}

	e := engine.New(src, processor, sinks(cfg, dynamo)...)
	e.ValuationDate = cfg.ValuationDate
	if n := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID); n != nil {
		e.Notifier = n
	}

	switch cfg.Mode {
	case "once":
		_, err := e.RunOnce(ctx)
		return err
	case "serve":
		return e.Serve(ctx, cfg.Schedule)
	case "api":
		var rows api.RowReader
		if dynamo != nil {
			rows = dynamo
		}
		srv := api.NewServer(e, rows, cfg.RiskFreeRate, cfg.Workers)
		if cfg.ArchiveDir != "" {
			srv.Archive = store.NewArchive(cfg.ArchiveDir)
		}
		go func() {
			if err := e.Serve(ctx, cfg.Schedule); err != nil {
				log.Printf("engine: %v", err)
			}
		}()
		return srv.ListenAndServe(ctx, cfg.ListenAddr)
	}
	return fmt.Errorf("unknown mode %q", cfg.Mode)
}

// source returns the configured snapshot source, and the dynamo store when
// that is the source so it can also take the results.
func source(cfg *config.Config) (ingest.Source, *store.Dynamo, error) {
	switch cfg.Source {
	case "csv":
		return ingest.NewCSVSource(cfg.CSVPath), nil, nil
	case "api":
		timeout := cfg.APIHTTPTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return ingest.NewAPISource(cfg.APIOptionsURL, cfg.APIFuturesURL, timeout), nil, nil
	case "dynamo":
		d, err := store.NewDynamo(cfg.AWSRegion, cfg.RawTable, cfg.IVTable)
		if err != nil {
			return nil, nil, fmt.Errorf("dynamo: %w", err)
		}
		d.ScrapeDate = cfg.ScrapeDate
		return d, d, nil
	}
	return nil, nil, fmt.Errorf("unknown source %q", cfg.Source)
}

func sinks(cfg *config.Config, dynamo *store.Dynamo) []engine.Sink {
	out := []engine.Sink{}
	if dynamo != nil {
		out = append(out, dynamo)
	}
	if cfg.OutputDir != "" {
		out = append(out, store.NewCSVExporter(cfg.OutputDir))
	}
	if cfg.ArchiveDir != "" {
		out = append(out, store.NewArchive(cfg.ArchiveDir))
	}
	return out
}
