package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const dateFormat = "2006-01-02"

type Config struct {
	Mode   string
	Source string

	CSVPath        string
	APIOptionsURL  string
	APIFuturesURL  string
	APIHTTPTimeout time.Duration

	AWSRegion string
	RawTable  string
	IVTable   string
	// ScrapeDate restricts the dynamo source to one scrape when set.
	ScrapeDate string

	OutputDir  string
	ArchiveDir string

	RiskFreeRate  float64
	Workers       int
	ValuationDate *time.Time

	Schedule   string
	ListenAddr string

	NatsURL            string
	NatsQuotesSubject  string
	NatsFuturesSubject string
	NatsResultsSubject string

	TelegramToken  string
	TelegramChatID int64
}

// Load reads the IV_* environment. A .env file is loaded first when the
// environment does not already carry IV_MODE.
func Load() (*Config, error) {
	if os.Getenv("IV_MODE") == "" {
		godotenv.Load()
	}
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Mode:               get("IV_MODE", "once"),
		Source:             get("IV_SOURCE", "csv"),
		CSVPath:            get("IV_CSV_PATH", "./data/quotes.csv"),
		APIOptionsURL:      getenv("IV_API_OPTIONS_URL"),
		APIFuturesURL:      getenv("IV_API_FUTURES_URL"),
		AWSRegion:          get("IV_AWS_REGION", "us-east-1"),
		RawTable:           get("IV_RAW_TABLE", "dev-raw-prices"),
		IVTable:            get("IV_TABLE", "dev-implied-vols"),
		ScrapeDate:         getenv("IV_SCRAPE_DATE"),
		OutputDir:          getenv("IV_OUTPUT_DIR"),
		ArchiveDir:         getenv("IV_ARCHIVE_DIR"),
		Schedule:           get("IV_SCHEDULE", "0 */15 * * * *"),
		ListenAddr:         get("IV_LISTEN_ADDR", ":8080"),
		NatsURL:            get("IV_NATS_URL", "nats://127.0.0.1:4222"),
		NatsQuotesSubject:  get("IV_NATS_QUOTES_SUBJECT", "quotes.options"),
		NatsFuturesSubject: get("IV_NATS_FUTURES_SUBJECT", "quotes.futures"),
		NatsResultsSubject: get("IV_NATS_RESULTS_SUBJECT", "iv.results"),
		TelegramToken:      getenv("IV_TELEGRAM_TOKEN"),
	}

	var err error
	if cfg.RiskFreeRate, err = strconv.ParseFloat(get("IV_RISK_FREE_RATE", "0"), 64); err != nil {
		return nil, fmt.Errorf("IV_RISK_FREE_RATE: %w", err)
	}
	if cfg.Workers, err = strconv.Atoi(get("IV_WORKERS", "4")); err != nil {
		return nil, fmt.Errorf("IV_WORKERS: %w", err)
	}
	timeout, err := strconv.ParseFloat(get("IV_API_TIMEOUT", "10"), 64)
	if err != nil {
		return nil, fmt.Errorf("IV_API_TIMEOUT: %w", err)
	}
	cfg.APIHTTPTimeout = time.Duration(timeout * float64(time.Second))

	if v := getenv("IV_VALUATION_DATE"); v != "" {
		d, err := time.Parse(dateFormat, v)
		if err != nil {
			return nil, fmt.Errorf("IV_VALUATION_DATE: %w", err)
		}
		cfg.ValuationDate = &d
	}
	if v := getenv("IV_TELEGRAM_CHAT_ID"); v != "" {
		if cfg.TelegramChatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("IV_TELEGRAM_CHAT_ID: %w", err)
		}
	}

	switch cfg.Mode {
	case "once", "serve", "stream", "api":
	default:
		return nil, fmt.Errorf("IV_MODE: unknown mode %q", cfg.Mode)
	}
	switch cfg.Source {
	case "csv", "api", "dynamo":
	default:
		return nil, fmt.Errorf("IV_SOURCE: unknown source %q", cfg.Source)
	}
	return cfg, nil
}
