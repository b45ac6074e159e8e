package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// APISource pulls raw rows from the HTTP endpoints that front the raw price
// tables. Either endpoint may return options and futures mixed together.
type APISource struct {
	OptionsURL string
	FuturesURL string

	client  *fasthttp.Client
	timeout time.Duration
	headers map[string]string
}

func NewAPISource(optionsURL, futuresURL string, timeout time.Duration) *APISource {
	return &APISource{
		OptionsURL: optionsURL,
		FuturesURL: futuresURL,
		client: &fasthttp.Client{
			Name:                "ibex-iv",
			MaxIdleConnDuration: time.Minute,
		},
		timeout: timeout,
		headers: map[string]string{
			"Accept":          "application/json",
			"Accept-Encoding": "gzip",
		},
	}
}

func (s *APISource) Snapshot(ctx context.Context) (*Snapshot, error) {
	if s.OptionsURL == "" {
		return nil, errors.New("options url not configured")
	}
	records, err := s.fetch(ctx, s.OptionsURL)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	if s.FuturesURL != "" {
		futures, err := s.fetch(ctx, s.FuturesURL)
		if err != nil {
			return nil, fmt.Errorf("futures: %w", err)
		}
		for _, r := range futures {
			if r["type"] == "" {
				r["type"] = "futures"
			}
		}
		records = append(records, futures...)
	}
	return Build(records), nil
}

func (s *APISource) fetch(ctx context.Context, url string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = s.client.DoDeadline(req, resp, deadline)
	} else {
		err = s.client.DoTimeout(req, resp, s.timeout)
	}
	if err != nil {
		return nil, err
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("%s: status %d", url, code)
	}

	body := resp.Body()
	if bytes.EqualFold(resp.Header.ContentEncoding(), []byte("gzip")) {
		if body, err = resp.BodyGunzip(); err != nil {
			return nil, err
		}
	}
	return DecodeRecords(body)
}

// DecodeRecords accepts a JSON list of objects, or an API gateway envelope
// {"body": ...} whose body is that list, possibly as a JSON string.
func DecodeRecords(payload []byte) ([]Record, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}

	if payload[0] == '{' {
		var envelope struct {
			Body json.RawMessage `json:"body"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return nil, err
		}
		if len(envelope.Body) == 0 {
			return nil, errors.New("payload has no body")
		}
		body := envelope.Body
		var inner string
		if json.Unmarshal(body, &inner) == nil {
			body = []byte(inner)
		}
		return DecodeRecords(body)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var rows []map[string]interface{}
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		fields := make(map[string]string, len(row))
		for k, v := range row {
			fields[k] = stringValue(v)
		}
		records = append(records, NewRecord(fields))
	}
	return records, nil
}

func stringValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return FormatNumber(f)
		}
		return x.String()
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
