package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"
	"github.com/souvik131/ibex-iv/ingest"
)

// DynamoDB caps BatchWriteItem at 25 requests.
const batchWriteLimit = 25

var (
	maxWriteAttempts = 5
	writeBackoff     = 200 * time.Millisecond
)

// Dynamo reads raw option and futures rows from one table and keeps IV rows
// in another.
type Dynamo struct {
	Client   dynamodbiface.DynamoDBAPI
	RawTable string
	IVTable  string
	// ScrapeDate restricts the raw scan to one scrape. Empty scans all and
	// keeps the newest.
	ScrapeDate string
}

func NewDynamo(region, rawTable, ivTable string) (*Dynamo, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, err
	}
	return &Dynamo{
		Client:   dynamodb.New(sess),
		RawTable: rawTable,
		IVTable:  ivTable,
	}, nil
}

func (d *Dynamo) Snapshot(ctx context.Context) (*ingest.Snapshot, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(d.RawTable)}
	if d.ScrapeDate != "" {
		expr, err := expression.NewBuilder().
			WithFilter(expression.Name("scrape_date").Equal(expression.Value(d.ScrapeDate))).
			Build()
		if err != nil {
			return nil, err
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	records := []ingest.Record{}
	err := d.Client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		for _, item := range page.Items {
			records = append(records, itemRecord(item))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", d.RawTable, err)
	}
	log.Printf("Scanned %d items from %s", len(records), d.RawTable)
	return ingest.Build(records), nil
}

func itemRecord(item map[string]*dynamodb.AttributeValue) ingest.Record {
	fields := make(map[string]string, len(item))
	for k, v := range item {
		fields[k] = attrString(v)
	}
	return ingest.NewRecord(fields)
}

func attrString(v *dynamodb.AttributeValue) string {
	switch {
	case v == nil:
		return ""
	case v.S != nil:
		return *v.S
	case v.N != nil:
		// N values are dot-decimal
		if f, err := strconv.ParseFloat(*v.N, 64); err == nil {
			return ingest.FormatNumber(f)
		}
		return *v.N
	case v.BOOL != nil:
		if *v.BOOL {
			return "true"
		}
		return "false"
	}
	return ""
}

func rowItem(r Row) (map[string]*dynamodb.AttributeValue, error) {
	item, err := dynamodbattribute.MarshalMap(r)
	if err != nil {
		return nil, err
	}
	if r.IV != nil {
		item["iv"] = &dynamodb.AttributeValue{N: aws.String(RoundIV(*r.IV).String())}
	}
	return item, nil
}

// PutRows writes rows to the IV table, retrying unprocessed items with a
// growing backoff.
func (d *Dynamo) PutRows(ctx context.Context, rows []Row) error {
	requests := make([]*dynamodb.WriteRequest, 0, len(rows))
	for _, r := range rows {
		item, err := rowItem(r)
		if err != nil {
			return fmt.Errorf("%s: %w", r.ID, err)
		}
		requests = append(requests, &dynamodb.WriteRequest{PutRequest: &dynamodb.PutRequest{Item: item}})
	}

	for start := 0; start < len(requests); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(requests) {
			end = len(requests)
		}
		if err := d.writeBatch(ctx, requests[start:end]); err != nil {
			return err
		}
	}
	log.Printf("Wrote %d rows to %s", len(rows), d.IVTable)
	return nil
}

func (d *Dynamo) writeBatch(ctx context.Context, pending []*dynamodb.WriteRequest) error {
	backoff := writeBackoff
	for attempt := 1; len(pending) > 0; attempt++ {
		out, err := d.Client.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]*dynamodb.WriteRequest{d.IVTable: pending},
		})
		if err != nil {
			return fmt.Errorf("batch write %s: %w", d.IVTable, err)
		}
		pending = out.UnprocessedItems[d.IVTable]
		if len(pending) == 0 {
			return nil
		}
		if attempt >= maxWriteAttempts {
			return fmt.Errorf("batch write %s: %d items unprocessed after %d attempts", d.IVTable, len(pending), attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil
}

// Query filters the IV table. Empty arguments match everything.
type Query struct {
	ScrapeDate string
	Date       string
	Type       string
}

func (q Query) condition() (expression.ConditionBuilder, bool) {
	conds := []expression.ConditionBuilder{}
	if q.ScrapeDate != "" {
		conds = append(conds, expression.Name("scrape_date").Equal(expression.Value(q.ScrapeDate)))
	}
	if q.Date != "" {
		conds = append(conds, expression.Name("date").Equal(expression.Value(q.Date)))
	}
	if q.Type != "" {
		conds = append(conds, expression.Name("type").Equal(expression.Value(strings.ToLower(q.Type))))
	}
	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return conds[0], true
	}
	return expression.And(conds[0], conds[1], conds[2:]...), true
}

func (d *Dynamo) QueryRows(ctx context.Context, q Query) ([]Row, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(d.IVTable)}
	if cond, ok := q.condition(); ok {
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, err
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	rows := []Row{}
	var decodeErr error
	err := d.Client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		batch := []Row{}
		if err := dynamodbattribute.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			decodeErr = err
			return false
		}
		rows = append(rows, batch...)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", d.IVTable, err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return rows, nil
}

var ErrNoTable = errors.New("table not configured")

// Save implements the result sink used by the engine.
func (d *Dynamo) Save(ctx context.Context, b Batch) error {
	if d.IVTable == "" {
		return ErrNoTable
	}
	return d.PutRows(ctx, b.Rows)
}
