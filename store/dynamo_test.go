package store_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/souvik131/ibex-iv/store"
)

type fakeDynamo struct {
	dynamodbiface.DynamoDBAPI

	pages   map[string][][]map[string]*dynamodb.AttributeValue
	scans   []*dynamodb.ScanInput
	writes  [][]*dynamodb.WriteRequest
	dropOne int // how many calls return their last request as unprocessed
}

func (f *fakeDynamo) ScanPagesWithContext(ctx aws.Context, in *dynamodb.ScanInput, fn func(*dynamodb.ScanOutput, bool) bool, opts ...request.Option) error {
	f.scans = append(f.scans, in)
	pages := f.pages[*in.TableName]
	for i, items := range pages {
		if !fn(&dynamodb.ScanOutput{Items: items}, i == len(pages)-1) {
			break
		}
	}
	return nil
}

func (f *fakeDynamo) BatchWriteItemWithContext(ctx aws.Context, in *dynamodb.BatchWriteItemInput, opts ...request.Option) (*dynamodb.BatchWriteItemOutput, error) {
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]*dynamodb.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		if f.dropOne > 0 && len(reqs) > 0 {
			f.dropOne--
			out.UnprocessedItems[table] = reqs[len(reqs)-1:]
			reqs = reqs[:len(reqs)-1]
		}
		f.writes = append(f.writes, reqs)
	}
	return out, nil
}

func s(v string) *dynamodb.AttributeValue { return &dynamodb.AttributeValue{S: aws.String(v)} }
func n(v string) *dynamodb.AttributeValue { return &dynamodb.AttributeValue{N: aws.String(v)} }

func TestDynamoSnapshot(t *testing.T) {
	fake := &fakeDynamo{pages: map[string][][]map[string]*dynamodb.AttributeValue{
		"dev-raw-prices": {
			{
				{"id": s("2024-03-01#2024-03-15#futures"), "type": s("futures"), "last_price": n("10020"), "scrape_date": s("2024-03-01")},
				{"id": s("2024-03-01#2024-03-15#calls#10000"), "type": s("calls"), "price": n("150"), "date": s("2024-03-15"), "strike": n("10000"), "scrape_date": s("2024-03-01")},
			},
			{
				{"id": s("2024-03-01#2024-03-15#puts#9800"), "Tipo_Opcion": s("Put"), "Precio": s("95,5"), "Fecha_Venc": s("15/03/2024"), "Precio_Ejercicio": s("9.800"), "scrape_date": s("2024-03-01")},
			},
		},
	}}
	d := &store.Dynamo{Client: fake, RawTable: "dev-raw-prices", IVTable: "dev-implied-vols", ScrapeDate: "2024-03-01"}

	snap, err := d.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot returned an error: %v", err)
	}
	if len(snap.Futures) != 1 || snap.Futures[0].LastPrice != 10020 {
		t.Errorf("unexpected futures %+v", snap.Futures)
	}
	if len(snap.Options) != 2 {
		t.Fatalf("expected 2 options, got %d", len(snap.Options))
	}
	if put := snap.Options[1]; put.Strike != 9800 || put.Price != 95.5 {
		t.Errorf("unexpected put %+v", put)
	}
	if len(fake.scans) != 1 || fake.scans[0].FilterExpression == nil {
		t.Errorf("expected a filtered scan, got %+v", fake.scans)
	}
}

func TestDynamoSnapshotNumbers(t *testing.T) {
	fake := &fakeDynamo{pages: map[string][][]map[string]*dynamodb.AttributeValue{
		"dev-raw-prices": {{
			{"type": s("futures"), "date": s("2024-03-15"), "last_price": n("10020.125")},
			{"type": s("calls"), "date": s("2024-03-15"), "strike": n("10000"), "price": n("12.375"), "precio": n("1")},
			{"type": s("calls"), "date": s("2024-03-15"), "strike": n("10500"), "price": n("0.125")},
		}},
	}}
	d := &store.Dynamo{Client: fake, RawTable: "dev-raw-prices"}

	snap, err := d.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot returned an error: %v", err)
	}
	if len(snap.Futures) != 1 || snap.Futures[0].LastPrice != 10020.125 {
		t.Errorf("unexpected futures %+v", snap.Futures)
	}
	prices := map[float64]float64{}
	for _, q := range snap.Options {
		prices[q.Strike] = q.Price
	}
	if prices[10000] != 12.375 || prices[10500] != 0.125 {
		t.Errorf("expected N values read as written, got %v", prices)
	}
}

func TestDynamoPutRows(t *testing.T) {
	rows := make([]store.Row, 0, 30)
	for i := 0; i < 30; i++ {
		iv := 0.123456
		rows = append(rows, store.Row{ID: "r" + string(rune('a'+i)), Date: "2024-03-15", Type: "calls", Strike: float64(9000 + i*50), IV: &iv, Status: "OK"})
	}
	rows[29].IV = nil
	rows[29].Status = "NO_CONVERGENCE"

	fake := &fakeDynamo{dropOne: 1}
	d := &store.Dynamo{Client: fake, IVTable: "dev-implied-vols"}
	if err := d.PutRows(context.Background(), rows); err != nil {
		t.Fatalf("PutRows returned an error: %v", err)
	}

	// 24 + retry of 1 + 5
	if len(fake.writes) != 3 {
		t.Fatalf("expected 3 batch writes, got %d", len(fake.writes))
	}
	total := 0
	for _, w := range fake.writes {
		if len(w) > 25 {
			t.Errorf("batch of %d exceeds the limit", len(w))
		}
		total += len(w)
	}
	if total != 30 {
		t.Errorf("expected 30 items written, got %d", total)
	}

	first := fake.writes[0][0].PutRequest.Item
	if first["iv"] == nil || *first["iv"].N != "0.1235" {
		t.Errorf("expected iv rounded to 4 decimals, got %v", first["iv"])
	}
	last := fake.writes[2][len(fake.writes[2])-1].PutRequest.Item
	if _, ok := last["iv"]; ok {
		t.Errorf("expected no iv attribute for an unsolved row")
	}
}

func TestDynamoQueryRows(t *testing.T) {
	fake := &fakeDynamo{pages: map[string][][]map[string]*dynamodb.AttributeValue{
		"dev-implied-vols": {{
			{"id": s("2024-03-15#calls#10000"), "date": s("2024-03-15"), "type": s("calls"), "strike": n("10000"), "iv": n("0.1312"), "status": s("OK")},
			{"id": s("2024-03-15#puts#9000"), "date": s("2024-03-15"), "type": s("puts"), "strike": n("9000"), "status": s("NO_CONVERGENCE")},
		}},
	}}
	d := &store.Dynamo{Client: fake, IVTable: "dev-implied-vols"}

	rows, err := d.QueryRows(context.Background(), store.Query{})
	if err != nil {
		t.Fatalf("QueryRows returned an error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].IV == nil || *rows[0].IV != 0.1312 || rows[1].IV != nil {
		t.Errorf("unexpected rows %+v", rows)
	}
	if fake.scans[0].FilterExpression != nil {
		t.Errorf("expected an unfiltered scan")
	}

	if _, err := d.QueryRows(context.Background(), store.Query{Date: "2024-03-15", Type: "CALLS"}); err != nil {
		t.Fatalf("QueryRows returned an error: %v", err)
	}
	filtered := fake.scans[1]
	if filtered.FilterExpression == nil || len(filtered.ExpressionAttributeValues) != 2 {
		t.Errorf("expected a two-condition filter, got %+v", filtered)
	}
}
