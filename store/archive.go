package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

var dateFormatConcise = "20060102"

// Archive appends every computed batch to a daily file of length-prefixed,
// zstd-compressed protobuf frames.
//
//	frame := uint64 big-endian size | zstd(Batch)
//	Batch: 1 scrape_date, 2 computed_at (unix seconds), 3 repeated Row
//	Row:   1 id, 2 scrape_date, 3 date, 4 type, 5 strike, 6 price,
//	       7 underlying, 8 dias_vto, 9 iv (absent when not solved), 10 status
type Archive struct {
	Dir string
	mu  sync.Mutex
}

// Batch is one archived computation.
type Batch struct {
	ScrapeDate string    `json:"scrape_date"`
	ComputedAt time.Time `json:"computed_at"`
	Rows       []Row     `json:"rows"`
}

func NewArchive(dir string) *Archive {
	return &Archive{Dir: dir}
}

func (a *Archive) path(day time.Time) string {
	return filepath.Join(a.Dir, "iv_"+day.UTC().Format(dateFormatConcise)+".bin.zstd")
}

func (a *Archive) Append(b Batch) (string, error) {
	if err := os.MkdirAll(a.Dir, 0755); err != nil {
		return "", err
	}
	filename := a.path(b.ComputedAt)
	a.mu.Lock()
	defer a.mu.Unlock()
	return filename, appendToFile(filename, marshalBatch(b))
}

// Read returns every batch archived on the given day, oldest first.
func (a *Archive) Read(day time.Time) ([]Batch, error) {
	return ReadArchive(a.path(day))
}

func ReadArchive(filename string) ([]Batch, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	batches := []Batch{}
	for len(b) > 0 {
		if len(b) < 8 {
			return batches, errors.New("truncated frame header")
		}
		sizeOfPacket := binary.BigEndian.Uint64(b[0:8])
		if uint64(len(b)-8) < sizeOfPacket {
			return batches, errors.New("truncated frame")
		}
		packet, err := decompress(b[8 : sizeOfPacket+8])
		if err != nil {
			return batches, err
		}
		b = b[sizeOfPacket+8:]

		batch, err := unmarshalBatch(packet)
		if err != nil {
			return batches, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func compress(input []byte) ([]byte, error) {
	var b bytes.Buffer
	bestLevel := zstd.WithEncoderLevel(zstd.SpeedBestCompression)
	encoder, err := zstd.NewWriter(&b, bestLevel)
	if err != nil {
		return nil, err
	}

	_, err = encoder.Write(input)
	if err != nil {
		encoder.Close()
		return nil, err
	}

	err = encoder.Close()
	if err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func decompress(input []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(decoder)
	if err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}

func appendToFile(filename string, data []byte) error {
	compressedData, err := compress(data)
	if err != nil {
		return err
	}

	bytesToSave := make([]byte, 8)
	binary.BigEndian.PutUint64(bytesToSave, uint64(len(compressedData)))
	bytesToSave = append(bytesToSave, compressedData...)

	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.Write(bytesToSave)
	if err != nil {
		return err
	}
	log.Printf("Archived %d bytes to %s", len(bytesToSave), filename)
	return nil
}

func marshalBatch(b Batch) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendString(out, b.ScrapeDate)
	out = protowire.AppendTag(out, 2, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(b.ComputedAt.Unix()))
	for _, r := range b.Rows {
		out = protowire.AppendTag(out, 3, protowire.BytesType)
		out = protowire.AppendBytes(out, marshalRow(r))
	}
	return out
}

func marshalRow(r Row) []byte {
	var out []byte
	str := func(num protowire.Number, s string) {
		if s == "" {
			return
		}
		out = protowire.AppendTag(out, num, protowire.BytesType)
		out = protowire.AppendString(out, s)
	}
	dbl := func(num protowire.Number, f float64) {
		out = protowire.AppendTag(out, num, protowire.Fixed64Type)
		out = protowire.AppendFixed64(out, math.Float64bits(f))
	}
	str(1, r.ID)
	str(2, r.ScrapeDate)
	str(3, r.Date)
	str(4, r.Type)
	dbl(5, r.Strike)
	dbl(6, r.Price)
	dbl(7, r.Underlying)
	out = protowire.AppendTag(out, 8, protowire.VarintType)
	out = protowire.AppendVarint(out, protowire.EncodeZigZag(int64(r.DaysToExp)))
	if r.IV != nil {
		dbl(9, *r.IV)
	}
	str(10, r.Status)
	return out
}

func unmarshalBatch(b []byte) (Batch, error) {
	batch := Batch{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return batch, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return batch, protowire.ParseError(n)
			}
			batch.ScrapeDate = v
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return batch, protowire.ParseError(n)
			}
			batch.ComputedAt = time.Unix(int64(v), 0).UTC()
			b = b[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return batch, protowire.ParseError(n)
			}
			row, err := unmarshalRow(v)
			if err != nil {
				return batch, fmt.Errorf("row %d: %w", len(batch.Rows), err)
			}
			batch.Rows = append(batch.Rows, row)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return batch, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return batch, nil
}

func unmarshalRow(b []byte) (Row, error) {
	r := Row{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case 1:
				r.ID = v
			case 2:
				r.ScrapeDate = v
			case 3:
				r.Date = v
			case 4:
				r.Type = v
			case 10:
				r.Status = v
			}
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
			f := math.Float64frombits(v)
			switch num {
			case 5:
				r.Strike = f
			case 6:
				r.Price = f
			case 7:
				r.Underlying = f
			case 9:
				r.IV = &f
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
			if num == 8 {
				r.DaysToExp = int(protowire.DecodeZigZag(v))
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return r, nil
}

func (a *Archive) Save(_ context.Context, b Batch) error {
	_, err := a.Append(b)
	return err
}
