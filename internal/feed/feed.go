// Package feed reads the append-only catalog sheet.
//
// A feed is a list of (timestamp, name, price) rows. Rows without a name are
// not part of the feed, so row counts and slicing always refer to named rows.
package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var ErrNoSource = errors.New("feed: no source configured")

// Row is one positional catalog record.
type Row struct {
	Index     int // 0-based position among named rows
	Timestamp string
	Name      string
	PriceRaw  string
	Price     int64
}

// Source returns every row of the feed, in order, on each call.
type Source interface {
	ReadAllRows(ctx context.Context) ([]Row, error)
}

// RowCount reports how many named rows src currently holds.
func RowCount(ctx context.Context, src Source) (int, error) {
	if src == nil {
		return 0, ErrNoSource
	}
	rows, err := src.ReadAllRows(ctx)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ParsePrice keeps only the digits of raw and parses them. Anything that
// yields no digits, or overflows, is 0.
func ParsePrice(raw string) int64 {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParseCSV decodes (timestamp, name, price) records. skipHeader drops the
// first record. Short records are padded; extra columns are ignored.
func ParseCSV(r io.Reader, skipHeader bool) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var rows []Row
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("feed: csv: %w", err)
		}
		if first && skipHeader {
			first = false
			continue
		}
		first = false

		col := func(i int) string {
			if i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		name := col(1)
		if name == "" {
			continue
		}
		rows = append(rows, Row{
			Index:     len(rows),
			Timestamp: col(0),
			Name:      name,
			PriceRaw:  col(2),
			Price:     ParsePrice(col(2)),
		})
	}
	return rows, nil
}
