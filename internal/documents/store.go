// Package documents holds uploaded rows as schemaless records. Every upload
// supersedes the previous one: the collection is purged before the new rows
// are inserted.
package documents

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/localnerve/tablebridge/internal/types"
	log "github.com/sirupsen/logrus"
)

// Record maps column name to cell value for one uploaded row
type Record map[string]string

// Reader reads back every stored record
type Reader interface {
	All(ctx context.Context) ([]Record, error)
}

// Store is a document collection that is replaced wholesale on each upload
type Store interface {
	Reader

	// ReplaceAll purges the collection and inserts records, returning the inserted count
	ReplaceAll(ctx context.Context, records []Record) (int64, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

const utf8BOM = "\uFEFF"

// StoreFile parses the delimited file at path and replaces the store contents with its rows
func StoreFile(ctx context.Context, store Store, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open upload: %v", types.ErrStorage, err)
	}
	defer f.Close()

	records, err := ParseCSV(f)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}

	n, err := store.ReplaceAll(ctx, records)
	if err != nil {
		return n, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}

	log.WithFields(log.Fields{"path": path, "records": n}).Info("Stored upload in document store")
	return n, nil
}

// ParseCSV reads a header line followed by rows that must match the header width
func ParseCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 0 // header width is enforced on every row

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("upload is empty: a header line is required")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, fmt.Errorf("header column %d is empty", i+1)
		}
		if _, dup := seen[h]; dup {
			return nil, fmt.Errorf("header column %q is duplicated", h)
		}
		seen[h] = struct{}{}
		header[i] = h
	}

	var records []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		rec := make(Record, len(header))
		for i, h := range header {
			rec[h] = row[i]
		}
		records = append(records, rec)
	}

	return records, nil
}
