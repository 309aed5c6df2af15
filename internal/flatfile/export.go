// Package flatfile materialises the document collection as a single CSV whose
// header is the sorted union of every record's keys.
package flatfile

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/localnerve/tablebridge/internal/documents"
	"github.com/localnerve/tablebridge/internal/types"
	log "github.com/sirupsen/logrus"
)

// Result describes a written flat file
type Result struct {
	Path    string
	Columns []string
	Rows    int
}

// Columns returns the sorted union of keys across records
func Columns(records []documents.Record) []string {
	set := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			set[k] = struct{}{}
		}
	}

	columns := make([]string, 0, len(set))
	for k := range set {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns
}

// Write emits the header and one line per record, filling absent keys with ""
func Write(w io.Writer, records []documents.Record) ([]string, error) {
	columns := Columns(records)

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	row := make([]string, len(columns))
	for _, rec := range records {
		for i, c := range columns {
			row[i] = rec[c]
		}
		if err := cw.Write(row); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	return columns, nil
}

// Export reads every record from r and replaces the file at path.
// An empty collection leaves an empty file and fails with ErrEmptyCollection.
func Export(ctx context.Context, r documents.Reader, path string) (Result, error) {
	records, err := r.All(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", types.ErrExport, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: %v", types.ErrExport, err)
	}

	if len(records) == 0 {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return Result{}, fmt.Errorf("%w: %v", types.ErrExport, err)
		}
		return Result{Path: path}, fmt.Errorf("%w: %w", types.ErrExport, types.ErrEmptyCollection)
	}

	// Write beside the target and rename so a failed export never leaves a torn file
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.csv")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", types.ErrExport, err)
	}
	defer os.Remove(tmp.Name())

	columns, err := Write(tmp, records)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", types.ErrExport, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return Result{}, fmt.Errorf("%w: %v", types.ErrExport, err)
	}

	log.WithFields(log.Fields{"path": path, "columns": len(columns), "rows": len(records)}).Info("Exported flat file")
	return Result{Path: path, Columns: columns, Rows: len(records)}, nil
}

// ReadHeader parses only the first line of a flat file
func ReadHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header line: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, fmt.Errorf("flat file %s has no header", path)
	}

	header, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return nil, fmt.Errorf("parse header line: %w", err)
	}
	return header, nil
}
