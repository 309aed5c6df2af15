package relational

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
	"gorm.io/gorm"
	"gorm.io/hints"
)

const (
	maxBatchRows = 500
	// Stays under the SQLite (999) and SQL Server (2100) bind parameter limits
	maxBatchParams = 900
)

// GormLoader loads any GORM dialect with batched multi-row INSERTs
type GormLoader struct {
	db    *gorm.DB
	table string
}

// NewGormLoader returns a loader for table over db
func NewGormLoader(db *gorm.DB, table string) *GormLoader {
	return &GormLoader{db: db, table: table}
}

// dialect normalises the GORM dialector name to the quoting families we know
func (l *GormLoader) dialect() string {
	switch name := l.db.Dialector.Name(); name {
	case "mysql", "sqlserver", "postgres", "sqlite":
		return name
	default:
		return "sqlite"
	}
}

func batchRows(columns int) int {
	n := maxBatchParams / columns
	if n < 1 {
		return 1
	}
	if n > maxBatchRows {
		return maxBatchRows
	}
	return n
}

// insertSQL builds a multi-row INSERT with GORM bind markers
func insertSQL(table string, columns []string, rows int, quote func(string) string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(c))
	}
	b.WriteString(") VALUES ")

	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}
	return b.String()
}

// Load drops and recreates the table from the flat file header, then inserts every row
func (l *GormLoader) Load(ctx context.Context, path string) (Result, error) {
	columns, err := readColumns(path)
	if err != nil {
		return Result{}, err
	}
	for _, c := range columns {
		// GORM treats every ? in raw SQL as a bind marker, even inside quotes
		if strings.Contains(c, "?") {
			return Result{}, fmt.Errorf("%w: column %q contains '?'", types.ErrLoad, c)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", types.ErrLoad, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(columns)
	if _, err := cr.Read(); err != nil {
		return Result{}, fmt.Errorf("%w: skip header: %v", types.ErrLoad, err)
	}

	dialect := l.dialect()
	quote := func(name string) string { return quoteIdent(dialect, name) }
	table := quote(l.table)
	perBatch := batchRows(len(columns))

	var total int64
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(dropTableSQL(table)).Error; err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
		if err := tx.Exec(createTableSQL(table, columns, textType(dialect), quote)).Error; err != nil {
			return fmt.Errorf("create table: %w", err)
		}

		args := make([]interface{}, 0, perBatch*len(columns))
		flush := func() error {
			if len(args) == 0 {
				return nil
			}
			rows := len(args) / len(columns)
			res := tx.Exec(insertSQL(table, columns, rows, quote), args...)
			if res.Error != nil {
				return fmt.Errorf("insert rows: %w", res.Error)
			}
			total += int64(rows)
			args = args[:0]
			return nil
		}

		for {
			rec, err := cr.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("read row: %w", err)
			}
			for _, v := range rec {
				args = append(args, v)
			}
			if len(args) >= perBatch*len(columns) {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := flush(); err != nil {
			return err
		}

		var loaded int64
		if err := tx.Clauses(hints.CommentBefore("select", "tablebridge:verify-load")).Table(l.table).Count(&loaded).Error; err != nil {
			return fmt.Errorf("count rows: %w", err)
		}
		if loaded != total {
			return fmt.Errorf("inserted %d rows but table holds %d", total, loaded)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", types.ErrLoad, err)
	}

	log.WithFields(log.Fields{"table": l.table, "dialect": dialect, "columns": len(columns), "rows": total}).Info("Loaded destination table")
	return Result{Table: l.table, Columns: columns, Rows: total}, nil
}

// Ping checks the underlying connection
func (l *GormLoader) Ping(ctx context.Context) error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (l *GormLoader) Close() {
	if sqlDB, err := l.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
