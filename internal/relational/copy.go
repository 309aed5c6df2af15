package relational

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/localnerve/tablebridge/internal/types"
	log "github.com/sirupsen/logrus"
)

// CopyLoader loads PostgreSQL with COPY FROM STDIN.
// Drop, create and copy share one transaction so a failed load keeps the previous table.
type CopyLoader struct {
	pool   *pgxpool.Pool
	schema string
	table  string
}

// NewCopyLoader returns a loader for schema.table over pool
func NewCopyLoader(pool *pgxpool.Pool, schema, table string) *CopyLoader {
	return &CopyLoader{pool: pool, schema: schema, table: table}
}

func (l *CopyLoader) qualifiedTable() string {
	if l.schema == "" {
		return pgx.Identifier{l.table}.Sanitize()
	}
	return pgx.Identifier{l.schema, l.table}.Sanitize()
}

func pgQuote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// copySQL streams the whole file including its header; HEADER skips that first line
func copySQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgQuote(c)
	}
	return fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (FORMAT csv, HEADER true)", table, strings.Join(quoted, ", "))
}

// Load drops and recreates the table from the flat file header, then bulk copies every row
func (l *CopyLoader) Load(ctx context.Context, path string) (Result, error) {
	columns, err := readColumns(path)
	if err != nil {
		return Result{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", types.ErrLoad, err)
	}
	defer f.Close()

	table := l.qualifiedTable()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: begin: %v", types.ErrLoad, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, dropTableSQL(table)); err != nil {
		return Result{}, fmt.Errorf("%w: drop table: %v", types.ErrLoad, err)
	}
	if _, err := tx.Exec(ctx, createTableSQL(table, columns, textType("postgres"), pgQuote)); err != nil {
		return Result{}, fmt.Errorf("%w: create table: %v", types.ErrLoad, err)
	}

	tag, err := tx.Conn().PgConn().CopyFrom(ctx, f, copySQL(table, columns))
	if err != nil {
		return Result{}, fmt.Errorf("%w: copy: %v", types.ErrLoad, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: commit: %v", types.ErrLoad, err)
	}

	log.WithFields(log.Fields{"table": table, "columns": len(columns), "rows": tag.RowsAffected()}).Info("Loaded destination table")
	return Result{Table: l.table, Columns: columns, Rows: tag.RowsAffected()}, nil
}

// Ping checks a pooled connection
func (l *CopyLoader) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close closes the pool
func (l *CopyLoader) Close() {
	l.pool.Close()
}
