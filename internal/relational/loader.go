// Package relational recreates the destination table from the exported flat
// file. The table is always dropped and rebuilt with every column typed as
// unstructured text; it is never altered in place.
package relational

import (
	"context"
	"fmt"
	"strings"

	"github.com/localnerve/tablebridge/internal/flatfile"
	"github.com/localnerve/tablebridge/internal/types"
)

// Result describes a completed load
type Result struct {
	Table   string
	Columns []string
	Rows    int64
}

// Loader replaces the destination table with the contents of a flat file
type Loader interface {
	Load(ctx context.Context, path string) (Result, error)
	Ping(ctx context.Context) error
	Close()
}

// readColumns reads and validates the flat file header
func readColumns(path string) ([]string, error) {
	columns, err := flatfile.ReadHeader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrLoad, err)
	}
	if err := validateColumns(columns); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrLoad, err)
	}
	return columns, nil
}

func validateColumns(columns []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("no columns")
	}
	seen := make(map[string]struct{}, len(columns))
	for i, c := range columns {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("column %d has an empty name", i+1)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("column %q is duplicated", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// quoteIdent quotes a single identifier for the named dialect
func quoteIdent(dialect, name string) string {
	switch dialect {
	case "mysql":
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case "sqlserver":
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// textType is the unstructured text column type for the named dialect
func textType(dialect string) string {
	if dialect == "sqlserver" {
		return "NVARCHAR(MAX)"
	}
	return "TEXT"
}

func dropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + table
}

// createTableSQL builds CREATE TABLE with every column typed colType.
// table must already be quoted.
func createTableSQL(table string, columns []string, colType string, quote func(string) string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(c))
		b.WriteString(" ")
		b.WriteString(colType)
	}
	b.WriteString(")")
	return b.String()
}
