package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/localnerve/tablebridge/data"
	"github.com/localnerve/tablebridge/internal/documents"
	"github.com/localnerve/tablebridge/internal/flatfile"
	"github.com/localnerve/tablebridge/internal/relational"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Runs an upload through the document store, flat file export and table load
// against in-memory SQLite, then prints the DDL that results.
func main() {
	var uploadPath, table string
	flag.StringVar(&uploadPath, "f", "", "delimited file to load (defaults to the bundled people sample)")
	flag.StringVar(&table, "table", "uploaded_rows", "destination table name")
	flag.Parse()

	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		log.Fatal(err)
	}
	// every connection to :memory: is a separate database
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	dir, err := os.MkdirTemp("", "inspect-schema")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	if uploadPath == "" {
		uploadPath = filepath.Join(dir, "people.csv")
		if err := os.WriteFile(uploadPath, data.SamplePeople, 0o600); err != nil {
			log.Fatal(err)
		}
	}

	store, err := documents.NewSQLStore(db)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := documents.StoreFile(ctx, store, uploadPath); err != nil {
		log.Fatal(err)
	}

	flatFile := filepath.Join(dir, "export.csv")
	if _, err := flatfile.Export(ctx, store, flatFile); err != nil {
		log.Fatal(err)
	}

	result, err := relational.NewGormLoader(db, table).Load(ctx, flatFile)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Loaded %d rows into %s %v\n", result.Rows, result.Table, result.Columns)

	// Get the schema
	var tables []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table'").Scan(&tables)

	for _, name := range tables {
		fmt.Printf("\n=== Table: %s ===\n", name)
		var schema string
		db.Raw("SELECT sql FROM sqlite_master WHERE name = ?", name).Scan(&schema)
		fmt.Println(schema)
	}
}
