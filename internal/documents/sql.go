package documents

import (
	"context"
	"fmt"

	"github.com/localnerve/tablebridge/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const insertBatchSize = 500

// SQLStore keeps records as JSON rows in any GORM supported database
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore migrates the document_records table and returns a store over it
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&models.DocumentRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate document_records: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// ReplaceAll purges and inserts inside one transaction
func (s *SQLStore) ReplaceAll(ctx context.Context, records []Record) (int64, error) {
	rows := make([]models.DocumentRecord, len(records))
	for i, rec := range records {
		data := make(datatypes.JSONMap, len(rec))
		for k, v := range rec {
			data[k] = v
		}
		rows[i] = models.DocumentRecord{Data: data}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.DocumentRecord{}).Error; err != nil {
			return fmt.Errorf("purge records: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
			return fmt.Errorf("insert records: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return int64(len(rows)), nil
}

// All returns every record ordered by id. The id column is not part of the record.
func (s *SQLStore) All(ctx context.Context) ([]Record, error) {
	var rows []models.DocumentRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find records: %w", err)
	}

	records := make([]Record, len(rows))
	for i, row := range rows {
		rec := make(Record, len(row.Data))
		for k, v := range row.Data {
			rec[k] = stringValue(v)
		}
		records[i] = rec
	}
	return records, nil
}

// Count returns the number of stored records
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.DocumentRecord{}).Count(&n).Error
	return n, err
}

// Ping checks the underlying connection
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (s *SQLStore) Close(_ context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
