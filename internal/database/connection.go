// connection.go
//
// Upload-to-Superset table migration service
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of tablebridge.
// tablebridge is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// tablebridge is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with tablebridge.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/localnerve/tablebridge/internal/config"
	"github.com/localnerve/tablebridge/internal/documents"
	"github.com/localnerve/tablebridge/internal/logging"
	"github.com/localnerve/tablebridge/internal/relational"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
)

// dialectorFor builds a GORM dialector for the destination database settings
func dialectorFor(dbType, host, port, user, password, database string) (gorm.Dialector, error) {
	switch dbType {
	case "mysql", "mariadb":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			user,
			password,
			host,
			port,
			database,
		)
		return mysql.Open(dsn), nil

	case "postgres", "postgresql":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			host,
			user,
			password,
			database,
			port,
		)
		return postgres.Open(dsn), nil

	case "sqlite":
		// For SQLite, database is the file path
		return sqlite.Open(database), nil

	case "sqlserver", "mssql":
		dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%s?database=%s",
			url.QueryEscape(user),
			url.QueryEscape(password),
			host,
			port,
			database,
		)
		return sqlserver.Open(dsn), nil

	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// dialectorForDSN builds a GORM dialector from a driver specific DSN
func dialectorForDSN(dbType, dsn string) (gorm.Dialector, error) {
	switch dbType {
	case "mysql", "mariadb":
		return mysql.Open(dsn), nil
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "sqlserver", "mssql":
		return sqlserver.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

func open(dialector gorm.Dialector, connectionLimit int) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logging.GormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying SQL DB for connection pool configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	if connectionLimit > 0 {
		sqlDB.SetMaxOpenConns(connectionLimit)
		sqlDB.SetMaxIdleConns(max(connectionLimit/2, 1))
	}
	return db, nil
}

// Connect opens the relational destination database
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg.DBType, cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBDatabase)
	if err != nil {
		return nil, err
	}

	db, err := open(dialector, cfg.DBConnectionLimit)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"type": cfg.DBType, "database": cfg.DBDatabase}).Info("Connected to destination database")
	return db, nil
}

// ConnectDocuments opens the SQL document store database
func ConnectDocuments(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dialectorForDSN(cfg.DocDBType, cfg.DocDBDSN)
	if err != nil {
		return nil, err
	}

	db, err := open(dialector, 0)
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}

	log.WithField("type", cfg.DocDBType).Info("Connected to document database")
	return db, nil
}

// PostgresURL builds a pgx connection URL for the destination database
func PostgresURL(cfg *config.Config) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:   net.JoinHostPort(cfg.DBHost, cfg.DBPort),
		Path:   "/" + cfg.DBDatabase,
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	if cfg.DBConnectionLimit > 0 {
		q.Set("pool_max_conns", strconv.Itoa(cfg.DBConnectionLimit))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ConnectPool opens a pgx pool on the destination database for COPY loads
func ConnectPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, PostgresURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	log.WithFields(log.Fields{"database": cfg.DBDatabase, "max_conns": pool.Config().MaxConns}).Info("Connected postgres pool")
	return pool, nil
}

// OpenDocumentStore opens the configured document store
func OpenDocumentStore(ctx context.Context, cfg *config.Config) (documents.Store, error) {
	switch cfg.DocStoreType {
	case "mongo":
		store, err := documents.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDBName, cfg.MongoCollectionName)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sql":
		db, err := ConnectDocuments(cfg)
		if err != nil {
			return nil, err
		}
		store, err := documents.NewSQLStore(db)
		if err != nil {
			_ = Close(db)
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported document store type: %s", cfg.DocStoreType)
	}
}

// OpenLoader opens the destination loader: COPY for PostgreSQL, batched inserts otherwise
func OpenLoader(ctx context.Context, cfg *config.Config) (relational.Loader, error) {
	switch cfg.DBType {
	case "postgres", "postgresql":
		pool, err := ConnectPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return relational.NewCopyLoader(pool, cfg.DBSchema, cfg.TableName), nil
	default:
		db, err := Connect(cfg)
		if err != nil {
			return nil, err
		}
		return relational.NewGormLoader(db, cfg.TableName), nil
	}
}

// Close closes the database connection
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
