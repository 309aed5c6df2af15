package database

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/localnerve/tablebridge/internal/config"
	"github.com/localnerve/tablebridge/internal/relational"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectorFor(t *testing.T) {
	for _, dbType := range []string{"mysql", "mariadb", "postgres", "postgresql", "sqlite", "sqlserver", "mssql"} {
		d, err := dialectorFor(dbType, "db", "1234", "user", "pass", "warehouse")
		require.NoError(t, err, dbType)
		assert.NotNil(t, d)
	}

	_, err := dialectorFor("oracle", "db", "1521", "user", "pass", "warehouse")
	assert.EqualError(t, err, "unsupported database type: oracle")

	_, err = dialectorForDSN("oracle", "x")
	assert.Error(t, err)
}

func TestPostgresURL(t *testing.T) {
	cfg := &config.Config{
		DBHost:            "db",
		DBPort:            "5432",
		DBUser:            "app",
		DBPassword:        "p@ss word",
		DBDatabase:        "warehouse",
		DBConnectionLimit: 4,
	}

	u, err := url.Parse(PostgresURL(cfg))
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/warehouse", u.Path)
	assert.Equal(t, "app", u.User.Username())
	pass, _ := u.User.Password()
	assert.Equal(t, "p@ss word", pass)
	assert.Equal(t, "4", u.Query().Get("pool_max_conns"))
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}

func TestOpenDocumentStoreSQL(t *testing.T) {
	cfg := &config.Config{
		DocStoreType: "sql",
		DocDBType:    "sqlite",
		DocDBDSN:     filepath.Join(t.TempDir(), "documents.db"),
	}

	store, err := OpenDocumentStore(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close(context.Background())

	require.NoError(t, store.Ping(context.Background()))
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenLoaderSQLite(t *testing.T) {
	cfg := &config.Config{
		DBType:     "sqlite",
		DBDatabase: filepath.Join(t.TempDir(), "warehouse.db"),
		TableName:  "uploaded_rows",
	}

	loader, err := OpenLoader(context.Background(), cfg)
	require.NoError(t, err)
	defer loader.Close()

	assert.IsType(t, &relational.GormLoader{}, loader)
	assert.NoError(t, loader.Ping(context.Background()))
}

func TestOpenUnsupported(t *testing.T) {
	_, err := OpenDocumentStore(context.Background(), &config.Config{DocStoreType: "redis"})
	assert.Error(t, err)

	_, err = OpenLoader(context.Background(), &config.Config{DBType: "oracle"})
	assert.Error(t, err)
}
