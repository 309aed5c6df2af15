package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/localnerve/tablebridge/data"
	"github.com/localnerve/tablebridge/internal/documents"
	"github.com/localnerve/tablebridge/internal/relational"
	"github.com/localnerve/tablebridge/internal/superset"
	"github.com/localnerve/tablebridge/internal/superset/supersettest"
	"github.com/localnerve/tablebridge/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testTable = "uploaded_rows"

type fakeRegistrar struct {
	authErr     error
	registerErr error

	authCalls     atomic.Int32
	registerCalls atomic.Int32
}

func (f *fakeRegistrar) Authenticate(context.Context) (superset.Tokens, error) {
	f.authCalls.Add(1)
	if f.authErr != nil {
		return superset.Tokens{}, f.authErr
	}
	return superset.Tokens{Access: "a", Signed: "s", Subject: "42"}, nil
}

func (f *fakeRegistrar) Register(context.Context, superset.Tokens, superset.Target) (superset.Registration, error) {
	f.registerCalls.Add(1)
	if f.registerErr != nil {
		return superset.Registration{}, f.registerErr
	}
	return superset.Registration{DatabaseID: 1, DatasetID: 2, DatasetCreated: true}, nil
}

type fixture struct {
	migrator *Migrator
	store    *documents.SQLStore
	db       *gorm.DB
	bi       *fakeRegistrar
	metrics  *Metrics
	dir      string
}

func openMemoryDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newFixture(t *testing.T, bi BIRegistrar) *fixture {
	t.Helper()
	store, err := documents.NewSQLStore(openMemoryDB(t))
	require.NoError(t, err)

	db := openMemoryDB(t)
	dir := t.TempDir()
	metrics := NewMetrics(prometheus.NewRegistry())

	f := &fixture{store: store, db: db, metrics: metrics, dir: dir}
	if fb, ok := bi.(*fakeRegistrar); ok {
		f.bi = fb
	}
	f.migrator = NewMigrator(store, relational.NewGormLoader(db, testTable), bi, superset.Target{
		DatabaseName:  "warehouse",
		Engine:        "sqlite",
		SQLAlchemyURI: "sqlite:///warehouse.db",
		Table:         testTable,
	}, filepath.Join(dir, "export.csv"), metrics)
	return f
}

func (f *fixture) upload(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(f.dir, "upload.csv")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func (f *fixture) tableColumns(t *testing.T) []string {
	t.Helper()
	var names []string
	require.NoError(t, f.db.Raw("SELECT name FROM pragma_table_info(?) ORDER BY cid", testTable).Scan(&names).Error)
	return names
}

func TestMigrateSuccess(t *testing.T) {
	f := newFixture(t, &fakeRegistrar{})

	report, err := f.migrator.Migrate(context.Background(), f.upload(t, data.SamplePeople))
	require.NoError(t, err)

	assert.Equal(t, int64(3), report.Stored)
	assert.Equal(t, []string{"age", "city", "name"}, report.Export.Columns)
	assert.Equal(t, int64(3), report.Load.Rows)
	assert.Equal(t, int64(2), report.Registration.DatasetID)
	assert.Equal(t, []string{"age", "city", "name"}, f.tableColumns(t))

	assert.Equal(t, int32(1), f.bi.authCalls.Load())
	assert.Equal(t, int32(1), f.bi.registerCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.stages.WithLabelValues("register", "success")))
}

func TestMigrateReplacesPreviousUpload(t *testing.T) {
	f := newFixture(t, &fakeRegistrar{})

	_, err := f.migrator.Migrate(context.Background(), f.upload(t, data.SamplePeople))
	require.NoError(t, err)
	report, err := f.migrator.Migrate(context.Background(), f.upload(t, data.SampleAccounts))
	require.NoError(t, err)

	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.Stored, n)
	assert.Equal(t, []string{"email", "id", "plan"}, f.tableColumns(t))
}

func TestMigrateStageFailures(t *testing.T) {
	authErr := errors.New("login refused")

	tests := []struct {
		name          string
		content       []byte
		bi            *fakeRegistrar
		stage         types.Stage
		sentinel      error
		wantAuthCalls int32
		wantRegCalls  int32
	}{
		{
			name:     "malformed upload",
			content:  []byte("a,a\n1,2\n"),
			bi:       &fakeRegistrar{},
			stage:    types.StageStorage,
			sentinel: types.ErrStorage,
		},
		{
			name:     "header only upload",
			content:  []byte("a,b\n"),
			bi:       &fakeRegistrar{},
			stage:    types.StageExport,
			sentinel: types.ErrEmptyCollection,
		},
		{
			name:          "auth failure skips registration",
			content:       data.SampleRows,
			bi:            &fakeRegistrar{authErr: authErr},
			stage:         types.StageAuth,
			sentinel:      types.ErrAuth,
			wantAuthCalls: 1,
		},
		{
			name:          "registration failure",
			content:       data.SampleRows,
			bi:            &fakeRegistrar{registerErr: errors.New("boom")},
			stage:         types.StageRegister,
			sentinel:      types.ErrRegistration,
			wantAuthCalls: 1,
			wantRegCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.bi)

			_, err := f.migrator.Migrate(context.Background(), f.upload(t, tt.content))
			require.Error(t, err)

			var stageErr *types.StageError
			require.True(t, errors.As(err, &stageErr))
			assert.Equal(t, tt.stage, stageErr.Stage)
			assert.True(t, errors.Is(err, tt.sentinel))
			assert.Equal(t, tt.wantAuthCalls, tt.bi.authCalls.Load())
			assert.Equal(t, tt.wantRegCalls, tt.bi.registerCalls.Load())
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.stages.WithLabelValues(string(tt.stage), "failure")))
		})
	}
}

func TestMigrateAuthErrorKeepsCause(t *testing.T) {
	cause := errors.New("login refused")
	f := newFixture(t, &fakeRegistrar{authErr: cause})

	_, err := f.migrator.Migrate(context.Background(), f.upload(t, data.SampleRows))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAuth))
	assert.True(t, errors.Is(err, cause))
}

func TestMigrateWithSupersetRejectingLogin(t *testing.T) {
	fake := supersettest.New()
	defer fake.Close()
	fake.LoginStatus = 401

	client, err := superset.New(superset.Config{
		BaseURL:   fake.URL,
		Username:  supersettest.Username,
		Password:  supersettest.Password,
		Secret:    []byte("secret"),
		RetryWait: time.Millisecond,
	})
	require.NoError(t, err)

	f := newFixture(t, client)
	_, err = f.migrator.Migrate(context.Background(), f.upload(t, data.SampleRows))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAuth))

	// the table was still loaded
	assert.Equal(t, []string{"a", "b"}, f.tableColumns(t))
	assert.Empty(t, fake.CallsTo("GET", "/api/v1/security/csrf_token/"))
	assert.Empty(t, fake.Databases())
}

func TestMigrateWithSuperset(t *testing.T) {
	fake := supersettest.New()
	defer fake.Close()

	client, err := superset.New(superset.Config{
		BaseURL:   fake.URL,
		Username:  supersettest.Username,
		Password:  supersettest.Password,
		Secret:    []byte("secret"),
		RetryWait: time.Millisecond,
	})
	require.NoError(t, err)

	f := newFixture(t, client)
	report, err := f.migrator.Migrate(context.Background(), f.upload(t, data.SamplePeople))
	require.NoError(t, err)
	assert.True(t, report.Registration.DatasetCreated)

	report, err = f.migrator.Migrate(context.Background(), f.upload(t, data.SampleAccounts))
	require.NoError(t, err)
	assert.False(t, report.Registration.DatasetCreated)
	assert.Equal(t, []int64{report.Registration.DatasetID}, fake.Refreshed())
}

func TestMigrateSerialisesRuns(t *testing.T) {
	bi := &blockingRegistrar{release: make(chan struct{}), entered: make(chan struct{}, 2)}
	f := newFixture(t, bi)

	first := filepath.Join(f.dir, "first.csv")
	second := filepath.Join(f.dir, "second.csv")
	require.NoError(t, os.WriteFile(first, data.SamplePeople, 0o644))
	require.NoError(t, os.WriteFile(second, data.SampleAccounts, 0o644))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, path := range []string{first, second} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := f.migrator.Migrate(context.Background(), p)
			errs <- err
		}(path)
	}

	<-bi.entered
	select {
	case <-bi.entered:
		t.Fatal("second migration entered while the first was running")
	case <-time.After(100 * time.Millisecond):
	}
	close(bi.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(2), bi.done.Load())
}

type blockingRegistrar struct {
	release chan struct{}
	entered chan struct{}
	done    atomic.Int32
}

func (b *blockingRegistrar) Authenticate(context.Context) (superset.Tokens, error) {
	b.entered <- struct{}{}
	<-b.release
	b.done.Add(1)
	return superset.Tokens{Signed: "s"}, nil
}

func (b *blockingRegistrar) Register(context.Context, superset.Tokens, superset.Target) (superset.Registration, error) {
	return superset.Registration{}, nil
}
