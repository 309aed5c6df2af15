package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/localnerve/tablebridge/internal/documents"
	"github.com/localnerve/tablebridge/internal/flatfile"
	"github.com/localnerve/tablebridge/internal/relational"
	"github.com/localnerve/tablebridge/internal/superset"
	"github.com/localnerve/tablebridge/internal/types"
	log "github.com/sirupsen/logrus"
)

// BIRegistrar authenticates with the BI tool and registers the loaded table
type BIRegistrar interface {
	Authenticate(ctx context.Context) (superset.Tokens, error)
	Register(ctx context.Context, tokens superset.Tokens, target superset.Target) (superset.Registration, error)
}

// Report summarises a completed migration
type Report struct {
	Stored       int64
	Export       flatfile.Result
	Load         relational.Result
	Registration superset.Registration
	Duration     time.Duration
}

// Migrator runs upload -> document store -> flat file -> relational table -> Superset.
// Only one migration runs at a time per process.
type Migrator struct {
	mu sync.Mutex

	store    documents.Store
	loader   relational.Loader
	bi       BIRegistrar
	target   superset.Target
	flatFile string
	metrics  *Metrics
}

// NewMigrator wires the pipeline stages. metrics may be nil.
func NewMigrator(store documents.Store, loader relational.Loader, bi BIRegistrar, target superset.Target, flatFile string, metrics *Metrics) *Migrator {
	return &Migrator{
		store:    store,
		loader:   loader,
		bi:       bi,
		target:   target,
		flatFile: flatFile,
		metrics:  metrics,
	}
}

// Migrate runs every stage in order against the uploaded file at uploadPath.
// The first failing stage stops the run and is returned as a *types.StageError.
func (m *Migrator) Migrate(ctx context.Context, uploadPath string) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	logCtx := log.WithField("upload", uploadPath)
	var report Report

	fail := func(stage types.Stage, err error) (Report, error) {
		m.metrics.observe(stage, false)
		m.metrics.finish(false, time.Since(start))
		logCtx.WithError(err).WithField("stage", stage).Error("Migration failed")
		return report, &types.StageError{Stage: stage, Err: err}
	}

	stored, err := documents.StoreFile(ctx, m.store, uploadPath)
	if err != nil {
		return fail(types.StageStorage, err)
	}
	report.Stored = stored
	m.metrics.observe(types.StageStorage, true)

	exported, err := flatfile.Export(ctx, m.store, m.flatFile)
	if err != nil {
		return fail(types.StageExport, err)
	}
	report.Export = exported
	m.metrics.observe(types.StageExport, true)

	loaded, err := m.loader.Load(ctx, m.flatFile)
	if err != nil {
		return fail(types.StageLoad, err)
	}
	report.Load = loaded
	m.metrics.observe(types.StageLoad, true)

	tokens, err := m.bi.Authenticate(ctx)
	if err != nil {
		return fail(types.StageAuth, ensure(err, types.ErrAuth))
	}
	m.metrics.observe(types.StageAuth, true)

	reg, err := m.bi.Register(ctx, tokens, m.target)
	if err != nil {
		return fail(types.StageRegister, ensure(err, types.ErrRegistration))
	}
	report.Registration = reg
	m.metrics.observe(types.StageRegister, true)

	report.Duration = time.Since(start)
	m.metrics.finish(true, report.Duration)

	logCtx.WithFields(log.Fields{
		"stored":     report.Stored,
		"columns":    len(report.Load.Columns),
		"rows":       report.Load.Rows,
		"dataset_id": reg.DatasetID,
		"duration":   report.Duration.String(),
	}).Info("Migration complete")
	return report, nil
}

// ensure guarantees err matches sentinel under errors.Is
func ensure(err, sentinel error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return errors.Join(sentinel, err)
}
