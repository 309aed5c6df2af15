package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/tablebridge/internal/config"
	"github.com/localnerve/tablebridge/internal/database"
	"github.com/localnerve/tablebridge/internal/documents"
	"github.com/localnerve/tablebridge/internal/handlers"
	"github.com/localnerve/tablebridge/internal/relational"
	"github.com/localnerve/tablebridge/internal/services"
	"github.com/localnerve/tablebridge/internal/superset"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Service is the fully wired application and the connections it owns
type Service struct {
	App      *fiber.App
	Superset *superset.Client

	store  documents.Store
	loader relational.Loader
}

// Bootstrap opens the document store and destination database, builds the
// Superset client and migrator from cfg and returns the assembled app.
// reg receives both pipeline and HTTP metrics.
func Bootstrap(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Service, error) {
	store, err := database.OpenDocumentStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}

	loader, err := database.OpenLoader(ctx, cfg)
	if err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("open destination database: %w", err)
	}

	svc := &Service{store: store, loader: loader}

	bi, err := superset.New(superset.Config{
		BaseURL:  cfg.SupersetURL,
		Username: cfg.SupersetUsername,
		Password: cfg.SupersetPassword,
		Provider: cfg.SupersetProvider,
		Secret:   []byte(cfg.TokenSecret),
		Bearer:   cfg.SupersetBearer,
		PageSize: cfg.SupersetPageSize,
		Timeout:  cfg.SupersetTimeout,
		RPS:      cfg.SupersetRPS,
	})
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("create Superset client: %w", err)
	}
	svc.Superset = bi

	engine, uri, err := superset.SQLAlchemyURI(cfg.DBType, cfg.SupersetDBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBDatabase)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("build Superset connection URI: %w", err)
	}

	schema := cfg.DBSchema
	if cfg.DBType == "mysql" || cfg.DBType == "mariadb" {
		schema = cfg.DBDatabase
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	migrator := services.NewMigrator(store, loader, bi, superset.Target{
		DatabaseName:  cfg.SupersetDBName,
		Engine:        engine,
		SQLAlchemyURI: uri,
		Schema:        schema,
		Table:         cfg.TableName,
	}, cfg.CSVFilename, services.NewMetrics(reg))

	svc.App = New(Options{
		Upload: &handlers.UploadHandler{
			Migrator:     migrator,
			UploadFolder: cfg.UploadFolder,
			KeepUploads:  cfg.KeepUploads,
		},
		Health: &handlers.HealthHandler{Deps: services.HealthDeps{
			DocumentStore: store,
			Database:      loader,
			SupersetURL:   cfg.SupersetURL,
			DocStoreType:  cfg.DocStoreType,
			DBType:        cfg.DBType,
			TableName:     cfg.TableName,
		}},
		RequireAuth: cfg.RequireAuth,
		TokenSecret: []byte(cfg.TokenSecret),
		MaxUploadMB: cfg.MaxUploadMB,
		Registerer:  reg,
		RequestLog:  true,
	})

	return svc, nil
}

// Close releases the database connections
func (s *Service) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Close(ctx); err != nil {
		log.WithError(err).Warn("Failed to close document store")
	}
	s.loader.Close()
}
