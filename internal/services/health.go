package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/localnerve/tablebridge/internal/utils"
	log "github.com/sirupsen/logrus"
)

// Pinger is any dependency that can report its reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status        string            `json:"status"`
	DocumentStore string            `json:"documentStore"`
	Database      string            `json:"database"`
	Superset      string            `json:"superset"`
	Details       map[string]string `json:"details,omitempty"`
	ErrorMessage  string            `json:"error,omitempty"`
}

// HealthDeps are the dependencies a health check probes
type HealthDeps struct {
	DocumentStore Pinger
	Database      Pinger
	SupersetURL   string

	DocStoreType string
	DBType       string
	TableName    string
}

// HealthCheck performs a comprehensive health check of the service
func HealthCheck(ctx context.Context, deps HealthDeps) HealthCheckResult {
	result := HealthCheckResult{
		Status:  "healthy",
		Details: make(map[string]string),
	}
	var failures []string

	if err := deps.DocumentStore.Ping(ctx); err != nil {
		result.Status = "unhealthy"
		result.DocumentStore = "unreachable"
		result.Details["document_store_error"] = err.Error()
		failures = append(failures, fmt.Sprintf("Document store ping failed: %v", err))
		log.WithError(err).Warn("Health check failed - document store ping")
	} else {
		result.DocumentStore = "ok"
		result.Details["document_store_type"] = deps.DocStoreType
	}

	if err := deps.Database.Ping(ctx); err != nil {
		result.Status = "unhealthy"
		result.Database = "unreachable"
		result.Details["database_error"] = err.Error()
		failures = append(failures, fmt.Sprintf("Database ping failed: %v", err))
		log.WithError(err).Warn("Health check failed - database ping")
	} else {
		result.Database = "ok"
		result.Details["database_type"] = deps.DBType
		result.Details["table_name"] = deps.TableName
	}

	if err := utils.PingSuperset(ctx, deps.SupersetURL); err != nil {
		result.Status = "unhealthy"
		result.Superset = "unreachable"
		result.Details["superset_error"] = err.Error()
		failures = append(failures, fmt.Sprintf("Superset ping failed: %v", err))
		log.WithError(err).Warn("Health check failed - superset ping")
	} else {
		result.Superset = "ok"
		result.Details["superset_url"] = deps.SupersetURL
	}

	result.ErrorMessage = strings.Join(failures, "; ")
	if result.Status == "healthy" {
		log.Debug("Health check passed - all systems operational")
	}

	return result
}
