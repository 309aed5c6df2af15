package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/localnerve/tablebridge/internal/config"
	"github.com/localnerve/tablebridge/internal/logging"
	"github.com/localnerve/tablebridge/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	_ "github.com/localnerve/tablebridge/docs/api" // Swagger docs
)

// @title Tablebridge API
// @version 1.0.0
// @description Upload a delimited file, rebuild it as a relational table and register it in Apache Superset
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url https://github.com/localnerve/tablebridge
// @contact.email info@localnerve.com

// @license.name AGPL-3.0
// @license.url https://www.gnu.org/licenses/agpl-3.0.html

// @host localhost:5000
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Connect the stores and wire the migration pipeline
	svc, err := server.Bootstrap(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("Failed to start service: %v", err)
	}
	defer svc.Close()
	app := svc.App

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Info("Gracefully shutting down...")
		_ = app.Shutdown()
	}()

	// Start server
	port := cfg.Port
	log.WithFields(log.Fields{
		"port":     port,
		"table":    cfg.TableName,
		"superset": svc.Superset.BaseURL(),
	}).Info("Starting server")
	if err := app.Listen(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Info("Server stopped")
}
