// Package server assembles the Fiber application: middleware, routes and the
// global error handler.
package server

import (
	"errors"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	swagger "github.com/gofiber/swagger"
	"github.com/localnerve/tablebridge/internal/handlers"
	"github.com/localnerve/tablebridge/internal/middleware"
	"github.com/localnerve/tablebridge/internal/types"
	"github.com/localnerve/tablebridge/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Options configures New
type Options struct {
	Upload *handlers.UploadHandler
	Health *handlers.HealthHandler

	// RequireAuth guards the upload route with bearer tokens signed by TokenSecret
	RequireAuth bool
	TokenSecret []byte
	MaxUploadMB int

	// Registerer receives the HTTP metrics; nil uses the default registry
	Registerer prometheus.Registerer
	// RequestLog enables per request access logging
	RequestLog bool
}

// New builds the Fiber app
func New(opts Options) *fiber.App {
	bodyLimit := opts.MaxUploadMB << 20
	if bodyLimit <= 0 {
		bodyLimit = fiber.DefaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
	})

	// Global middleware
	app.Use(recover.New())
	if opts.RequestLog {
		app.Use(logger.New())
	}
	app.Use(cors.New())
	app.Use(compress.New())

	// Prometheus metrics
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	prom := fiberprometheus.NewWithRegistry(reg, "tablebridge", "http", "", nil)
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// API routes under /api
	api := app.Group("/api")
	api.Use(middleware.VersionMiddleware())

	if opts.Health != nil {
		api.Get("/health", opts.Health.Health)
	}

	if opts.Upload != nil {
		uploadChain := []fiber.Handler{}
		if opts.RequireAuth {
			uploadChain = append(uploadChain, middleware.AuthBearer(opts.TokenSecret))
		}
		uploadChain = append(uploadChain, opts.Upload.Upload)
		api.Post("/upload", uploadChain...)
	}

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return utils.NotFoundResponse(c, "[404] Resource Not Found")
	})

	return app
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()
	errorType := "unknown"

	var fiberErr *fiber.Error
	var customErr *types.CustomError
	switch {
	case errors.As(err, &customErr):
		code = customErr.Code
		message = customErr.Message
		errorType = customErr.Type
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code >= fiber.StatusInternalServerError {
		log.WithError(err).WithField("url", c.OriginalURL()).Error("Request failed")
	}

	return c.Status(code).JSON(utils.ErrorResponseStruct{
		Status:    code,
		Message:   message,
		Ok:        false,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		URL:       c.OriginalURL(),
		Type:      errorType,
	})
}
