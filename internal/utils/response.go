package utils

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// SuccessResponse sends a standard success response
func SuccessResponse(c *fiber.Ctx, data interface{}, status int) error {
	return c.Status(status).JSON(data)
}

// ErrorResponse sends the standard framework error envelope
func ErrorResponse(c *fiber.Ctx, message string, status int, errorType string) error {
	return c.Status(status).JSON(ErrorResponseStruct{
		Status:    status,
		Message:   message,
		Ok:        false,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		URL:       c.OriginalURL(),
		Type:      errorType,
	})
}

// NotFoundResponse sends a 404 not found response
func NotFoundResponse(c *fiber.Ctx, message string) error {
	return ErrorResponse(c, message, fiber.StatusNotFound, "")
}

// UploadErrorResponse sends an upload failure as {"error": message}
func UploadErrorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(UploadErrorStruct{Error: message})
}

// ErrorResponseStruct defines the schema for error responses
type ErrorResponseStruct struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Ok        bool   `json:"ok"`
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
	Type      string `json:"type,omitempty"`
}

// UploadErrorStruct defines the schema for upload failures
type UploadErrorStruct struct {
	Error string `json:"error"`
}

// UploadSuccessStruct defines the schema for a completed upload migration
type UploadSuccessStruct struct {
	Message   string   `json:"message"`
	Table     string   `json:"table"`
	Columns   []string `json:"columns"`
	Rows      int64    `json:"rows"`
	DatasetID int64    `json:"datasetId"`
}
