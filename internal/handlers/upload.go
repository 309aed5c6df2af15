package handlers

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/localnerve/tablebridge/internal/services"
	"github.com/localnerve/tablebridge/internal/utils"
	log "github.com/sirupsen/logrus"
)

// Migrator runs a migration for a saved upload
type Migrator interface {
	Migrate(ctx context.Context, uploadPath string) (services.Report, error)
}

// UploadHandler handles upload routes
type UploadHandler struct {
	Migrator     Migrator
	UploadFolder string
	KeepUploads  bool
}

// Upload handles POST /api/upload
// @Summary Upload a delimited file
// @Description Replace the document store with the uploaded rows, rebuild the destination table and register it in Superset
// @Tags Upload
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Delimited file with a header line"
// @Success 200 {object} utils.UploadSuccessStruct
// @Failure 400 {object} utils.UploadErrorStruct
// @Failure 401 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.UploadErrorStruct
// @Failure 502 {object} utils.UploadErrorStruct
// @Security BearerAuth
// @Router /upload [post]
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		// A part named file with an empty filename arrives as a plain form value
		if form, formErr := c.MultipartForm(); formErr == nil {
			if _, ok := form.Value["file"]; ok {
				return utils.UploadErrorResponse(c, fiber.StatusBadRequest, "No selected file")
			}
		}
		return utils.UploadErrorResponse(c, fiber.StatusBadRequest, "No file part")
	}
	if file.Filename == "" {
		return utils.UploadErrorResponse(c, fiber.StatusBadRequest, "No selected file")
	}

	logCtx := log.WithFields(log.Fields{"filename": file.Filename, "size": file.Size})

	if err := os.MkdirAll(h.UploadFolder, 0o755); err != nil {
		logCtx.WithError(err).Error("Failed to create upload folder")
		return utils.UploadErrorResponse(c, fiber.StatusInternalServerError, "storage failed")
	}

	path := filepath.Join(h.UploadFolder, storageKey(file.Filename))
	if err := c.SaveFile(file, path); err != nil {
		logCtx.WithError(err).Error("Failed to save upload")
		return utils.UploadErrorResponse(c, fiber.StatusInternalServerError, "storage failed")
	}
	if !h.KeepUploads {
		defer func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logCtx.WithError(err).Warn("Failed to remove upload")
			}
		}()
	}

	logCtx.WithField("path", path).Info("Saved upload")

	report, err := h.Migrator.Migrate(c.UserContext(), path)
	if err != nil {
		status, message := statusForError(err)
		logCtx.WithError(err).WithField("status", status).Error("Upload migration failed")
		return utils.UploadErrorResponse(c, status, message)
	}

	return utils.SuccessResponse(c, utils.UploadSuccessStruct{
		Message:   "Data successfully migrated and Superset database created!",
		Table:     report.Load.Table,
		Columns:   report.Load.Columns,
		Rows:      report.Load.Rows,
		DatasetID: report.Registration.DatasetID,
	}, fiber.StatusOK)
}
