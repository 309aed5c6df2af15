// common.go
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

package handlers

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/localnerve/tablebridge/internal/types"
)

const maxExtLen = 10

// storageKey names a saved upload. Client filenames only contribute a
// sanitised extension and are never used as paths.
func storageKey(filename string) string {
	return uuid.NewString() + cleanExt(filename)
}

// cleanExt returns the lower-cased extension of filename when it is short and
// alphanumeric, otherwise ""
func cleanExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(strings.ReplaceAll(filename, "\\", "/"))))
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// statusForError maps a migration failure to the HTTP status and the client
// facing message. Raw errors never reach the client.
func statusForError(err error) (int, string) {
	var stageErr *types.StageError
	if !errors.As(err, &stageErr) {
		return fiber.StatusInternalServerError, "migration failed"
	}

	if stageErr.External() {
		return fiber.StatusBadGateway, fmt.Sprintf("%s failed", stageErr.Stage)
	}
	return fiber.StatusInternalServerError, fmt.Sprintf("%s failed", stageErr.Stage)
}
