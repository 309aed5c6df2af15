// document.go
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

package models

import (
	"time"

	"gorm.io/datatypes"
)

// DocumentRecord is one uploaded row held by the SQL document store.
// Data maps column name to cell value; ID is store-assigned and never exported.
type DocumentRecord struct {
	ID        uint64            `gorm:"primaryKey;autoIncrement"`
	Data      datatypes.JSONMap `gorm:"not null"`
	CreatedAt time.Time
}

// TableName overrides the table name for DocumentRecord
func (DocumentRecord) TableName() string {
	return "document_records"
}
