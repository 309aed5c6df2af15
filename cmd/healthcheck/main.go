// main.go
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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/localnerve/tablebridge/internal/config"
	"github.com/localnerve/tablebridge/internal/database"
	"github.com/localnerve/tablebridge/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Connect to the document store and destination database
	store, err := database.OpenDocumentStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open document store: %v", err)
	}
	defer func() { _ = store.Close(context.Background()) }()

	loader, err := database.OpenLoader(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open destination database: %v", err)
	}
	defer loader.Close()

	// Perform health check
	result := services.HealthCheck(ctx, services.HealthDeps{
		DocumentStore: store,
		Database:      loader,
		SupersetURL:   cfg.SupersetURL,
		DocStoreType:  cfg.DocStoreType,
		DBType:        cfg.DBType,
		TableName:     cfg.TableName,
	})

	// Output result as JSON
	output, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal health check result: %v", err)
	}

	fmt.Println(string(output))

	// Exit with appropriate code
	if result.Status != "healthy" {
		os.Exit(1)
	}
}
