// Package database opens the single SQLite handle backing the
// workflow-history sink (internal/history). The core's data model has no
// other persisted entities — the history table is the only out-of-scope
// collaborator that needs durable storage (spec.md §1).
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/claworc/sshgate/internal/config"
)

// DB is the process-wide database handle, populated by Init.
var DB *gorm.DB

// Init opens the SQLite file named by config.Cfg.DatabasePath, creating its
// parent directory if needed, and enables WAL mode for concurrent readers.
func Init() error {
	dbPath := config.Cfg.DatabasePath
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	return nil
}
