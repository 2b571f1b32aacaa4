// Package store owns the single embedded sqlite database that backs one
// library root. Every exported method is a short, focused transaction;
// nothing here holds a lock across an external call (LibreOffice, an
// embedding API, disk I/O for thumbnails).
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	applog "github.com/slidemanager/backend-daemon/internal/logger"

	"github.com/slidemanager/backend-daemon/internal/domain"
)

type Store struct {
	db  *gorm.DB
	log *applog.Logger
}

// Open creates the parent directory if needed, opens (or creates) the
// sqlite file at dbPath, applies the required PRAGMAs, and runs
// AutoMigrate plus the FTS5 virtual table creation.
func Open(dbPath string, log *applog.Logger) (*Store, error) {
	serviceLog := log.With("service", "Store")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		serviceLog.Error("failed to open sqlite database", "error", err, "path", dbPath)
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, log: serviceLog}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	s.log.Info("auto migrating sqlite schema")
	if err := s.db.AutoMigrate(domain.AllModels()...); err != nil {
		s.log.Error("auto migration failed", "error", err)
		return fmt.Errorf("automigrate: %w", err)
	}
	if err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS fts_pages
		USING fts5(page_id UNINDEXED, norm_text)
	`).Error; err != nil {
		return fmt.Errorf("create fts_pages: %w", err)
	}
	return nil
}

// DB exposes the underlying *gorm.DB for callers that need to compose a
// custom read (e.g. joined listing endpoints in the control API). Mutating
// operations should go through the dedicated methods on Store instead, so
// every write stays a documented, single-purpose transaction.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
