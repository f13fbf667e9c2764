// Package sqlitestorage implements the save catalog in a SQLite file. It
// wraps the GORM backend via composition; the only SQLite-specific concern
// is opening the file.
package sqlitestorage

import (
	"fmt"

	"github.com/openrails-go/fleet/internal/config"
	"github.com/openrails-go/fleet/internal/database"
	gormstorage "github.com/openrails-go/fleet/internal/storage/gorm"
)

// Backend wraps the GORM backend for a SQLite file.
type Backend struct {
	*gormstorage.Backend
	cfg config.SQLiteConfig
}

// New creates a SQLite catalog. The file is opened by Init.
func New(cfg config.SQLiteConfig) *Backend {
	return &Backend{cfg: cfg, Backend: gormstorage.New(nil)}
}

// Init opens the database file and migrates the schema.
func (b *Backend) Init() error {
	db, err := database.OpenSQLite(b.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open SQLite catalog %s: %w", b.cfg.Path, err)
	}
	b.Backend = gormstorage.New(db)
	return b.Backend.Init()
}
