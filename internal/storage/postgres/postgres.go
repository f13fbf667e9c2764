// Package postgres implements the save catalog on PostgreSQL through the
// GORM backend.
package postgres

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/openrails-go/fleet/internal/config"
	"github.com/openrails-go/fleet/internal/database"
	gormstorage "github.com/openrails-go/fleet/internal/storage/gorm"
)

// Dependencies holds all dependencies for the Postgres catalog.
type Dependencies struct {
	// DB is used as-is when set; otherwise Init connects with Config.
	DB     *gorm.DB
	Config config.PostgresConfig
	Logger zerolog.Logger
}

// Backend wraps the GORM backend for PostgreSQL.
type Backend struct {
	*gormstorage.Backend
	deps Dependencies
}

// New creates a new Postgres catalog.
func New(deps Dependencies) *Backend {
	return &Backend{deps: deps, Backend: gormstorage.New(deps.DB)}
}

// Init connects when no DB was injected and migrates the schema.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		b.deps.Logger.Debug().
			Str("host", b.deps.Config.Host).
			Str("port", b.deps.Config.Port).
			Str("database", b.deps.Config.Database).
			Msg("Connecting to Postgres catalog")
		db, err := database.OpenPostgres(b.deps.Config)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.deps.DB = db
		b.Backend = gormstorage.New(db)
	}
	if err := b.Backend.Init(); err != nil {
		return err
	}
	b.deps.Logger.Info().Msg("Postgres catalog ready")
	return nil
}
