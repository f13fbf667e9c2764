package main

import (
	"bytes"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openrails-go/fleet/internal/config"
	"github.com/openrails-go/fleet/internal/persist"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/storage"
	"github.com/openrails-go/fleet/internal/storage/memory"
	pgstorage "github.com/openrails-go/fleet/internal/storage/postgres"
	sqlitestorage "github.com/openrails-go/fleet/internal/storage/sqlite"
)

// newCatalog creates and initializes the save catalog selected by
// storage.type.
func newCatalog(cfg config.StorageConfig, log zerolog.Logger) (storage.Backend, error) {
	backend, err := createStorageBackend(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s save catalog: %w", cfg.Type, err)
	}
	return backend, nil
}

func createStorageBackend(cfg config.StorageConfig, log zerolog.Logger) (storage.Backend, error) {
	switch cfg.Type {
	case "postgres":
		return pgstorage.New(pgstorage.Dependencies{Config: cfg.Postgres, Logger: log}), nil
	case "sqlite":
		return sqlitestorage.New(cfg.SQLite), nil
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// save encodes ctx into the named slot.
func save(catalog storage.Backend, slot string, ctx *sim.Context) error {
	var buf bytes.Buffer
	if err := persist.Save(&buf, ctx); err != nil {
		return err
	}
	return catalog.Put(storage.Slot{
		Name:    slot,
		Blob:    buf.Bytes(),
		Summary: storage.Summarize(ctx),
		SimTime: ctx.Clock.Time,
	})
}

// restore decodes the named slot into ctx, which must have an empty roster.
func restore(catalog storage.Backend, slot string, ctx *sim.Context) error {
	s, err := catalog.Get(slot)
	if err != nil {
		return err
	}
	return persist.Restore(bytes.NewReader(s.Blob), ctx)
}
