package postgres

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/openrails-go/fleet/internal/config"
	"github.com/openrails-go/fleet/internal/storage"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func TestInitClose_InjectedDB(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	b := New(Dependencies{DB: db, Logger: zerolog.Nop()})
	require.NoError(t, b.Init())

	require.NoError(t, b.Put(storage.Slot{Name: "autosave", Blob: []byte{1}}))
	got, err := b.Get("autosave")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, got.Blob)

	require.NoError(t, b.Close())
}

func TestInit_Unreachable(t *testing.T) {
	b := New(Dependencies{
		Config: config.PostgresConfig{Host: "127.0.0.1", Port: "1", Username: "postgres", Database: "fleet"},
		Logger: zerolog.Nop(),
	})
	err := b.Init()
	assert.ErrorContains(t, err, "failed to connect to postgres")
}
