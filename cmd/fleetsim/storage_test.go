package main

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrails-go/fleet/internal/config"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/storage"
	"github.com/openrails-go/fleet/internal/storage/memory"
	pgstorage "github.com/openrails-go/fleet/internal/storage/postgres"
	sqlitestorage "github.com/openrails-go/fleet/internal/storage/sqlite"
	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
)

func TestCreateStorageBackend(t *testing.T) {
	tests := []struct {
		typ  string
		want any
	}{
		{"memory", &memory.Backend{}},
		{"", &memory.Backend{}},
		{"sqlite", &sqlitestorage.Backend{}},
		{"postgres", &pgstorage.Backend{}},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			b, err := createStorageBackend(config.StorageConfig{Type: tt.typ}, zerolog.Nop())
			require.NoError(t, err)
			assert.IsType(t, tt.want, b)
		})
	}

	_, err := createStorageBackend(config.StorageConfig{Type: "websocket"}, zerolog.Nop())
	assert.EqualError(t, err, "unknown storage type: websocket")
}

func yard(t *testing.T) *track.DB {
	t.Helper()
	db := track.NewDB()
	require.NoError(t, db.AddNode(track.Node{ID: 1, Length: 800}))
	return db
}

func TestSaveRestore(t *testing.T) {
	catalog, err := newCatalog(config.StorageConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "fleet.db")},
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	db := yard(t)
	ctx := newContext(db, sim.ModeSinglePlayer, "", 1)
	ctx.Clock.Time = 90

	local := train.New(0, "local", train.KindPlayer)
	local.Attach(train.NewCar("local - 0", 20, true), train.NewCar("local - 1", 15, false))
	local.RecalculateLength()
	local.SelectLead(nil)
	local.Front = track.Traveller{Node: 1, Offset: 300, Direction: track.Forward}
	local.RepositionRear(db)
	require.NoError(t, ctx.Roster.Add(local))
	ctx.SetPilotedCar(local.Cars[0])

	require.NoError(t, save(catalog, "autosave", ctx))

	slots, err := catalog.List()
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, []storage.TrainSummary{{Number: 0, Name: "local", Kind: "player", Cars: 2, Length: 35}}, slots[0].Summary.Trains)

	restored := newContext(db, sim.ModeSinglePlayer, "", 1)
	require.NoError(t, restore(catalog, "autosave", restored))
	assert.InDelta(t, 90, restored.Clock.Time, 1e-9)
	require.Equal(t, 1, restored.Roster.Len())
	got, ok := restored.Roster.ByNumber(0)
	require.True(t, ok)
	assert.Equal(t, "local", got.Name)
	assert.Len(t, got.Cars, 2)
	require.NotNil(t, restored.PilotedCar())
	assert.Equal(t, "local - 0", restored.PilotedCar().CarID)
}

func TestRestore_MissingSlot(t *testing.T) {
	catalog, err := newCatalog(config.StorageConfig{Type: "memory"}, zerolog.Nop())
	require.NoError(t, err)
	err = restore(catalog, "nope", newContext(yard(t), sim.ModeSinglePlayer, "", 1))
	assert.ErrorIs(t, err, storage.ErrSlotNotFound)
}
