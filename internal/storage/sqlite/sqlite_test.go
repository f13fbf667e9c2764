package sqlitestorage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrails-go/fleet/internal/config"
	"github.com/openrails-go/fleet/internal/storage"
)

var _ storage.Backend = (*Backend)(nil)

func TestSlotsSurviveReopen(t *testing.T) {
	cfg := config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "fleet.db")}

	b := New(cfg)
	require.NoError(t, b.Init())
	require.NoError(t, b.Put(storage.Slot{
		Name:    "autosave",
		Blob:    []byte{0xde, 0xad},
		SimTime: 42,
		Summary: storage.Summary{Trains: []storage.TrainSummary{{Number: 0, Name: "local", Kind: "player", Cars: 1, Length: 20}}},
	}))
	require.NoError(t, b.Close())

	reopened := New(cfg)
	require.NoError(t, reopened.Init())
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get("autosave")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, got.Blob)
	assert.InDelta(t, 42, got.SimTime, 1e-9)
	assert.Equal(t, "local", got.Summary.Trains[0].Name)
}

func TestInit_BadPath(t *testing.T) {
	b := New(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "missing", "dir", "fleet.db")})
	assert.Error(t, b.Init())
}

func TestClose_BeforeInit(t *testing.T) {
	assert.NoError(t, New(config.SQLiteConfig{}).Close())
}
