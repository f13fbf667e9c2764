package gormstorage

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/openrails-go/fleet/internal/storage"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func setupTestDB(t *testing.T) *Backend {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	b := New(db)
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func slot(name string, trains ...string) storage.Slot {
	s := storage.Slot{Name: name, Blob: []byte(name), SimTime: 10}
	for i, tn := range trains {
		s.Summary.Trains = append(s.Summary.Trains, storage.TrainSummary{Number: i, Name: tn, Kind: "static", Cars: 2, Length: 30})
	}
	return s
}

func TestInit_WithoutDB(t *testing.T) {
	assert.Error(t, New(nil).Init())
	assert.NoError(t, New(nil).Close())
}

func TestPutGet(t *testing.T) {
	b := setupTestDB(t)

	require.NoError(t, b.Put(slot("autosave", "local", "goods")))
	got, err := b.Get("autosave")
	require.NoError(t, err)
	assert.Equal(t, []byte("autosave"), got.Blob)
	assert.Len(t, got.Summary.Trains, 2)
	assert.Equal(t, "goods", got.Summary.Trains[1].Name)
	assert.False(t, got.SavedAt.IsZero())
}

func TestPut_ReplacesByName(t *testing.T) {
	b := setupTestDB(t)

	require.NoError(t, b.Put(slot("autosave", "local")))
	next := slot("autosave", "local", "goods", "shunter")
	next.Blob = []byte{9}
	require.NoError(t, b.Put(next))

	got, err := b.Get("autosave")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, got.Blob)
	assert.Len(t, got.Summary.Trains, 3)

	all, err := b.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGet_NotFound(t *testing.T) {
	b := setupTestDB(t)
	_, err := b.Get("missing")
	assert.ErrorIs(t, err, storage.ErrSlotNotFound)
}

func TestList_OmitsBlobs(t *testing.T) {
	b := setupTestDB(t)

	require.NoError(t, b.Put(slot("morning", "a")))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Put(slot("evening", "a", "b")))

	all, err := b.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "evening", all[0].Name)
	assert.Equal(t, "morning", all[1].Name)
	for _, s := range all {
		assert.Empty(t, s.Blob)
	}
	assert.Len(t, all[0].Summary.Trains, 2)
}
