// Package gormstorage implements storage.Backend over any GORM dialect.
// The sqlite and postgres backends embed it and only differ in how the
// connection is opened.
package gormstorage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openrails-go/fleet/internal/model"
	"github.com/openrails-go/fleet/internal/model/convert"
	"github.com/openrails-go/fleet/internal/storage"
)

// Backend stores slots in the save_slots table.
type Backend struct {
	db *gorm.DB
}

// New wraps an open connection.
func New(db *gorm.DB) *Backend {
	return &Backend{db: db}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.db
}

// Init migrates the schema.
func (b *Backend) Init() error {
	if b.db == nil {
		return errors.New("no database connection")
	}
	if err := b.db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	return sqlDB.Close()
}

// Put upserts the slot by name.
func (b *Backend) Put(slot storage.Slot) error {
	row, err := convert.SlotToModel(slot)
	if err != nil {
		return err
	}
	err = b.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"blob", "summary", "sim_time", "trains", "cars", "updated_at", "deleted_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save slot %q: %w", slot.Name, err)
	}
	return nil
}

// Get loads the slot with the given name.
func (b *Backend) Get(name string) (storage.Slot, error) {
	var row model.SaveSlot
	err := b.db.Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.Slot{}, fmt.Errorf("%q: %w", name, storage.ErrSlotNotFound)
	}
	if err != nil {
		return storage.Slot{}, fmt.Errorf("failed to load slot %q: %w", name, err)
	}
	return convert.ModelToSlot(row)
}

// List returns every slot without its blob.
func (b *Backend) List() ([]storage.Slot, error) {
	var rows []model.SaveSlot
	err := b.db.Omit("blob").Order("updated_at DESC").Order("name").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	slots := make([]storage.Slot, 0, len(rows))
	for _, row := range rows {
		s, err := convert.ModelToSlot(row)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, nil
}
