// Package convert provides functions to convert between GORM models and
// catalog slots
package convert

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/openrails-go/fleet/internal/model"
	"github.com/openrails-go/fleet/internal/storage"
)

// SlotToModel converts a storage.Slot to a GORM model.SaveSlot.
func SlotToModel(s storage.Slot) (model.SaveSlot, error) {
	summary, err := json.Marshal(s.Summary)
	if err != nil {
		return model.SaveSlot{}, fmt.Errorf("failed to marshal summary: %w", err)
	}
	return model.SaveSlot{
		Name:    s.Name,
		Blob:    s.Blob,
		Summary: datatypes.JSON(summary),
		SimTime: s.SimTime,
		Trains:  len(s.Summary.Trains),
		Cars:    s.Summary.Cars(),
	}, nil
}

// ModelToSlot converts a GORM model.SaveSlot back to a storage.Slot. The
// save time is the row's last update.
func ModelToSlot(m model.SaveSlot) (storage.Slot, error) {
	s := storage.Slot{
		Name:    m.Name,
		Blob:    m.Blob,
		SimTime: m.SimTime,
		SavedAt: m.UpdatedAt,
	}
	if len(m.Summary) > 0 {
		if err := json.Unmarshal(m.Summary, &s.Summary); err != nil {
			return storage.Slot{}, fmt.Errorf("failed to unmarshal summary of %q: %w", m.Name, err)
		}
	}
	return s, nil
}
