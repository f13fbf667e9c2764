// Package model holds the GORM schema of the save catalog.
package model

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DatabaseModels lists every table the catalog migrates.
var DatabaseModels = []interface{}{
	&SaveSlot{},
}

// SaveSlot is one named save. Blob is the persistence codec output; Summary
// is a JSON description of the roster for listing without decoding.
type SaveSlot struct {
	gorm.Model
	Name    string         `json:"name" gorm:"size:200;uniqueIndex"`
	Blob    []byte         `json:"-"`
	Summary datatypes.JSON `json:"summary"`
	SimTime float64        `json:"simTime"`
	Trains  int            `json:"trains"`
	Cars    int            `json:"cars"`
}
