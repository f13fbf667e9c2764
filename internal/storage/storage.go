// Package storage defines the save catalog: named slots holding an encoded
// session and a summary of its roster.
package storage

import (
	"errors"
	"time"

	"github.com/openrails-go/fleet/internal/sim"
)

// ErrSlotNotFound is returned by Get for an unknown slot name.
var ErrSlotNotFound = errors.New("save slot not found")

// Backend is the interface all catalog implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Put creates or replaces the slot with the same name.
	Put(slot Slot) error
	Get(name string) (Slot, error)
	// List returns all slots without their blobs, most recently saved first.
	List() ([]Slot, error)
}

// TrainSummary describes one saved train.
type TrainSummary struct {
	Number int     `json:"number"`
	Name   string  `json:"name"`
	Kind   string  `json:"kind"`
	Cars   int     `json:"cars"`
	Length float64 `json:"length"`
}

// Summary describes the saved roster.
type Summary struct {
	Trains  []TrainSummary `json:"trains"`
	Pending int            `json:"pending"`
}

// Slot is a named save.
type Slot struct {
	Name    string
	Blob    []byte
	Summary Summary
	SimTime float64
	SavedAt time.Time
}

// Cars returns the number of cars over all saved trains.
func (s Summary) Cars() int {
	n := 0
	for _, t := range s.Trains {
		n += t.Cars
	}
	return n
}

// Summarize describes the live roster of ctx.
func Summarize(ctx *sim.Context) Summary {
	trains := ctx.Roster.Trains()
	s := Summary{
		Trains:  make([]TrainSummary, 0, len(trains)),
		Pending: len(ctx.Roster.Starts()),
	}
	for _, t := range trains {
		s.Trains = append(s.Trains, TrainSummary{
			Number: t.Number,
			Name:   t.Name,
			Kind:   t.Kind.String(),
			Cars:   len(t.Cars),
			Length: t.Length,
		})
	}
	return s
}
