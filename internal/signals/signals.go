// Package signals is an occupancy-only signaling network: each track node
// is one section, held by at most one train.
package signals

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
)

var ErrUnknownTrain = errors.New("occupying train not in roster")

var _ sim.Signals = (*Network)(nil)

// Network tracks section occupancy. It is owned by the update goroutine.
type Network struct {
	db     *track.DB
	logger *slog.Logger

	occupied map[int]*train.Train
	// restored holds section -> train number between Restore and Relink.
	restored map[int]int
}

// New creates an empty network over db.
func New(db *track.DB, logger *slog.Logger) *Network {
	if logger == nil {
		logger = slog.Default()
	}
	return &Network{
		db:       db,
		logger:   logger,
		occupied: make(map[int]*train.Train),
	}
}

// Update re-derives occupancy from train positions. Sections held by a
// train that no longer covers them are released.
func (n *Network) Update(trains []*train.Train) {
	live := make(map[*train.Train]bool, len(trains))
	for _, t := range trains {
		live[t] = true
	}
	for s, t := range n.occupied {
		if !live[t] {
			delete(n.occupied, s)
		}
	}
	for _, t := range trains {
		if len(t.Cars) == 0 {
			continue
		}
		covered := t.Rear.Span(n.db, t.Length)
		for s, holder := range n.occupied {
			if holder == t && !slices.Contains(covered, s) {
				delete(n.occupied, s)
			}
		}
		for _, s := range covered {
			if holder, ok := n.occupied[s]; ok && holder != t {
				n.logger.Debug("Section shared", "section", s, "train", t.Name, "holder", holder.Name)
				continue
			}
			n.occupied[s] = t
		}
	}
}

// ReserveTemporaryRoute returns the sections covered by length metres from
// the given position, or nil if another train holds one of them.
func (n *Network) ReserveTemporaryRoute(t *train.Train, node int, offset float64, dir track.Direction, length float64) []int {
	from := track.Traveller{Node: node, Offset: offset, Direction: dir}
	sections := from.Span(n.db, length)
	for _, s := range sections {
		if holder, ok := n.occupied[s]; ok && holder != t {
			return nil
		}
	}
	return sections
}

// SetOccupied marks section as held by t.
func (n *Network) SetOccupied(section int, t *train.Train) {
	n.occupied[section] = t
}

// FreeOccupied releases every section held by t.
func (n *Network) FreeOccupied(t *train.Train) {
	for s, holder := range n.occupied {
		if holder == t {
			delete(n.occupied, s)
		}
	}
}

// Occupied returns the train holding section.
func (n *Network) Occupied(section int) (*train.Train, bool) {
	t, ok := n.occupied[section]
	return t, ok
}

// Sections returns the sections held by t in ascending order.
func (n *Network) Sections(t *train.Train) []int {
	var out []int
	for s, holder := range n.occupied {
		if holder == t {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

type entry struct {
	Section int32
	Train   int32
}

// Save writes the occupancy as a count followed by (section, train number)
// pairs in section order.
func (n *Network) Save(w io.Writer) error {
	entries := make([]entry, 0, len(n.occupied))
	for s, t := range n.occupied {
		entries = append(entries, entry{Section: int32(s), Train: int32(t.Number)})
	}
	slices.SortFunc(entries, func(a, b entry) int { return int(a.Section - b.Section) })
	if err := binary.Write(w, binary.LittleEndian, int32(len(entries))); err != nil {
		return fmt.Errorf("writing occupancy count: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, entries); err != nil {
		return fmt.Errorf("writing occupancy: %w", err)
	}
	return nil
}

// Restore reads occupancy written by Save. Train references stay
// unresolved until Relink.
func (n *Network) Restore(r io.Reader) error {
	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("reading occupancy count: %w", err)
	}
	if count < 0 || int(count) > n.db.Len() {
		return fmt.Errorf("occupancy count %d exceeds %d sections", count, n.db.Len())
	}
	entries := make([]entry, count)
	if err := binary.Read(r, binary.LittleEndian, entries); err != nil {
		return fmt.Errorf("reading occupancy: %w", err)
	}
	n.occupied = make(map[int]*train.Train, count)
	n.restored = make(map[int]int, count)
	for _, e := range entries {
		n.restored[int(e.Section)] = int(e.Train)
	}
	return nil
}

// Relink resolves restored train numbers. Every referenced train must be
// live.
func (n *Network) Relink(lookup func(number int) (*train.Train, bool)) error {
	var errs []error
	for s, number := range n.restored {
		t, ok := lookup(number)
		if !ok {
			errs = append(errs, fmt.Errorf("section %d: train %d: %w", s, number, ErrUnknownTrain))
			continue
		}
		n.occupied[s] = t
	}
	n.restored = nil
	return errors.Join(errs...)
}
