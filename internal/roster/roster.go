// Package roster is the authoritative registry of live trains.
//
// A Roster is owned by the update goroutine and is not safe for concurrent
// use. Readers on other goroutines should work from snapshot frames.
package roster

import (
	"errors"
	"fmt"
	"strings"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/openrails-go/fleet/internal/train"
)

var (
	ErrDuplicateNumber = errors.New("duplicate train number")
	ErrDuplicateName   = errors.New("duplicate train name")
)

// PlayerNumber is reserved for the primary player train.
const PlayerNumber = 0

// Roster holds every live train, indexed by number and by lower-cased name,
// plus the ordered collection the scheduler iterates.
type Roster struct {
	trains   *orderedmap.OrderedMap[int, *train.Train]
	byNumber map[int]*train.Train
	byName   map[string]*train.Train

	// queued trains are added by Flush at the start of the next tick.
	queued []*train.Train
	// starts are AI trains waiting for their start time.
	starts []*train.Train

	next int
}

// New creates an empty roster. Numbers handed out by NextNumber start at 1.
func New() *Roster {
	return &Roster{
		trains:   orderedmap.NewOrderedMap[int, *train.Train](),
		byNumber: make(map[int]*train.Train),
		byName:   make(map[string]*train.Train),
		next:     PlayerNumber + 1,
	}
}

func key(name string) string {
	return strings.ToLower(name)
}

// NextNumber returns an unused train number.
func (r *Roster) NextNumber() int {
	for {
		n := r.next
		r.next++
		if _, ok := r.byNumber[n]; ok {
			continue
		}
		if r.isQueued(n) {
			continue
		}
		return n
	}
}

// Reserve makes sure NextNumber never returns n or anything below it.
func (r *Roster) Reserve(n int) {
	if n >= r.next {
		r.next = n + 1
	}
}

func (r *Roster) isQueued(n int) bool {
	for _, t := range r.queued {
		if t.Number == n {
			return true
		}
	}
	return false
}

// Add registers t immediately.
func (r *Roster) Add(t *train.Train) error {
	if _, ok := r.byNumber[t.Number]; ok {
		return fmt.Errorf("add %s: %w", t, ErrDuplicateNumber)
	}
	if _, ok := r.byName[key(t.Name)]; ok {
		return fmt.Errorf("add %s: %w", t, ErrDuplicateName)
	}
	r.trains.Set(t.Number, t)
	r.byNumber[t.Number] = t
	r.byName[key(t.Name)] = t
	r.Reserve(t.Number)
	return nil
}

// Queue schedules t to be added at the start of the next tick.
func (r *Roster) Queue(t *train.Train) {
	r.queued = append(r.queued, t)
	r.Reserve(t.Number)
}

// Flush adds all queued trains and returns the ones that were added.
// A queued train that clashes with a live one is dropped and reported.
func (r *Roster) Flush() ([]*train.Train, error) {
	if len(r.queued) == 0 {
		return nil, nil
	}
	queued := r.queued
	r.queued = nil
	added := make([]*train.Train, 0, len(queued))
	var errs []error
	for _, t := range queued {
		if err := r.Add(t); err != nil {
			errs = append(errs, err)
			continue
		}
		added = append(added, t)
	}
	return added, errors.Join(errs...)
}

// Remove deregisters t. It reports whether t was present.
func (r *Roster) Remove(t *train.Train) bool {
	found := false
	if cur, ok := r.byNumber[t.Number]; ok && cur == t {
		delete(r.byNumber, t.Number)
		r.trains.Delete(t.Number)
		found = true
	}
	if cur, ok := r.byName[key(t.Name)]; ok && cur == t {
		delete(r.byName, key(t.Name))
		found = true
	}
	for i, q := range r.queued {
		if q == t {
			r.queued = append(r.queued[:i], r.queued[i+1:]...)
			found = true
			break
		}
	}
	r.dropStart(t)
	return found
}

// Renumber moves t to a new number, keeping its place in the collection.
func (r *Roster) Renumber(t *train.Train, number int) error {
	if number == t.Number {
		return nil
	}
	if _, ok := r.byNumber[number]; ok {
		return fmt.Errorf("renumber %s to %d: %w", t, number, ErrDuplicateNumber)
	}
	if cur, ok := r.byNumber[t.Number]; !ok || cur != t {
		t.Number = number
		return nil
	}
	// Rebuild to keep iteration order stable.
	rebuilt := orderedmap.NewOrderedMap[int, *train.Train]()
	for el := r.trains.Front(); el != nil; el = el.Next() {
		if el.Value == t {
			rebuilt.Set(number, t)
			continue
		}
		rebuilt.Set(el.Key, el.Value)
	}
	delete(r.byNumber, t.Number)
	r.trains = rebuilt
	t.Number = number
	r.byNumber[number] = t
	r.Reserve(number)
	return nil
}

// ByNumber returns the live train with the given number.
func (r *Roster) ByNumber(n int) (*train.Train, bool) {
	t, ok := r.byNumber[n]
	return t, ok
}

// ByName returns the live train with the given name, ignoring case.
func (r *Roster) ByName(name string) (*train.Train, bool) {
	t, ok := r.byName[key(name)]
	return t, ok
}

// Lookup resolves a train by number and confirms it still carries name.
func (r *Roster) Lookup(number int, name string) (*train.Train, bool) {
	t, ok := r.byNumber[number]
	if !ok || !strings.EqualFold(t.Name, name) {
		return nil, false
	}
	if byName, ok := r.byName[key(name)]; !ok || byName != t {
		return nil, false
	}
	return t, true
}

// Len returns the number of live trains.
func (r *Roster) Len() int {
	return r.trains.Len()
}

// Queued returns the number of trains waiting for the next Flush.
func (r *Roster) Queued() int {
	return len(r.queued)
}

// QueuedTrains returns the trains waiting for the next Flush that would be
// added by it. Trains clashing with a live one are left out.
func (r *Roster) QueuedTrains() []*train.Train {
	var out []*train.Train
	for _, t := range r.queued {
		if _, ok := r.byNumber[t.Number]; ok {
			continue
		}
		if _, ok := r.byName[key(t.Name)]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Trains returns the live trains in insertion order. The slice is a copy, so
// callers may mutate the roster while iterating it.
func (r *Roster) Trains() []*train.Train {
	out := make([]*train.Train, 0, r.trains.Len())
	for el := r.trains.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}

// FindCar returns the car with the given per-consist ID from any live train.
func (r *Roster) FindCar(carID string) (*train.Car, bool) {
	for el := r.trains.Front(); el != nil; el = el.Next() {
		for _, c := range el.Value.Cars {
			if c.CarID == carID {
				return c, true
			}
		}
	}
	return nil, false
}

// AddStart puts an AI train on the pending-start list.
func (r *Roster) AddStart(t *train.Train) {
	r.starts = append(r.starts, t)
	r.Reserve(t.Number)
}

// Starts returns the pending-start list.
func (r *Roster) Starts() []*train.Train {
	return append([]*train.Train(nil), r.starts...)
}

// DueStarts removes and returns the pending trains whose start time is at
// or before now.
func (r *Roster) DueStarts(now float64) []*train.Train {
	var due []*train.Train
	kept := r.starts[:0]
	for _, t := range r.starts {
		if t.AI != nil && t.AI.StartTime <= now {
			due = append(due, t)
			continue
		}
		kept = append(kept, t)
	}
	r.starts = kept
	return due
}

func (r *Roster) dropStart(t *train.Train) {
	for i, s := range r.starts {
		if s == t {
			r.starts = append(r.starts[:i], r.starts[i+1:]...)
			return
		}
	}
}

// Validate checks that the mappings and the ordered collection agree and
// that every car is owned by exactly the train listing it.
func (r *Roster) Validate() error {
	var errs []error
	if len(r.byNumber) != r.trains.Len() {
		errs = append(errs, fmt.Errorf("number index has %d trains, collection %d", len(r.byNumber), r.trains.Len()))
	}
	if len(r.byName) != r.trains.Len() {
		errs = append(errs, fmt.Errorf("name index has %d trains, collection %d", len(r.byName), r.trains.Len()))
	}
	owners := make(map[*train.Car]*train.Train)
	for el := r.trains.Front(); el != nil; el = el.Next() {
		t := el.Value
		if el.Key != t.Number {
			errs = append(errs, fmt.Errorf("%s stored under number %d", t, el.Key))
		}
		if r.byNumber[t.Number] != t {
			errs = append(errs, fmt.Errorf("%s missing from number index", t))
		}
		if r.byName[key(t.Name)] != t {
			errs = append(errs, fmt.Errorf("%s missing from name index", t))
		}
		if !t.IsLive() {
			errs = append(errs, fmt.Errorf("%s: %w", t, train.ErrEmptyTrain))
		}
		if err := t.Check(); err != nil {
			errs = append(errs, err)
		}
		for _, c := range t.Cars {
			if prev, ok := owners[c]; ok {
				errs = append(errs, fmt.Errorf("car %s listed by %s and %s", c.CarID, prev, t))
			}
			owners[c] = t
		}
	}
	return errors.Join(errs...)
}
