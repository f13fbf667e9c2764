// Package train holds the rolling-stock model: cars, trains and the plain
// physical update that moves a train's travellers along the track.
package train

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/openrails-go/fleet/internal/track"
)

// NoTrain marks an unset train-number reference. 0 is a valid number.
const NoTrain = -1

// LengthTolerance is the allowed drift between Length and the car sum.
const LengthTolerance = 1e-6

var (
	// ErrOffTrack is returned when a traveller points at a node that does not exist.
	ErrOffTrack = errors.New("train is off the track database")
	// ErrEmptyTrain is returned by operations that would leave a train with no cars.
	ErrEmptyTrain = errors.New("train would have no cars")
)

// Kind is the train type tag.
type Kind int

const (
	KindPlayer Kind = iota
	KindStatic
	KindAI
	KindAIPlayerDriven
	KindAIPlayerHosting
	KindAIIncorporated
)

var kindNames = [...]string{"player", "static", "ai", "ai-player-driven", "ai-player-hosting", "ai-incorporated"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// IsAI reports whether the train is driven through the AI collaborator.
func (k Kind) IsAI() bool {
	switch k {
	case KindAI, KindAIPlayerDriven, KindAIPlayerHosting, KindAIIncorporated:
		return true
	default:
		return false
	}
}

// ControlMode is how the train's movement authority is governed.
type ControlMode int

const (
	ControlUndefined ControlMode = iota
	ControlExplorer
	ControlManual
	ControlAutoSignal
	ControlAutoNode
	ControlOutOfControl
	ControlInactive
)

// AIState is the payload carried by AI-kind trains.
type AIState struct {
	// RemainingRoute is the path length left to run, in metres.
	RemainingRoute float64
	// UnconditionalAttach keeps the train alive as an incorporated entity
	// even when its remaining route is trivial.
	UnconditionalAttach bool
	Suspended           bool
	Timetable           bool
	// StartTime is the simulation time the train enters service.
	StartTime   float64
	CruiseSpeed float64
}

// Train is an ordered set of cars running as one unit.
type Train struct {
	Number      int
	Name        string
	Kind        Kind
	ControlMode ControlMode

	// Cars run front to rear.
	Cars   []*Car
	Front  track.Traveller
	Rear   track.Traveller
	Length float64
	Speed  float64

	// LeadIndex points into Cars; -1 when the train has no lead locomotive.
	LeadIndex int

	// Train-number references resolved through the roster.
	UncoupledFrom        int
	IncorporatingTrainNo int
	IncorporatedTrainNos []int

	// Owner is the multiplayer user driving the train, empty for none.
	Owner    string
	Pathless bool

	AI *AIState
}

// New creates an empty train.
func New(number int, name string, kind Kind) *Train {
	t := &Train{
		Number:               number,
		Name:                 name,
		Kind:                 kind,
		LeadIndex:            -1,
		UncoupledFrom:        NoTrain,
		IncorporatingTrainNo: NoTrain,
	}
	if kind.IsAI() {
		t.AI = &AIState{}
	}
	return t
}

func (t *Train) String() string {
	return fmt.Sprintf("%s (%d, %s)", t.Name, t.Number, t.Kind)
}

// Attach appends cars at the rear and takes ownership of them.
func (t *Train) Attach(cars ...*Car) {
	for _, c := range cars {
		c.Reparent(t)
	}
	t.Cars = append(t.Cars, cars...)
}

// InsertFront inserts cars at the head in the given order, shifting the lead
// index by the number inserted.
func (t *Train) InsertFront(cars ...*Car) {
	for _, c := range cars {
		c.Reparent(t)
	}
	t.Cars = slices.Insert(t.Cars, 0, cars...)
	if t.LeadIndex >= 0 {
		t.LeadIndex += len(cars)
	}
}

// Detach removes and returns every car, leaving the train empty.
func (t *Train) Detach() []*Car {
	cars := t.Cars
	t.Cars = nil
	t.LeadIndex = -1
	t.Length = 0
	return cars
}

// RecalculateLength sets Length to the car sum and returns it.
func (t *Train) RecalculateLength() float64 {
	sum := 0.0
	for _, c := range t.Cars {
		sum += c.Length
	}
	t.Length = sum
	return sum
}

// IndexOf returns the position of c in the car list or -1.
func (t *Train) IndexOf(c *Car) int {
	return slices.Index(t.Cars, c)
}

// LeadLocomotive returns the lead car or nil.
func (t *Train) LeadLocomotive() *Car {
	if t.LeadIndex < 0 || t.LeadIndex >= len(t.Cars) {
		return nil
	}
	return t.Cars[t.LeadIndex]
}

// FirstDriveable returns the first driveable car scanning front to rear.
func (t *Train) FirstDriveable() *Car {
	for _, c := range t.Cars {
		if c.Driveable {
			return c
		}
	}
	return nil
}

// SelectLead points LeadIndex at prefer when it is in the train, otherwise
// at the first driveable car.
func (t *Train) SelectLead(prefer *Car) *Car {
	if prefer != nil {
		if i := t.IndexOf(prefer); i >= 0 {
			t.LeadIndex = i
			return prefer
		}
	}
	for i, c := range t.Cars {
		if c.Driveable {
			t.LeadIndex = i
			return c
		}
	}
	t.LeadIndex = -1
	return nil
}

// RepositionRear re-derives the rear traveller from the front one.
func (t *Train) RepositionRear(db *track.DB) {
	r := t.Front
	r.Move(db, -t.Length)
	t.Rear = r
}

// RepositionFront re-derives the front traveller from the rear one.
func (t *Train) RepositionFront(db *track.DB) {
	f := t.Rear
	f.Move(db, t.Length)
	t.Front = f
}

// Shift moves the whole train dist metres along its heading; negative values
// move it backwards.
func (t *Train) Shift(db *track.DB, dist float64) {
	if dist >= 0 {
		if left := t.Front.Move(db, dist); left != 0 {
			t.Speed = 0
		}
		t.RepositionRear(db)
		return
	}
	if left := t.Rear.Move(db, dist); left != 0 {
		t.Speed = 0
	}
	t.RepositionFront(db)
}

// Update is the plain physical update: integrate speed over elapsed seconds.
// Reaching a dead end stops the train.
func (t *Train) Update(db *track.DB, elapsed float64) error {
	if _, ok := db.Node(t.Front.Node); !ok {
		return fmt.Errorf("%s front on node %d: %w", t, t.Front.Node, ErrOffTrack)
	}
	if _, ok := db.Node(t.Rear.Node); !ok {
		return fmt.Errorf("%s rear on node %d: %w", t, t.Rear.Node, ErrOffTrack)
	}
	if t.Speed == 0 || elapsed <= 0 {
		return nil
	}
	t.Shift(db, t.Speed*elapsed)
	return nil
}

// IsLive reports whether the train should be kept in the roster. Incorporated
// trains hold no cars while linked to their host.
func (t *Train) IsLive() bool {
	return len(t.Cars) > 0 || t.Kind == KindAIIncorporated
}

// Check verifies the length and ownership invariants.
func (t *Train) Check() error {
	sum := 0.0
	for i, c := range t.Cars {
		if c.train != t {
			return fmt.Errorf("%s: car %d (%s) owned by another train", t, i, c.CarID)
		}
		sum += c.Length
	}
	if math.Abs(sum-t.Length) > LengthTolerance {
		return fmt.Errorf("%s: length %.3f differs from car sum %.3f", t, t.Length, sum)
	}
	if t.LeadIndex >= len(t.Cars) {
		return fmt.Errorf("%s: lead index %d out of range", t, t.LeadIndex)
	}
	return nil
}

// ReverseFormation turns the train around in place: car order and
// orientation flip, the travellers swap ends, and the speed changes sign.
func (t *Train) ReverseFormation() {
	slices.Reverse(t.Cars)
	for _, c := range t.Cars {
		c.Flip()
	}
	if t.LeadIndex >= 0 {
		t.LeadIndex = len(t.Cars) - 1 - t.LeadIndex
	}
	t.Front, t.Rear = t.Rear.Reversed(), t.Front.Reversed()
	t.Speed = -t.Speed
}
