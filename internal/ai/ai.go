// Package ai is a minimal AI driver: trains run their remaining route at
// cruise speed and stop at its end.
package ai

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
)

// DefaultCruiseSpeed is used for trains without a cruise speed, in m/s.
const DefaultCruiseSpeed = 10.0

var _ sim.AI = (*Driver)(nil)

// Driver keeps the AI roster in insertion order. It is owned by the update
// goroutine.
type Driver struct {
	db     *track.DB
	logger *slog.Logger
	trains *orderedmap.OrderedMap[*train.Train, struct{}]
	// now is the simulation time seen through timetable ticks.
	now float64
}

// New creates an empty driver.
func New(db *track.DB, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		db:     db,
		logger: logger,
		trains: orderedmap.NewOrderedMap[*train.Train, struct{}](),
	}
}

// SetTime aligns the timetable clock, for example after a restore.
func (d *Driver) SetTime(now float64) {
	d.now = now
}

func (d *Driver) AddTrain(t *train.Train) {
	if t.AI == nil {
		t.AI = &train.AIState{}
	}
	d.trains.Set(t, struct{}{})
}

func (d *Driver) RemoveTrain(t *train.Train) {
	d.trains.Delete(t)
}

func (d *Driver) Contains(t *train.Train) bool {
	_, ok := d.trains.Get(t)
	return ok
}

// Len returns the size of the AI roster.
func (d *Driver) Len() int {
	return d.trains.Len()
}

// UpdateActivity advances every running AI train.
func (d *Driver) UpdateActivity(elapsed float64) []*train.Train {
	return d.advance(elapsed, false)
}

// UpdateTimetable advances the timetable clock and every AI train whose
// start time has passed.
func (d *Driver) UpdateTimetable(elapsed float64) []*train.Train {
	d.now += elapsed
	return d.advance(elapsed, true)
}

func (d *Driver) advance(elapsed float64, timetable bool) []*train.Train {
	var finished []*train.Train
	for el := d.trains.Front(); el != nil; el = el.Next() {
		t := el.Key
		if t.Kind != train.KindAI || t.AI.Suspended {
			continue
		}
		if timetable && t.AI.StartTime > d.now {
			continue
		}
		if d.run(t, elapsed) {
			finished = append(finished, t)
		}
	}
	for _, t := range finished {
		d.trains.Delete(t)
		d.logger.Debug("AI train reached the end of its route", "train", t.Name)
	}
	return finished
}

// run moves t along its route and reports whether the route is done.
func (d *Driver) run(t *train.Train, elapsed float64) bool {
	if t.AI.RemainingRoute <= 0 {
		t.Speed = 0
		return true
	}
	if t.Speed == 0 {
		t.Speed = t.AI.CruiseSpeed
		if t.Speed <= 0 {
			t.Speed = DefaultCruiseSpeed
		}
	}
	dist := math.Min(math.Abs(t.Speed)*elapsed, t.AI.RemainingRoute)
	t.Shift(d.db, math.Copysign(dist, t.Speed))
	t.AI.RemainingRoute -= dist
	if t.Speed == 0 {
		d.logger.Warn("AI train stopped at a dead end", "train", t.Name)
		t.AI.RemainingRoute = 0
	}
	if t.AI.RemainingRoute <= 0 {
		t.Speed = 0
		return true
	}
	return false
}

// UpdateTrain moves a hosted train at the speed set by its driver and
// consumes its route.
func (d *Driver) UpdateTrain(t *train.Train, elapsed float64) error {
	before := t.Front
	if err := t.Update(d.db, elapsed); err != nil {
		return fmt.Errorf("ai update: %w", err)
	}
	if t.AI != nil && before != t.Front {
		t.AI.RemainingRoute = math.Max(0, t.AI.RemainingRoute-math.Abs(t.Speed)*elapsed)
	}
	return nil
}

// RouteFeasible reports whether t has route left and stands on the track.
func (d *Driver) RouteFeasible(t *train.Train) bool {
	if t.AI == nil || t.AI.RemainingRoute <= 0 || len(t.Cars) == 0 {
		return false
	}
	_, ok := d.db.Node(t.Front.Node)
	return ok
}

// Reinitialize stops t and puts it back under signal control. A suspended
// train stays held until Resume.
func (d *Driver) Reinitialize(t *train.Train) {
	t.Speed = 0
	t.ControlMode = train.ControlAutoSignal
	if t.AI == nil {
		t.AI = &train.AIState{}
	}
}

// Resume releases a suspended train.
func (d *Driver) Resume(t *train.Train) {
	if t.AI != nil {
		t.AI.Suspended = false
	}
}
