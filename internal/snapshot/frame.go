// Package snapshot publishes immutable views of the fleet for readers off the
// update goroutine.
package snapshot

import (
	"math"

	"github.com/openrails-go/fleet/internal/geo"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
)

// World is a position in route coordinates and on the globe.
type World struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Lon     float64 `json:"lon"`
	Lat     float64 `json:"lat"`
	Heading float64 `json:"heading"`
}

// Position is a track position, with world coordinates when the node has a
// shape.
type Position struct {
	Node   int     `json:"node"`
	Offset float64 `json:"offset"`
	World  *World  `json:"world,omitempty"`
}

// Car is one car of a train frame. Its position is the car centre.
type Car struct {
	UID       string   `json:"uid"`
	CarID     string   `json:"carId"`
	Length    float64  `json:"length"`
	Flipped   bool     `json:"flipped"`
	Driveable bool     `json:"driveable"`
	Lead      bool     `json:"lead,omitempty"`
	Piloted   bool     `json:"piloted,omitempty"`
	Position  Position `json:"position"`
}

// Train is one train of a frame.
type Train struct {
	Number int      `json:"number"`
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Speed  float64  `json:"speed"`
	Length float64  `json:"length"`
	Owner  string   `json:"owner,omitempty"`
	Front  Position `json:"front"`
	Rear   Position `json:"rear"`
	Cars   []Car    `json:"cars"`
}

// Frame is the fleet at the end of a tick.
type Frame struct {
	RosterVersion uint64  `json:"rosterVersion"`
	Time          float64 `json:"time"`
	TimeOfDay     float64 `json:"timeOfDay"`
	Mode          string  `json:"mode"`
	Trains        []Train `json:"trains"`
}

// Train returns the train with the given number.
func (f *Frame) Train(number int) (Train, bool) {
	for _, t := range f.Trains {
		if t.Number == number {
			return t, true
		}
	}
	return Train{}, false
}

// Build captures ctx. It must run on the update goroutine.
func Build(ctx *sim.Context, rosterVersion uint64) *Frame {
	trains := ctx.Roster.Trains()
	f := &Frame{
		RosterVersion: rosterVersion,
		Time:          ctx.Clock.Time,
		TimeOfDay:     ctx.Clock.TimeOfDay,
		Mode:          ctx.Mode.String(),
		Trains:        make([]Train, 0, len(trains)),
	}
	piloted := ctx.PilotedCar()
	for _, t := range trains {
		f.Trains = append(f.Trains, buildTrain(ctx.Track, t, piloted))
	}
	return f
}

func buildTrain(db *track.DB, t *train.Train, piloted *train.Car) Train {
	out := Train{
		Number: t.Number,
		Name:   t.Name,
		Kind:   t.Kind.String(),
		Speed:  t.Speed,
		Length: t.Length,
		Owner:  t.Owner,
		Front:  position(db, t.Front),
		Rear:   position(db, t.Rear),
		Cars:   make([]Car, len(t.Cars)),
	}
	cursor := t.Front
	for i, c := range t.Cars {
		centre := cursor
		centre.Move(db, -c.Length/2)
		out.Cars[i] = Car{
			UID:       c.UID.String(),
			CarID:     c.CarID,
			Length:    c.Length,
			Flipped:   c.Flipped,
			Driveable: c.Driveable,
			Lead:      i == t.LeadIndex,
			Piloted:   c == piloted,
			Position:  position(db, centre),
		}
		cursor.Move(db, -c.Length)
	}
	return out
}

func position(db *track.DB, tr track.Traveller) Position {
	p := Position{Node: tr.Node, Offset: tr.Offset}
	n, ok := db.Node(tr.Node)
	if !ok || n.Shape.IsEmpty() {
		return p
	}
	xy, ok := geo.PointAlong(n.Shape, tr.Offset, n.Length)
	if !ok {
		return p
	}
	heading := geo.Heading(n.Shape, tr.Offset, n.Length)
	if tr.Direction == track.Backward {
		heading = math.Remainder(heading+math.Pi, 2*math.Pi)
	}
	lon, lat := geo.ToLonLat(xy.X(), xy.Y())
	p.World = &World{X: xy.X(), Y: xy.Y(), Lon: lon, Lat: lat, Heading: heading}
	return p
}
