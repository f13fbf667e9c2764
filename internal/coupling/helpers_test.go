package coupling

import (
	"fmt"
	"testing"

	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
	"github.com/openrails-go/fleet/pkg/streaming"
	"github.com/stretchr/testify/require"
)

type soundEvent struct {
	car *train.Car
	ev  train.Event
}

type recorder struct {
	sim.Nop
	sounds    []soundEvent
	couples   []streaming.Couple
	uncouples []streaming.Uncouple
	requests  []streaming.UncoupleRequest
	aiAdded   []*train.Train
	aiRemoved []*train.Train
	feasible  bool
	occupied  map[*train.Train][]int
}

func (r *recorder) SignalEvent(c *train.Car, ev train.Event) {
	r.sounds = append(r.sounds, soundEvent{c, ev})
}
func (r *recorder) Couple(m streaming.Couple)     { r.couples = append(r.couples, m) }
func (r *recorder) Uncouple(m streaming.Uncouple) { r.uncouples = append(r.uncouples, m) }
func (r *recorder) RequestUncouple(m streaming.UncoupleRequest) {
	r.requests = append(r.requests, m)
}
func (r *recorder) AddTrain(t *train.Train)       { r.aiAdded = append(r.aiAdded, t) }
func (r *recorder) RemoveTrain(t *train.Train)    { r.aiRemoved = append(r.aiRemoved, t) }
func (r *recorder) RouteFeasible(*train.Train) bool {
	return r.feasible
}

func (r *recorder) ReserveTemporaryRoute(_ *train.Train, node int, _ float64, _ track.Direction, _ float64) []int {
	return []int{node}
}

func (r *recorder) SetOccupied(section int, t *train.Train) {
	r.occupied[t] = append(r.occupied[t], section)
}

func newContext(t *testing.T, mode sim.Mode) (*sim.Context, *recorder) {
	t.Helper()
	db := track.NewDB()
	require.NoError(t, db.AddNode(track.Node{ID: 1, Length: 2000}))
	rec := &recorder{feasible: true, occupied: make(map[*train.Train][]int)}
	ctx := sim.New(db,
		sim.WithMode(mode, "alice"),
		sim.WithSounds(rec),
		sim.WithAI(rec),
		sim.WithBroadcaster(rec),
		sim.WithSignals(rec),
	)
	return ctx, rec
}

// place puts a train on node 1 with its front at the given offset.
func place(t *testing.T, ctx *sim.Context, number int, name string, kind train.Kind, front float64, dir track.Direction, lengths ...float64) *train.Train {
	t.Helper()
	tr := train.New(number, name, kind)
	for i, l := range lengths {
		tr.Attach(train.NewCar(fmt.Sprintf("%s - %d", name, i), l, i == 0))
	}
	tr.RecalculateLength()
	tr.SelectLead(nil)
	tr.Front = track.Traveller{Node: 1, Offset: front, Direction: dir}
	tr.RepositionRear(ctx.Track)
	require.NoError(t, ctx.Roster.Add(tr))
	return tr
}

func carIDs(tr *train.Train) []string {
	ids := make([]string, len(tr.Cars))
	for i, c := range tr.Cars {
		ids[i] = c.CarID
	}
	return ids
}
