package ai

import (
	"testing"

	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func straight(t *testing.T) *track.DB {
	t.Helper()
	db := track.NewDB()
	require.NoError(t, db.AddNode(track.Node{ID: 1, Length: 1000}))
	return db
}

func aiTrain(db *track.DB, number int, front, route float64) *train.Train {
	tr := train.New(number, "ai", train.KindAI)
	tr.Attach(train.NewCar("ai - 0", 20, true))
	tr.RecalculateLength()
	tr.Front = track.Traveller{Node: 1, Offset: front, Direction: track.Forward}
	tr.RepositionRear(db)
	tr.AI.RemainingRoute = route
	tr.AI.CruiseSpeed = 5
	return tr
}

func TestUpdateActivity_RunsRoute(t *testing.T) {
	db := straight(t)
	d := New(db, nil)
	tr := aiTrain(db, 1, 100, 12)
	d.AddTrain(tr)

	assert.Empty(t, d.UpdateActivity(2))
	assert.InDelta(t, 110, tr.Front.Offset, 1e-9)
	assert.InDelta(t, 2, tr.AI.RemainingRoute, 1e-9)

	finished := d.UpdateActivity(2)
	assert.Equal(t, []*train.Train{tr}, finished)
	assert.InDelta(t, 112, tr.Front.Offset, 1e-9, "stops at the route end")
	assert.Zero(t, tr.Speed)
	assert.False(t, d.Contains(tr))
}

func TestUpdateActivity_SkipsSuspendedAndDriven(t *testing.T) {
	db := straight(t)
	d := New(db, nil)
	held := aiTrain(db, 1, 100, 50)
	held.AI.Suspended = true
	driven := aiTrain(db, 2, 300, 50)
	driven.Kind = train.KindAIPlayerDriven
	d.AddTrain(held)
	d.AddTrain(driven)

	d.UpdateActivity(1)
	assert.InDelta(t, 100, held.Front.Offset, 1e-9)
	assert.InDelta(t, 300, driven.Front.Offset, 1e-9)

	d.Resume(held)
	d.UpdateActivity(1)
	assert.InDelta(t, 105, held.Front.Offset, 1e-9)
}

func TestUpdateActivity_DeadEndFinishes(t *testing.T) {
	db := straight(t)
	d := New(db, nil)
	tr := aiTrain(db, 1, 995, 100)
	d.AddTrain(tr)

	assert.Equal(t, []*train.Train{tr}, d.UpdateActivity(2))
	assert.InDelta(t, 1000, tr.Front.Offset, 1e-9)
}

func TestUpdateTimetable_WaitsForStart(t *testing.T) {
	db := straight(t)
	d := New(db, nil)
	tr := aiTrain(db, 1, 100, 100)
	tr.AI.StartTime = 3
	d.AddTrain(tr)

	d.UpdateTimetable(2)
	assert.InDelta(t, 100, tr.Front.Offset, 1e-9)
	d.UpdateTimetable(2)
	assert.InDelta(t, 110, tr.Front.Offset, 1e-9)
}

func TestUpdateTrain_ConsumesRoute(t *testing.T) {
	db := straight(t)
	d := New(db, nil)
	tr := aiTrain(db, 1, 100, 30)
	tr.Kind = train.KindAIPlayerHosting
	tr.Speed = 4

	require.NoError(t, d.UpdateTrain(tr, 2))
	assert.InDelta(t, 108, tr.Front.Offset, 1e-9)
	assert.InDelta(t, 22, tr.AI.RemainingRoute, 1e-9)

	tr.Front.Node = 7
	assert.ErrorIs(t, d.UpdateTrain(tr, 1), train.ErrOffTrack)
}

func TestRouteFeasible(t *testing.T) {
	db := straight(t)
	d := New(db, nil)
	tr := aiTrain(db, 1, 100, 30)
	assert.True(t, d.RouteFeasible(tr))

	tr.AI.RemainingRoute = 0
	assert.False(t, d.RouteFeasible(tr))

	static := train.New(2, "s", train.KindStatic)
	assert.False(t, d.RouteFeasible(static))
}

func TestReinitialize(t *testing.T) {
	db := straight(t)
	d := New(db, nil)
	tr := aiTrain(db, 1, 100, 30)
	tr.Speed = 9
	tr.AI.Suspended = true

	d.Reinitialize(tr)
	assert.Zero(t, tr.Speed)
	assert.Equal(t, train.ControlAutoSignal, tr.ControlMode)
	assert.True(t, tr.AI.Suspended)
}
