package coupling

import (
	"testing"

	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckForCoupling_FrontContact(t *testing.T) {
	ctx, rec := newContext(t, sim.ModeSinglePlayer)
	y := place(t, ctx, 1, "Y", train.KindStatic, 540, track.Forward, 20, 20)
	x := place(t, ctx, 0, "X", train.KindPlayer, 500.2, track.Forward, 20, 20, 20)
	ctx.SetPilotedCar(x.Cars[0])
	first := x.Cars[0]
	yCars := append([]*train.Car(nil), y.Cars...)
	x.Speed = 2

	require.True(t, CheckForCoupling(ctx, x))

	assert.Equal(t, 1, ctx.Roster.Len())
	_, ok := ctx.Roster.ByNumber(1)
	assert.False(t, ok, "absorbed train leaves the roster")
	require.Len(t, x.Cars, 5)
	assert.InDelta(t, 100, x.Length, 1e-9)
	assert.Equal(t, []string{"Y - 0", "Y - 1", "X - 0", "X - 1", "X - 2"}, carIDs(x))
	for _, c := range yCars {
		assert.Same(t, x, c.Train())
		assert.False(t, c.Flipped)
	}
	assert.Same(t, first, x.LeadLocomotive(), "lead index shifts with inserted cars")
	assert.Equal(t, 2, x.LeadIndex)
	require.Len(t, rec.sounds, 1)
	assert.Same(t, first, rec.sounds[0].car)
	assert.Equal(t, train.EventCouple, rec.sounds[0].ev)
	assert.InDelta(t, 540.2, x.Front.Offset, 1e-9)
	assert.InDelta(t, 440.2, x.Rear.Offset, 1e-9)
	assert.True(t, ctx.AIRosterChanged)
	assert.NoError(t, ctx.Roster.Validate())
	assert.Empty(t, rec.couples, "single player does not broadcast")
}

func TestCheckForCoupling_RearToRear(t *testing.T) {
	ctx, rec := newContext(t, sim.ModeServer)
	d := place(t, ctx, 0, "D", train.KindPlayer, 500, track.Forward, 20, 20)
	// Facing the other way with its rear 0.2 m inside d's rear.
	o := place(t, ctx, 1, "O", train.KindStatic, 440.2, track.Backward, 10, 10)
	ctx.SetPilotedCar(d.Cars[0])
	last := d.Cars[1]
	d.Speed = -1

	require.True(t, CheckForCoupling(ctx, d))

	assert.Equal(t, []string{"D - 0", "D - 1", "O - 1", "O - 0"}, carIDs(d))
	assert.True(t, d.Cars[2].Flipped)
	assert.True(t, d.Cars[3].Flipped)
	assert.False(t, d.Cars[0].Flipped)
	assert.Same(t, last, rec.sounds[0].car)
	assert.InDelta(t, 60, d.Length, 1e-9)
	assert.InDelta(t, 500, d.Front.Offset, 1e-9)
	assert.InDelta(t, 440, d.Rear.Offset, 1e-9)
	_, ok := ctx.Roster.ByNumber(o.Number)
	assert.False(t, ok)

	require.Len(t, rec.couples, 1)
	msg := rec.couples[0]
	assert.Equal(t, 0, msg.Survivor)
	assert.Equal(t, 1, msg.Absorbed)
	assert.False(t, msg.Incorporated)
	assert.Len(t, msg.Cars, 4)
	assert.NoError(t, ctx.Roster.Validate())
}

func TestCheckForCoupling_StationaryAndGaps(t *testing.T) {
	ctx, _ := newContext(t, sim.ModeSinglePlayer)
	place(t, ctx, 1, "Y", train.KindStatic, 540, track.Forward, 20, 20)
	x := place(t, ctx, 0, "X", train.KindPlayer, 490, track.Forward, 20)

	assert.False(t, CheckForCoupling(ctx, x), "not moving")
	x.Speed = 1
	assert.False(t, CheckForCoupling(ctx, x), "10 m gap")
	assert.Equal(t, 2, ctx.Roster.Len())
}

func TestCheckForCoupling_ReplicaCollides(t *testing.T) {
	ctx, rec := newContext(t, sim.ModeClient)
	place(t, ctx, 1, "Y", train.KindStatic, 540, track.Forward, 20, 20)
	x := place(t, ctx, 0, "X", train.KindPlayer, 500.2, track.Forward, 20)
	x.Speed = 2

	assert.False(t, CheckForCoupling(ctx, x))
	assert.Equal(t, 2, ctx.Roster.Len())
	assert.Zero(t, x.Speed)
	assert.InDelta(t, 500, x.Front.Offset, 1e-9)
	assert.Empty(t, rec.couples)
}

func TestCheckForCoupling_OwnersNeverCouple(t *testing.T) {
	ctx, _ := newContext(t, sim.ModeServer)
	y := place(t, ctx, 1, "Y", train.KindStatic, 540, track.Forward, 20, 20)
	x := place(t, ctx, 0, "X", train.KindPlayer, 500.2, track.Forward, 20)
	x.Owner, y.Owner = "alice", "bob"
	x.Speed = 2

	assert.False(t, CheckForCoupling(ctx, x))
	assert.Equal(t, 2, ctx.Roster.Len())
}

func TestCheckForCoupling_SuppressedRecontact(t *testing.T) {
	ctx, _ := newContext(t, sim.ModeSinglePlayer)
	a := place(t, ctx, 0, "A", train.KindPlayer, 500, track.Forward, 20, 20)
	b := place(t, ctx, 1, "B", train.KindStatic, 460.3, track.Forward, 20)
	a.UncoupledFrom, b.UncoupledFrom = b.Number, a.Number
	a.Speed = -1

	assert.False(t, CheckForCoupling(ctx, a))
	assert.Equal(t, 2, ctx.Roster.Len())
	assert.Zero(t, a.Speed, "takes the other train's speed")
	assert.InDelta(t, 500.3, a.Front.Offset, 1e-9)
	assert.InDelta(t, 460.3, a.Rear.Offset, 1e-9)
	assert.Equal(t, b.Number, a.UncoupledFrom, "still suppressed")
}

func TestUpdateUncoupled_Idempotent(t *testing.T) {
	ctx, _ := newContext(t, sim.ModeSinglePlayer)
	a := place(t, ctx, 0, "A", train.KindPlayer, 500, track.Forward, 20, 20)
	b := place(t, ctx, 1, "B", train.KindStatic, 450, track.Forward, 20)
	a.UncoupledFrom, b.UncoupledFrom = b.Number, a.Number
	a.Speed = -1

	for i := 0; i < 5; i++ {
		assert.False(t, CheckForCoupling(ctx, a))
		assert.Equal(t, 2, ctx.Roster.Len())
		assert.Len(t, a.Cars, 2)
	}
	assert.Equal(t, train.NoTrain, a.UncoupledFrom)
	assert.Equal(t, train.NoTrain, b.UncoupledFrom)

	a.UncoupledFrom = b.Number
	assert.True(t, UpdateUncoupled(ctx, a, b, 10, 30))
	for i := 0; i < 5; i++ {
		assert.False(t, UpdateUncoupled(ctx, a, b, 10, 30))
	}
	assert.Equal(t, 2, ctx.Roster.Len())
}

func TestUpdateUncoupled_WithinClearance(t *testing.T) {
	ctx, _ := newContext(t, sim.ModeSinglePlayer)
	a := place(t, ctx, 0, "A", train.KindPlayer, 500, track.Forward, 20)
	b := place(t, ctx, 1, "B", train.KindStatic, 479.7, track.Forward, 20)
	a.UncoupledFrom, b.UncoupledFrom = b.Number, a.Number

	assert.False(t, UpdateUncoupled(ctx, a, b, 0.3, 20.3))
	assert.Equal(t, b.Number, a.UncoupledFrom)
}

func TestFinishCoupling_KeepsLinksToSurvivor(t *testing.T) {
	ctx, _ := newContext(t, sim.ModeSinglePlayer)
	y := place(t, ctx, 1, "Y", train.KindStatic, 540, track.Forward, 20, 20)
	x := place(t, ctx, 0, "X", train.KindPlayer, 500.2, track.Forward, 20)
	ctx.SetPilotedCar(x.Cars[0])
	z := place(t, ctx, 2, "Z", train.KindStatic, 1500, track.Forward, 20)
	w := place(t, ctx, 3, "W", train.KindStatic, 1900, track.Forward, 20)
	x.UncoupledFrom, z.UncoupledFrom = z.Number, x.Number
	w.UncoupledFrom = y.Number
	x.Speed = 1

	require.True(t, CheckForCoupling(ctx, x))

	assert.Equal(t, z.Number, x.UncoupledFrom)
	assert.Equal(t, x.Number, z.UncoupledFrom)
	assert.Equal(t, train.NoTrain, w.UncoupledFrom, "link to the merged train is cleared")
}

func TestFinishCoupling_IncorporatesMidRouteAI(t *testing.T) {
	ctx, rec := newContext(t, sim.ModeSinglePlayer)
	ai := place(t, ctx, 1, "AI", train.KindAI, 540, track.Forward, 20, 20)
	ai.AI.RemainingRoute = 800
	x := place(t, ctx, 0, "X", train.KindPlayer, 500.2, track.Forward, 20)
	ctx.SetPilotedCar(x.Cars[0])
	x.Speed = 1

	require.True(t, CheckForCoupling(ctx, x))

	assert.Equal(t, train.KindAIIncorporated, ai.Kind)
	assert.Empty(t, ai.Cars)
	assert.Equal(t, x.Number, ai.IncorporatingTrainNo)
	assert.Equal(t, []int{ai.Number}, x.IncorporatedTrainNos)
	got, ok := ctx.Roster.ByNumber(ai.Number)
	require.True(t, ok, "incorporated train stays registered")
	assert.Same(t, ai, got)
	assert.Contains(t, rec.aiRemoved, ai)
	assert.NoError(t, ctx.Roster.Validate())
}

func TestFinishCoupling_RoleSwap(t *testing.T) {
	ctx, _ := newContext(t, sim.ModeSinglePlayer)
	far := place(t, ctx, 1, "Far", train.KindAI, 540, track.Forward, 20, 20)
	far.AI.RemainingRoute = 900
	near := place(t, ctx, 0, "Near", train.KindAIPlayerDriven, 500.2, track.Forward, 20)
	near.AI.RemainingRoute = 100
	piloted := near.Cars[0]
	ctx.SetPilotedCar(piloted)
	near.Speed = 1

	require.True(t, CheckForCoupling(ctx, near))

	assert.Same(t, far, ctx.PlayerTrain(), "player reference follows the surviving entity")
	assert.Equal(t, train.KindAIPlayerHosting, far.Kind)
	assert.Len(t, far.Cars, 3)
	assert.Same(t, piloted, far.LeadLocomotive())
	assert.InDelta(t, 60, far.Length, 1e-9)
	assert.Equal(t, train.KindAIIncorporated, near.Kind)
	assert.Equal(t, far.Number, near.IncorporatingTrainNo)
	assert.NoError(t, ctx.Roster.Validate())
}

func TestApplyCouple_ReplaysOnReplica(t *testing.T) {
	auth, rec := newContext(t, sim.ModeServer)
	place(t, auth, 1, "Y", train.KindStatic, 540, track.Forward, 20, 20)
	x := place(t, auth, 0, "X", train.KindPlayer, 500.2, track.Forward, 20, 20, 20)
	x.Speed = 2

	rep, _ := newContext(t, sim.ModeClient)
	ry := place(t, rep, 1, "Y", train.KindStatic, 540, track.Forward, 20, 20)
	rx := place(t, rep, 0, "X", train.KindPlayer, 500.2, track.Forward, 20, 20, 20)
	for i, c := range rx.Cars {
		c.UID = x.Cars[i].UID
	}
	y, _ := auth.Roster.ByNumber(1)
	for i, c := range ry.Cars {
		c.UID = y.Cars[i].UID
	}

	require.True(t, CheckForCoupling(auth, x))
	require.Len(t, rec.couples, 1)
	require.NoError(t, ApplyCouple(rep, rec.couples[0]))

	assert.Equal(t, carIDs(x), carIDs(rx))
	assert.Equal(t, 1, rep.Roster.Len())
	assert.InDelta(t, x.Length, rx.Length, 1e-9)
	assert.Equal(t, x.Front, rx.Front)
	assert.NoError(t, rep.Roster.Validate())

	assert.ErrorIs(t, ApplyCouple(rep, rec.couples[0]), ErrUnknownTrain)
}
