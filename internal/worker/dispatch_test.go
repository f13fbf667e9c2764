package worker

import (
	"encoding/json"
	"testing"

	"github.com/openrails-go/fleet/internal/dispatcher"
	"github.com/openrails-go/fleet/internal/scheduler"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
	"github.com/openrails-go/fleet/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	commands []scheduler.Command
}

func (r *recorder) Submit(c scheduler.Command) {
	r.commands = append(r.commands, c)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func setup(t *testing.T, mode sim.Mode) (*dispatcher.Dispatcher, *recorder) {
	t.Helper()
	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	rec := &recorder{}
	NewManager(rec, nil).RegisterHandlers(d, mode)
	return d, rec
}

func event(t *testing.T, msgType string, payload any, peer string) dispatcher.Event {
	t.Helper()
	env, err := streaming.Wrap(msgType, payload)
	require.NoError(t, err)
	return dispatcher.Event{Type: env.Type, Payload: env.Payload, Peer: peer}
}

// fleet builds a replica context with a piloted train 0 and a static
// train 1 on a single 1000 m node.
func fleet(t *testing.T) *sim.Context {
	t.Helper()
	db := track.NewDB()
	require.NoError(t, db.AddNode(track.Node{ID: 1, Length: 1000}))
	ctx := sim.New(db, sim.WithMode(sim.ModeClient, "bob"))

	own := train.New(0, "own", train.KindPlayer)
	own.Attach(train.NewCar("own - 0", 20, true))
	own.RecalculateLength()
	own.Front = track.Traveller{Node: 1, Offset: 100, Direction: track.Forward}
	own.RepositionRear(db)
	require.NoError(t, ctx.Roster.Add(own))
	ctx.SetPilotedCar(own.Cars[0])

	other := train.New(1, "other", train.KindStatic)
	other.Attach(train.NewCar("other - 0", 30, true))
	other.RecalculateLength()
	other.Front = track.Traveller{Node: 1, Offset: 500, Direction: track.Forward}
	other.RepositionRear(db)
	require.NoError(t, ctx.Roster.Add(other))
	return ctx
}

func TestRegisterHandlers(t *testing.T) {
	authority, _ := setup(t, sim.ModeServer)
	assert.True(t, authority.HasHandler(streaming.TypeSwitch))
	assert.True(t, authority.HasHandler(streaming.TypeUncoupleRequest))
	assert.True(t, authority.HasHandler(streaming.TypeTrainState))
	assert.False(t, authority.HasHandler(streaming.TypeCouple))
	assert.False(t, authority.HasHandler(streaming.TypeSessionState))

	replica, _ := setup(t, sim.ModeClient)
	for _, typ := range []string{streaming.TypeSwitch, streaming.TypeCouple, streaming.TypeUncouple, streaming.TypeSessionState} {
		assert.True(t, replica.HasHandler(typ), typ)
	}
	assert.False(t, replica.HasHandler(streaming.TypeUncoupleRequest))
	assert.False(t, replica.HasHandler(streaming.TypeTrainState))
}

func TestHandleSwitch_StagesRemoteSwitch(t *testing.T) {
	d, rec := setup(t, sim.ModeClient)
	ctx := fleet(t)

	_, err := d.Dispatch(event(t, streaming.TypeSwitch, streaming.Switch{User: "alice", Previous: -1, Target: 1, CarID: "other - 0"}, ""))
	require.NoError(t, err)
	require.Len(t, rec.commands, 1)
	assert.Equal(t, streaming.TypeSwitch, rec.commands[0].Name)

	other, _ := ctx.Roster.ByNumber(1)
	assert.Empty(t, other.Owner, "nothing changes until the command runs")
	require.NoError(t, rec.commands[0].Run(ctx))
	assert.Equal(t, "alice", other.Owner)
	assert.Equal(t, train.KindPlayer, other.Kind)
}

func TestHandleSwitch_RejectsForeignUser(t *testing.T) {
	d, rec := setup(t, sim.ModeServer)
	_, err := d.Dispatch(event(t, streaming.TypeSwitch, streaming.Switch{User: "alice", Target: 1}, "mallory"))
	assert.ErrorIs(t, err, ErrForeignUser)
	assert.Empty(t, rec.commands)
}

func TestHandlers_RejectMalformedPayload(t *testing.T) {
	d, rec := setup(t, sim.ModeClient)
	for _, typ := range []string{streaming.TypeSwitch, streaming.TypeCouple, streaming.TypeUncouple} {
		_, err := d.Dispatch(dispatcher.Event{Type: typ, Payload: json.RawMessage(`[1,2`)})
		assert.Error(t, err, typ)
	}
	assert.Empty(t, rec.commands)
}

func TestHandleCouple_UnknownTrainFailsOnRun(t *testing.T) {
	d, rec := setup(t, sim.ModeClient)
	ctx := fleet(t)

	_, err := d.Dispatch(event(t, streaming.TypeCouple, streaming.Couple{Survivor: 1, Absorbed: 9}, ""))
	require.NoError(t, err)
	require.Len(t, rec.commands, 1)
	assert.Error(t, rec.commands[0].Run(ctx))
}

func TestApplySessionState(t *testing.T) {
	ctx := fleet(t)
	msg := streaming.SessionState{
		Tick: 7,
		Trains: []streaming.TrainState{
			{Number: 0, Speed: 9, Front: streaming.TravellerState{Node: 1, Offset: 900, Direction: 1}},
			{Number: 1, Speed: 3, Front: streaming.TravellerState{Node: 1, Offset: 600, Direction: 1}, Owner: "carol"},
			{Number: 42},
		},
	}

	assert.Equal(t, 1, ApplySessionState(ctx, msg))

	own := ctx.PlayerTrain()
	assert.InDelta(t, 100, own.Front.Offset, 1e-9, "locally driven train keeps its state")
	assert.Zero(t, own.Speed)

	other, _ := ctx.Roster.ByNumber(1)
	assert.InDelta(t, 3, other.Speed, 1e-9)
	assert.InDelta(t, 600, other.Front.Offset, 1e-9)
	assert.InDelta(t, 570, other.Rear.Offset, 1e-9)
	assert.Equal(t, "carol", other.Owner)
}

// authorityFleet builds a server context where alice drives train 3.
func authorityFleet(t *testing.T) *sim.Context {
	t.Helper()
	db := track.NewDB()
	require.NoError(t, db.AddNode(track.Node{ID: 1, Length: 1000}))
	ctx := sim.New(db, sim.WithMode(sim.ModeServer, "server"))

	tr := train.New(3, "alice", train.KindPlayer)
	tr.Attach(train.NewCar("alice - 0", 20, true))
	tr.Attach(train.NewCar("alice - 1", 20, false))
	tr.Attach(train.NewCar("alice - 2", 20, false))
	tr.RecalculateLength()
	tr.SelectLead(nil)
	tr.Front = track.Traveller{Node: 1, Offset: 300, Direction: track.Forward}
	tr.RepositionRear(db)
	tr.Owner = "alice"
	require.NoError(t, ctx.Roster.Add(tr))
	return ctx
}

func TestHandleUncoupleRequest_SplitsOnAuthority(t *testing.T) {
	d, rec := setup(t, sim.ModeServer)
	ctx := authorityFleet(t)

	req := streaming.UncoupleRequest{User: "alice", Train: 3, Name: "alice", CarID: "alice - 0", KeepFront: true}
	_, err := d.Dispatch(event(t, streaming.TypeUncoupleRequest, req, "alice"))
	require.NoError(t, err)
	require.Len(t, rec.commands, 1)
	assert.Equal(t, 1, ctx.Roster.Len(), "nothing changes until the command runs")

	require.NoError(t, rec.commands[0].Run(ctx))
	assert.Equal(t, 2, ctx.Roster.Len())
	own, _ := ctx.Roster.ByNumber(3)
	require.Len(t, own.Cars, 1)
	assert.Equal(t, "alice - 0", own.Cars[0].CarID)

	_, err = d.Dispatch(event(t, streaming.TypeUncoupleRequest, req, "mallory"))
	assert.ErrorIs(t, err, ErrForeignUser)
	assert.Len(t, rec.commands, 1)
}

func TestApplyRemoteTrainState(t *testing.T) {
	ctx := authorityFleet(t)
	report := streaming.TrainState{Number: 3, Name: "alice", Speed: 4, Owner: "alice",
		Front: streaming.TravellerState{Node: 1, Offset: 450, Direction: 1}}

	require.NoError(t, ApplyRemoteTrainState(ctx, report))
	tr, _ := ctx.Roster.ByNumber(3)
	assert.InDelta(t, 4, tr.Speed, 1e-9)
	assert.InDelta(t, 450, tr.Front.Offset, 1e-9)
	assert.InDelta(t, 390, tr.Rear.Offset, 1e-9)

	stolen := report
	stolen.Owner = "mallory"
	assert.ErrorIs(t, ApplyRemoteTrainState(ctx, stolen), ErrNotDriving)
	gone := report
	gone.Number = 8
	assert.Error(t, ApplyRemoteTrainState(ctx, gone))
	assert.InDelta(t, 450, tr.Front.Offset, 1e-9)
}
