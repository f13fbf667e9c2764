package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		role string
		want Mode
	}{
		{"server", ModeServer},
		{"client", ModeClient},
		{"none", ModeSinglePlayer},
		{"", ModeSinglePlayer},
		{"observer", ModeSinglePlayer},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			m := ParseMode(tt.role)
			assert.Equal(t, tt.want, m)
		})
	}

	assert.True(t, ModeServer.Authority())
	assert.True(t, ModeSinglePlayer.Authority())
	assert.False(t, ModeClient.Authority())
	assert.False(t, ModeSinglePlayer.Multiplayer())
	assert.Equal(t, "client", ModeClient.String())
}

func TestClock_Advance(t *testing.T) {
	c := Clock{TimeOfDay: SecondsPerDay - 1, SpeedMultiplier: 2}

	dt := c.Advance(1)
	assert.InDelta(t, 2, dt, 1e-9)
	assert.InDelta(t, 2, c.Time, 1e-9)
	assert.InDelta(t, 1, c.TimeOfDay, 1e-9, "time of day wraps at midnight")
	assert.Equal(t, uint64(1), c.Tick)

	c.Paused = true
	assert.Zero(t, c.Advance(1))
	assert.InDelta(t, 2, c.Time, 1e-9)
	assert.Equal(t, uint64(2), c.Tick, "paused ticks still count")
}

func TestContext_PlayerTrainAndDestroy(t *testing.T) {
	db := track.NewDB()
	require.NoError(t, db.AddNode(track.Node{ID: 1, Length: 500}))
	ctx := New(db)
	assert.Nil(t, ctx.PlayerTrain())

	tr := train.New(0, "local", train.KindPlayer)
	tr.Attach(train.NewCar("local - 0", 20, true))
	require.NoError(t, ctx.Roster.Add(tr))
	ctx.SetPilotedCar(tr.Cars[0])

	assert.Same(t, tr, ctx.PlayerTrain())
	assert.True(t, ctx.IsPlayerTrain(tr))

	ctx.Destroy(tr)
	_, ok := ctx.Roster.ByNumber(0)
	assert.False(t, ok)
	assert.True(t, ctx.AIRosterChanged)
}
