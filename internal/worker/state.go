package worker

import (
	"errors"
	"fmt"

	"github.com/openrails-go/fleet/internal/coupling"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/pkg/streaming"
)

var (
	// ErrForeignUser is returned when a peer sends a message on behalf of
	// somebody else.
	ErrForeignUser = errors.New("message names another user")
	// ErrNotDriving is returned for a train report from a user who does not
	// drive that train.
	ErrNotDriving = errors.New("reporting user does not drive the train")
)

// ApplySessionState corrects replicated train positions and speeds. The
// locally driven train keeps its own state. It returns how many listed
// trains are not in the local roster.
func ApplySessionState(ctx *sim.Context, msg streaming.SessionState) int {
	unknown := 0
	for _, ts := range msg.Trains {
		t, ok := ctx.Roster.ByNumber(ts.Number)
		if !ok {
			unknown++
			continue
		}
		if ctx.IsPlayerTrain(t) {
			continue
		}
		t.Speed = ts.Speed
		t.Front = coupling.FromWire(ts.Front)
		t.RepositionRear(ctx.Track)
		t.Owner = ts.Owner
	}
	return unknown
}

// ApplyRemoteTrainState moves a replica-driven train to where its driver
// reports it. The authority then runs coupling checks on it like any other
// moving train.
func ApplyRemoteTrainState(ctx *sim.Context, ts streaming.TrainState) error {
	t, ok := ctx.Roster.Lookup(ts.Number, ts.Name)
	if !ok {
		return fmt.Errorf("train state: train %d %q: %w", ts.Number, ts.Name, coupling.ErrUnknownTrain)
	}
	if ts.Owner == "" || t.Owner != ts.Owner || ctx.IsPlayerTrain(t) {
		return fmt.Errorf("train state from %q for %s: %w", ts.Owner, t, ErrNotDriving)
	}
	t.Speed = ts.Speed
	t.Front = coupling.FromWire(ts.Front)
	t.RepositionRear(ctx.Track)
	return nil
}
