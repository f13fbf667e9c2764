// Package coupling detects contact between trains and merges or splits them.
//
// All functions run on the update goroutine and mutate the roster held by
// the simulation context.
package coupling

import (
	"errors"
	"fmt"
	"math"

	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
	"github.com/openrails-go/fleet/pkg/streaming"
)

const (
	// Clearance is the separation, in metres, at which a train stops being
	// suppressed from re-coupling with the train it was split from.
	Clearance = 0.5
	// TrivialRoute is the remaining AI route below which an absorbed AI
	// train is destroyed rather than incorporated.
	TrivialRoute = 1.0

	searchLimit = 1000.0
)

var (
	ErrUnknownCar   = errors.New("car not found in roster")
	ErrUnknownTrain = errors.New("train not in roster")
	// ErrNotAuthority is returned when a replica tries to decide a split.
	ErrNotAuthority = errors.New("only the session authority splits trains")
	// ErrNotOwner is returned for a request on a train another user drives.
	ErrNotOwner = errors.New("train is driven by another user")
)

// end selects which end of the driven train is checked.
type end int

const (
	frontEnd end = iota
	rearEnd
)

// eligible reports whether two multiplayer trains may touch. Trains driven by
// two different users never couple.
func eligible(a, b *train.Train) bool {
	return a.Owner == "" || b.Owner == "" || a.Owner == b.Owner
}

// CheckForCoupling scans the roster for contact with the end of driven that
// leads its motion. It reports whether a coupling happened.
//
// On a replica contacts are resolved as collisions; the authority broadcasts
// the resulting coupling.
func CheckForCoupling(ctx *sim.Context, driven *train.Train) bool {
	var e end
	switch {
	case driven.Speed < 0:
		e = rearEnd
	case driven.Speed > 0:
		e = frontEnd
	default:
		return false
	}
	if len(driven.Cars) == 0 {
		return false
	}

	for _, t := range ctx.Roster.Trains() {
		if t == driven || t.Kind == train.KindAIIncorporated || len(t.Cars) == 0 {
			continue
		}
		if ctx.Mode.Multiplayer() && !eligible(driven, t) {
			continue
		}
		d1, d2 := distances(ctx.Track, driven, t, e)
		switch {
		case d1 < 0 || d2 < 0:
			reversed := d1 >= 0
			d := d1
			if reversed {
				d = d2
			}
			if t.Number == driven.UncoupledFrom || !ctx.Mode.Authority() {
				recontact(ctx, driven, t, e, d)
				return false
			}
			couple(ctx, driven, t, e, reversed)
			return true
		default:
			UpdateUncoupled(ctx, driven, t, d1, d2)
		}
	}
	return false
}

// distances returns the overlap distance from the checked end of driven to
// the near end (d1) and the far end (d2) of other. For a rear check the near
// end is other's front; for a front check it is other's rear.
func distances(db *track.DB, driven, other *train.Train, e end) (float64, float64) {
	inward := math.Min(driven.Length, other.Length) / 2
	if e == rearEnd {
		from := driven.Rear.Reversed()
		return track.OverlapDistance(db, from, other.Front, inward, searchLimit),
			track.OverlapDistance(db, from, other.Rear, inward, searchLimit)
	}
	from := driven.Front
	return track.OverlapDistance(db, from, other.Rear, inward, searchLimit),
		track.OverlapDistance(db, from, other.Front, inward, searchLimit)
}

// UpdateUncoupled re-arms coupling between driven and the train it was split
// from once both distances exceed Clearance. It reports whether the link
// was cleared. It never couples.
func UpdateUncoupled(ctx *sim.Context, driven, other *train.Train, d1, d2 float64) bool {
	if driven.UncoupledFrom != other.Number || d1 <= Clearance || d2 <= Clearance {
		return false
	}
	driven.UncoupledFrom = train.NoTrain
	if other.UncoupledFrom == driven.Number {
		other.UncoupledFrom = train.NoTrain
	}
	ctx.Logger.Debug("Uncoupled trains separated", "train", driven.Name, "other", other.Name)
	return true
}

// recontact absorbs the relative speed of a suppressed contact and backs the
// driven train out of the overlap.
func recontact(ctx *sim.Context, driven, other *train.Train, e end, overlap float64) {
	driven.Speed = other.Speed
	if e == rearEnd {
		driven.Shift(ctx.Track, -overlap)
		return
	}
	driven.Shift(ctx.Track, overlap)
}

// couple moves every car of absorbed into driven at the contact end.
func couple(ctx *sim.Context, driven, absorbed *train.Train, e end, reversed bool) {
	contact := driven.Cars[0]
	if e == rearEnd {
		contact = driven.Cars[len(driven.Cars)-1]
	}
	ctx.Sounds.SignalEvent(contact, train.EventCouple)

	cars := absorbed.Detach()
	if reversed {
		for i, j := 0, len(cars)-1; i < j; i, j = i+1, j-1 {
			cars[i], cars[j] = cars[j], cars[i]
		}
		for _, c := range cars {
			c.Flip()
		}
	}
	if e == rearEnd {
		joint := len(driven.Cars)
		driven.Attach(cars...)
		connectHoses(driven, joint)
	} else {
		driven.InsertFront(cars...)
		connectHoses(driven, len(cars))
	}
	finishCoupling(ctx, driven, absorbed, e)
}

// connectHoses joins the brake pipe between cars joint-1 and joint.
func connectHoses(t *train.Train, joint int) {
	if joint <= 0 || joint >= len(t.Cars) {
		return
	}
	t.Cars[joint-1].Brake.RearHoseConnected = true
	t.Cars[joint].Brake.FrontHoseConnected = true
}

// finishCoupling re-derives driven's extent and resolves what happens to the
// absorbed train.
func finishCoupling(ctx *sim.Context, driven, absorbed *train.Train, e end) {
	driven.RecalculateLength()
	if e == rearEnd {
		driven.RepositionRear(ctx.Track)
	} else {
		driven.RepositionFront(ctx.Track)
	}

	survivor, merged := driven, absorbed
	incorporated := false
	if continuesRoute(absorbed) {
		if driven.AI != nil && driven.AI.RemainingRoute < absorbed.AI.RemainingRoute {
			survivor, merged = swapRoles(ctx, driven, absorbed)
		}
		incorporated = absorb(ctx, survivor, merged)
	} else {
		ctx.Destroy(absorbed)
	}

	if survivor.LeadLocomotive() == nil || ctx.IsPlayerTrain(survivor) {
		survivor.SelectLead(preferredLead(ctx, survivor))
	}
	clearUncoupledLinks(ctx, survivor, merged)
	if pt := ctx.PlayerTrain(); pt != nil && pt.Kind == train.KindStatic {
		pt.Kind = train.KindPlayer
	}
	ctx.AIRosterChanged = true
	ctx.Logger.Info("Trains coupled",
		"survivor", survivor.Name,
		"absorbed", merged.Name,
		"cars", len(survivor.Cars),
		"incorporated", incorporated)

	if broadcasting(ctx.Mode) {
		ctx.Broadcaster.Couple(streaming.Couple{
			Survivor:     survivor.Number,
			Absorbed:     merged.Number,
			Incorporated: incorporated,
			Cars:         carRefs(survivor.Cars),
			Front:        WireTraveller(survivor.Front),
			Rear:         WireTraveller(survivor.Rear),
			Speed:        survivor.Speed,
			User:         ctx.User,
		})
	}
}

// continuesRoute reports whether an absorbed train must be kept alive to
// finish its route later.
func continuesRoute(t *train.Train) bool {
	return t.AI != nil && (t.AI.RemainingRoute > TrivialRoute || t.AI.UnconditionalAttach)
}

// swapRoles hands driven's cars and position to absorbed, which becomes the
// surviving entity. It returns the new survivor and merged trains.
func swapRoles(ctx *sim.Context, driven, absorbed *train.Train) (*train.Train, *train.Train) {
	wasPlayer := ctx.IsPlayerTrain(driven)
	absorbed.Attach(driven.Detach()...)
	absorbed.Front, absorbed.Rear = driven.Front, driven.Rear
	absorbed.Speed = driven.Speed
	absorbed.RecalculateLength()
	if wasPlayer {
		absorbed.Kind = train.KindAIPlayerHosting
		absorbed.Owner = driven.Owner
		absorbed.ControlMode = driven.ControlMode
		absorbed.SelectLead(ctx.PilotedCar())
	} else {
		absorbed.SelectLead(nil)
	}
	ctx.Signals.FreeOccupied(driven)
	ctx.Logger.Debug("Coupling roles swapped", "survivor", absorbed.Name, "merged", driven.Name)
	return absorbed, driven
}

// absorb keeps merged as an incorporated train of host when it still has a
// route to run, otherwise destroys it. It reports whether merged was kept.
func absorb(ctx *sim.Context, host, merged *train.Train) bool {
	if !continuesRoute(merged) {
		ctx.Destroy(merged)
		return false
	}
	ctx.Signals.FreeOccupied(merged)
	ctx.AI.RemoveTrain(merged)
	merged.Detach()
	merged.Kind = train.KindAIIncorporated
	merged.Speed = 0
	merged.IncorporatingTrainNo = host.Number
	host.IncorporatedTrainNos = append(host.IncorporatedTrainNos, merged.Number)
	return true
}

func preferredLead(ctx *sim.Context, t *train.Train) *train.Car {
	if ctx.IsPlayerTrain(t) {
		return ctx.PilotedCar()
	}
	return t.LeadLocomotive()
}

// clearUncoupledLinks drops suppression links that point at the merged
// train. Links to the survivor stay armed.
func clearUncoupledLinks(ctx *sim.Context, survivor, merged *train.Train) {
	if survivor.UncoupledFrom == merged.Number {
		survivor.UncoupledFrom = train.NoTrain
	}
	for _, t := range ctx.Roster.Trains() {
		if t != merged && t.UncoupledFrom == merged.Number {
			t.UncoupledFrom = train.NoTrain
		}
	}
}

// ApplyCouple replays an authoritative coupling on a replica.
func ApplyCouple(ctx *sim.Context, msg streaming.Couple) error {
	survivor, ok := ctx.Roster.ByNumber(msg.Survivor)
	if !ok {
		return fmt.Errorf("couple: survivor %d: %w", msg.Survivor, ErrUnknownTrain)
	}
	absorbed, ok := ctx.Roster.ByNumber(msg.Absorbed)
	if !ok {
		return fmt.Errorf("couple: absorbed %d: %w", msg.Absorbed, ErrUnknownTrain)
	}

	pool := make(map[string]*train.Car, len(survivor.Cars)+len(absorbed.Cars))
	for _, c := range survivor.Cars {
		pool[c.UID.String()] = c
	}
	for _, c := range absorbed.Cars {
		pool[c.UID.String()] = c
	}
	cars := make([]*train.Car, 0, len(msg.Cars))
	for _, ref := range msg.Cars {
		c, ok := pool[ref.UID]
		if !ok {
			return fmt.Errorf("couple: car %s: %w", ref.CarID, ErrUnknownCar)
		}
		cars = append(cars, c)
	}
	if len(cars) != len(pool) {
		return fmt.Errorf("couple: %d cars listed for %d in trains %d and %d", len(cars), len(pool), msg.Survivor, msg.Absorbed)
	}

	for i, c := range cars {
		if c.Flipped != msg.Cars[i].Flipped {
			c.Flip()
		}
	}
	lead := survivor.LeadLocomotive()
	if lead == nil {
		lead = absorbed.LeadLocomotive()
	}
	survivor.Detach()
	absorbed.Detach()
	survivor.Attach(cars...)
	survivor.RecalculateLength()
	survivor.Front, survivor.Rear = FromWire(msg.Front), FromWire(msg.Rear)
	survivor.Speed = msg.Speed
	if ctx.IsPlayerTrain(survivor) {
		lead = ctx.PilotedCar()
	}
	survivor.SelectLead(lead)

	if msg.Incorporated {
		absorbed.Kind = train.KindAIIncorporated
		absorbed.Speed = 0
		absorbed.IncorporatingTrainNo = survivor.Number
		survivor.IncorporatedTrainNos = append(survivor.IncorporatedTrainNos, absorbed.Number)
	} else {
		ctx.Destroy(absorbed)
	}
	clearUncoupledLinks(ctx, survivor, absorbed)
	ctx.AIRosterChanged = true
	return nil
}
