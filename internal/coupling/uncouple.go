package coupling

import (
	"fmt"
	"slices"

	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/train"
	"github.com/openrails-go/fleet/pkg/streaming"
)

// UncoupleBehind splits car's train behind car. It returns the newly live
// train, or nil when car is the last car and nothing changed.
//
// The original train keeps its number on the side holding the piloted car.
// When the piloted car is elsewhere the head stays unless keepFront is false.
// Replicas use RequestUncouple instead.
func UncoupleBehind(ctx *sim.Context, car *train.Car, keepFront bool) (*train.Train, error) {
	if !ctx.Mode.Authority() {
		return nil, ErrNotAuthority
	}
	orig, at, err := splitPoint(car)
	if err != nil || at == len(orig.Cars) {
		return nil, err
	}
	moveHead := !keepFront
	if p := ctx.PilotedCar(); p != nil && p.Train() == orig && orig.IndexOf(p) >= at {
		moveHead = true
	}

	target, resumed := newSide(ctx, orig)
	if err := split(ctx, orig, at, moveHead, target); err != nil {
		return nil, err
	}
	settle(ctx, orig, target)
	classify(ctx, orig, target, resumed)
	if pt := ctx.PlayerTrain(); pt != nil && pt.Kind == train.KindStatic {
		pt.Kind = train.KindPlayer
	}
	announce(ctx, orig, target, car, moveHead)
	return target, nil
}

// UncoupleBehindTimetable is UncoupleBehind for timetable sessions. Both
// trains get temporary track reservations, and the player is handed a new
// piloted car when the split leaves the player train without one.
func UncoupleBehindTimetable(ctx *sim.Context, car *train.Car, keepFront bool) (*train.Train, error) {
	orig := car.Train()
	wasPlayer := ctx.IsPlayerTrain(orig)
	kind := orig.Kind
	target, err := UncoupleBehind(ctx, car, keepFront)
	if err != nil || target == nil {
		return target, err
	}
	for _, t := range []*train.Train{orig, target} {
		ctx.Signals.FreeOccupied(t)
		sections := ctx.Signals.ReserveTemporaryRoute(t, t.Rear.Node, t.Rear.Offset, t.Rear.Direction, t.Length)
		for _, s := range sections {
			ctx.Signals.SetOccupied(s, t)
		}
	}
	if wasPlayer && !ctx.IsPlayerTrain(orig) {
		if c := orig.FirstDriveable(); c != nil {
			ctx.SetPilotedCar(c)
			orig.SelectLead(c)
			if target.Kind == train.KindPlayer {
				target.Kind = train.KindStatic
			}
			orig.Kind = kind
			ctx.Logger.Info("Piloted car reselected after split", "train", orig.Name, "car", c.CarID)
		}
	}
	return target, nil
}

// RequestUncouple asks the authority to split car's train behind car. Nothing
// changes locally; the split comes back through ApplyUncouple. It reports
// whether a request was sent, which is not the case for the last car.
func RequestUncouple(ctx *sim.Context, car *train.Car, keepFront bool) (bool, error) {
	orig, at, err := splitPoint(car)
	if err != nil || at == len(orig.Cars) {
		return false, err
	}
	ctx.Broadcaster.RequestUncouple(streaming.UncoupleRequest{
		User:      ctx.User,
		Train:     orig.Number,
		Name:      orig.Name,
		CarID:     car.CarID,
		KeepFront: keepFront,
	})
	ctx.Logger.Info("Uncouple requested", "train", orig.Name, "car", car.CarID)
	return true, nil
}

// ApplyUncoupleRequest runs a replica's uncouple request on the authority.
// The train must be unowned or driven by the requester. For a driven train
// the side holding its lead car keeps the number, as the piloted car does
// for a local split.
func ApplyUncoupleRequest(ctx *sim.Context, msg streaming.UncoupleRequest) (*train.Train, error) {
	orig, ok := ctx.Roster.Lookup(msg.Train, msg.Name)
	if !ok {
		return nil, fmt.Errorf("uncouple request: train %d %q: %w", msg.Train, msg.Name, ErrUnknownTrain)
	}
	if ctx.IsPlayerTrain(orig) || (orig.Owner != "" && orig.Owner != msg.User) {
		return nil, fmt.Errorf("uncouple request from %s: %s: %w", msg.User, orig, ErrNotOwner)
	}
	car, ok := ctx.Roster.FindCar(msg.CarID)
	if !ok || car.Train() != orig {
		return nil, fmt.Errorf("uncouple request: car %s in %s: %w", msg.CarID, orig, ErrUnknownCar)
	}
	keepFront := msg.KeepFront
	if lead := orig.LeadLocomotive(); lead != nil && orig.Owner == msg.User {
		keepFront = orig.IndexOf(lead) <= orig.IndexOf(car)
	}
	if ctx.Timetable {
		return UncoupleBehindTimetable(ctx, car, keepFront)
	}
	return UncoupleBehind(ctx, car, keepFront)
}

func splitPoint(car *train.Car) (*train.Train, int, error) {
	orig := car.Train()
	if orig == nil {
		return nil, 0, fmt.Errorf("uncouple %s: car has no train", car.CarID)
	}
	i := orig.IndexOf(car)
	if i < 0 {
		return nil, 0, fmt.Errorf("uncouple %s: car not listed by %s", car.CarID, orig)
	}
	return orig, i + 1, nil
}

// newSide picks the train receiving the split-off cars. A host resumes its
// most recently incorporated train; otherwise a fresh static train is made.
func newSide(ctx *sim.Context, orig *train.Train) (*train.Train, bool) {
	for len(orig.IncorporatedTrainNos) > 0 {
		n := orig.IncorporatedTrainNos[len(orig.IncorporatedTrainNos)-1]
		orig.IncorporatedTrainNos = orig.IncorporatedTrainNos[:len(orig.IncorporatedTrainNos)-1]
		if t, ok := ctx.Roster.ByNumber(n); ok && t.Kind == train.KindAIIncorporated {
			return t, true
		}
	}
	n := ctx.Roster.NextNumber()
	return train.New(n, fmt.Sprintf("%s:%d", orig.Name, n), train.KindStatic), false
}

// split moves either the first at cars (moveHead) or the rest into target and
// re-derives the travellers of both sides from the untouched ends.
func split(ctx *sim.Context, orig *train.Train, at int, moveHead bool, target *train.Train) error {
	if at <= 0 || at >= len(orig.Cars) {
		return fmt.Errorf("split %s at %d: %w", orig, at, train.ErrEmptyTrain)
	}
	lead := orig.LeadLocomotive()
	head := slices.Clone(orig.Cars[:at])
	tail := slices.Clone(orig.Cars[at:])

	head[len(head)-1].Brake.RearHoseConnected = false
	tail[0].Brake.FrontHoseConnected = false

	target.Speed = orig.Speed
	if moveHead {
		target.Attach(head...)
		target.Front = orig.Front
		target.RecalculateLength()
		target.RepositionRear(ctx.Track)

		orig.Cars = tail
		orig.RecalculateLength()
		orig.RepositionFront(ctx.Track)
	} else {
		target.Attach(tail...)
		target.Rear = orig.Rear
		target.RecalculateLength()
		target.RepositionFront(ctx.Track)

		orig.Cars = head
		orig.RecalculateLength()
		orig.RepositionRear(ctx.Track)
	}

	for _, t := range []*train.Train{orig, target} {
		prefer := lead
		if ctx.IsPlayerTrain(t) {
			prefer = ctx.PilotedCar()
		}
		t.SelectLead(prefer)
	}
	orig.UncoupledFrom = target.Number
	target.UncoupledFrom = orig.Number
	return nil
}

// settle propagates brake pressure in every side the player is not driving.
func settle(ctx *sim.Context, trains ...*train.Train) {
	for _, t := range trains {
		if ctx.IsPlayerTrain(t) {
			continue
		}
		t.PropagateBrakePressure(train.BrakeSettleTime)
	}
}

// classify sets the kind of the split-off train and registers it.
func classify(ctx *sim.Context, orig, target *train.Train, resumed bool) {
	if resumed {
		target.Kind = train.KindAI
		target.IncorporatingTrainNo = train.NoTrain
		if target.AI == nil {
			target.AI = &train.AIState{}
		}
		if ctx.AI.RouteFeasible(target) {
			ctx.AI.AddTrain(target)
		} else {
			target.Kind = train.KindStatic
			ctx.AI.RemoveTrain(target)
			ctx.Logger.Warn("Resumed train has no feasible route", "train", target.Name)
		}
		ctx.AIRosterChanged = true
		return
	}
	if ctx.IsPlayerTrain(target) && orig.Kind == train.KindPlayer {
		target.Kind = train.KindPlayer
		orig.Kind = train.KindStatic
	}
	if err := ctx.Roster.Add(target); err != nil {
		ctx.Roster.Queue(target)
		ctx.Logger.Warn("Split-off train queued", "train", target.Name, "error", err)
	}
}

func announce(ctx *sim.Context, orig, target *train.Train, car *train.Car, moveHead bool) {
	ctx.Sounds.SignalEvent(car, train.EventUncouple)
	ctx.Logger.Info("Train uncoupled",
		"train", orig.Name,
		"new", target.Name,
		"kind", target.Kind.String(),
		"cars", len(orig.Cars),
		"newCars", len(target.Cars))
	if !broadcasting(ctx.Mode) {
		return
	}
	ctx.Broadcaster.Uncouple(streaming.Uncouple{
		Original: orig.Number,
		NewTrain: target.Number,
		NewName:  target.Name,
		NewKind:  int(target.Kind),
		CarID:    car.CarID,
		MoveHead: moveHead,
		Front:    WireTraveller(orig.Front),
		Rear:     WireTraveller(orig.Rear),
		User:     ctx.User,
	})
}

// ApplyUncouple replays an authoritative split on a replica.
func ApplyUncouple(ctx *sim.Context, msg streaming.Uncouple) (*train.Train, error) {
	orig, ok := ctx.Roster.ByNumber(msg.Original)
	if !ok {
		return nil, fmt.Errorf("uncouple: original %d: %w", msg.Original, ErrUnknownTrain)
	}
	car, ok := ctx.Roster.FindCar(msg.CarID)
	if !ok || car.Train() != orig {
		return nil, fmt.Errorf("uncouple: car %s in %d: %w", msg.CarID, msg.Original, ErrUnknownCar)
	}
	_, at, err := splitPoint(car)
	if err != nil {
		return nil, err
	}

	target, exists := ctx.Roster.ByNumber(msg.NewTrain)
	if exists && target.Kind != train.KindAIIncorporated {
		return nil, fmt.Errorf("uncouple: new train %d already live", msg.NewTrain)
	}
	if !exists {
		target = train.New(msg.NewTrain, msg.NewName, train.Kind(msg.NewKind))
	}
	orig.IncorporatedTrainNos = slices.DeleteFunc(orig.IncorporatedTrainNos, func(n int) bool { return n == msg.NewTrain })
	if err := split(ctx, orig, at, msg.MoveHead, target); err != nil {
		return nil, err
	}
	orig.Front, orig.Rear = FromWire(msg.Front), FromWire(msg.Rear)
	settle(ctx, orig, target)
	target.Kind = train.Kind(msg.NewKind)
	target.IncorporatingTrainNo = train.NoTrain
	if !exists {
		if err := ctx.Roster.Add(target); err != nil {
			return nil, fmt.Errorf("uncouple: %w", err)
		}
	}
	ctx.Sounds.SignalEvent(car, train.EventUncouple)
	ctx.AIRosterChanged = true
	return target, nil
}
