// Package handover moves the user from one train to another in two phases so
// the front end can stream in assets between them.
package handover

import (
	"errors"
	"fmt"
	"sync"

	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/train"
	"github.com/openrails-go/fleet/pkg/streaming"
)

var (
	ErrTrainMoving = errors.New("train must be stopped")
	ErrNotEligible = errors.New("train cannot be driven")
	ErrNoDriveable = errors.New("train has no driveable car")
)

// State is the switcher's phase.
type State int

const (
	Idle State = iota
	Starting
	Pending
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Pending:
		return "pending"
	default:
		return "idle"
	}
}

// Request asks to drive the train with the given number.
type Request struct {
	Target int
	// SuspendPrevious stops the previous train's AI until it is
	// reinitialised; it requires the previous train to be stationary.
	SuspendPrevious bool
}

type pending struct {
	old          *train.Train
	target       *train.Train
	car          *train.Car
	staticTarget bool
	suspend      bool
}

// Switcher is polled once per tick by the scheduler. Request may be called
// from any goroutine.
type Switcher struct {
	mu  sync.Mutex
	req *Request

	state State
	cur   *pending
}

// New returns an idle switcher.
func New() *Switcher {
	return &Switcher{}
}

// Request records a switch to be started on the next tick. A newer request
// replaces one that has not started yet.
func (s *Switcher) Request(r Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.req = &r
}

func (s *Switcher) take() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.req
	s.req = nil
	return r
}

// State returns the current phase.
func (s *Switcher) State() State {
	return s.state
}

// Tick starts a requested switch when idle and polls a pending one. It
// reports whether the rest of the tick must be held while assets load.
func (s *Switcher) Tick(ctx *sim.Context) bool {
	if s.state == Idle {
		if r := s.take(); r != nil {
			if err := s.start(ctx, *r); err != nil {
				ctx.Logger.Warn("Train switch rejected", "target", r.Target, "error", err)
			}
		}
	}
	if s.state != Pending {
		return false
	}
	if !ctx.Presentation.CrossLoadComplete() {
		return true
	}
	s.complete(ctx)
	return false
}

// start validates the request and prepares the target. Every rejection
// happens before the roster is touched.
func (s *Switcher) start(ctx *sim.Context, r Request) error {
	s.state = Starting
	defer func() {
		if s.state == Starting {
			s.state = Idle
		}
	}()

	old := ctx.PlayerTrain()
	target, ok := ctx.Roster.ByNumber(r.Target)
	if !ok || target == old {
		return fmt.Errorf("train %d: %w", r.Target, ErrNotEligible)
	}

	p := &pending{old: old, target: target, suspend: r.SuspendPrevious}
	switch target.Kind {
	case train.KindAI:
		if r.SuspendPrevious && old != nil && old.Speed != 0 {
			return s.warn(ctx, old, "Stop the train before suspending it")
		}
		if p.car = target.FirstDriveable(); p.car == nil {
			return fmt.Errorf("%s: %w", target, ErrNoDriveable)
		}
		takeAI(ctx, target)

	case train.KindAIIncorporated:
		host, ok := ctx.Roster.ByNumber(target.IncorporatingTrainNo)
		if !ok || host != old || !old.Pathless {
			return fmt.Errorf("%s is incorporated in another train: %w", target, ErrNotEligible)
		}
		if p.car = old.FirstDriveable(); p.car == nil {
			return fmt.Errorf("%s: %w", old, ErrNoDriveable)
		}
		s.takeOver(ctx, old, target, p.car)
		return nil

	case train.KindStatic:
		if old != nil && old.Speed != 0 {
			return s.warn(ctx, old, "Stop the train before changing to another one")
		}
		if p.car = target.FirstDriveable(); p.car == nil {
			return fmt.Errorf("%s: %w", target, ErrNoDriveable)
		}
		p.staticTarget = true
		if old != nil {
			old.Kind = train.KindStatic
			old.ReverseFormation()
		}

	default:
		return fmt.Errorf("%s: %w", target, ErrNotEligible)
	}

	ctx.Presentation.RequestCrossLoad(p.car)
	s.cur = p
	s.state = Pending
	ctx.Logger.Info("Train switch pending", "target", target.Name, "car", p.car.CarID)
	return nil
}

func (s *Switcher) warn(ctx *sim.Context, old *train.Train, msg string) error {
	ctx.Notifier.Warn(msg)
	return fmt.Errorf("%s: %w", old, ErrTrainMoving)
}

// takeAI puts an AI train under player control. A train held by a
// suspended handover is released.
func takeAI(ctx *sim.Context, t *train.Train) {
	if t.AI == nil {
		t.AI = &train.AIState{}
	}
	if t.AI.Suspended {
		ctx.AI.Resume(t)
	}
	t.Kind = train.KindAIPlayerDriven
	if !ctx.AI.Contains(t) {
		ctx.AI.AddTrain(t)
	}
}

// takeOver merges a pathless host back into the train it incorporated and
// completes the switch within the tick.
func (s *Switcher) takeOver(ctx *sim.Context, host, target *train.Train, car *train.Car) {
	target.Owner = host.Owner
	reclaim(ctx, host, target)

	ctx.SetPilotedCar(car)
	target.SelectLead(car)
	s.state = Idle
	ctx.Logger.Info("Train switch completed", "target", target.Name, "car", car.CarID)
	s.announce(ctx, streaming.Switch{Previous: host.Number, Target: target.Number, CarID: car.CarID})
}

// reclaim moves every car of host into the train it incorporated and
// destroys host.
func reclaim(ctx *sim.Context, host, target *train.Train) {
	target.Attach(host.Detach()...)
	target.Front, target.Rear = host.Front, host.Rear
	target.Speed = host.Speed
	target.RecalculateLength()
	target.IncorporatingTrainNo = train.NoTrain
	ctx.Destroy(host)
	takeAI(ctx, target)
}

// complete swaps the piloted car once the front end is ready.
func (s *Switcher) complete(ctx *sim.Context) {
	p := s.cur
	s.cur = nil
	s.state = Idle

	ctx.SetPilotedCar(p.car)
	p.target.SelectLead(p.car)
	p.target.Owner = ctx.User
	if p.staticTarget {
		p.target.Kind = train.KindPlayer
		p.target.Pathless = true
		p.target.ControlMode = train.ControlManual
	}

	prev := train.NoTrain
	if old := p.old; old != nil {
		prev = old.Number
		old.Owner = ""
		if !p.staticTarget {
			demote(ctx, old, p.suspend)
		}
	}
	ctx.AIRosterChanged = true
	ctx.Logger.Info("Train switch completed", "target", p.target.Name, "car", p.car.CarID)
	s.announce(ctx, streaming.Switch{
		Previous:     prev,
		Target:       p.target.Number,
		CarID:        p.car.CarID,
		StaticTarget: p.staticTarget,
		Suspended:    p.suspend && p.old != nil && !p.staticTarget,
	})
}

// demote hands the previous player train to AI. A pathless train has no
// route to run and is left static.
func demote(ctx *sim.Context, old *train.Train, suspend bool) {
	if ctx.AI.Contains(old) {
		ctx.AI.RemoveTrain(old)
	}
	if old.Pathless {
		old.Kind = train.KindStatic
		old.ControlMode = train.ControlUndefined
		return
	}
	if old.AI == nil {
		old.AI = &train.AIState{}
	}
	old.Kind = train.KindAI
	old.ControlMode = train.ControlAutoSignal
	if suspend {
		old.AI.Suspended = true
		ctx.AI.Reinitialize(old)
	}
	ctx.AI.AddTrain(old)
}

func (s *Switcher) announce(ctx *sim.Context, msg streaming.Switch) {
	if !ctx.Mode.Multiplayer() {
		return
	}
	msg.User = ctx.User
	ctx.Broadcaster.Switch(msg)
}

// ApplyRemoteSwitch replays another user's completed switch: the previous
// train is demoted exactly as on the node that made the switch, and the
// target is handed to msg.User. The local piloted car is not changed.
func ApplyRemoteSwitch(ctx *sim.Context, msg streaming.Switch) error {
	target, ok := ctx.Roster.ByNumber(msg.Target)
	if !ok {
		return fmt.Errorf("switch: train %d: %w", msg.Target, ErrNotEligible)
	}
	if ctx.IsPlayerTrain(target) {
		return fmt.Errorf("switch: %s is driven locally: %w", target, ErrNotEligible)
	}

	if target.Kind == train.KindAIIncorporated {
		host, ok := ctx.Roster.ByNumber(target.IncorporatingTrainNo)
		if !ok || host.Number != msg.Previous || ctx.IsPlayerTrain(host) {
			return fmt.Errorf("switch: %s is incorporated in another train: %w", target, ErrNotEligible)
		}
		reclaim(ctx, host, target)
		target.Owner = msg.User
		selectCar(ctx, target, msg.CarID)
		ctx.AIRosterChanged = true
		return nil
	}

	if prev, ok := ctx.Roster.ByNumber(msg.Previous); ok && prev != target && !ctx.IsPlayerTrain(prev) &&
		(prev.Owner == "" || prev.Owner == msg.User) {
		prev.Owner = ""
		if msg.StaticTarget {
			prev.Kind = train.KindStatic
			prev.ReverseFormation()
		} else {
			demote(ctx, prev, msg.Suspended)
		}
	}

	target.Owner = msg.User
	switch {
	case msg.StaticTarget:
		target.Kind = train.KindPlayer
		target.Pathless = true
		target.ControlMode = train.ControlManual
	case target.AI != nil:
		takeAI(ctx, target)
	default:
		target.Kind = train.KindPlayer
	}
	selectCar(ctx, target, msg.CarID)
	ctx.AIRosterChanged = true
	return nil
}

func selectCar(ctx *sim.Context, t *train.Train, carID string) {
	if c, ok := ctx.Roster.FindCar(carID); ok && c.Train() == t {
		t.SelectLead(c)
	}
}
