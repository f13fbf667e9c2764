// Package scheduler drives the fleet: one Update call per tick, run from a
// single goroutine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/openrails-go/fleet/internal/coupling"
	"github.com/openrails-go/fleet/internal/handover"
	"github.com/openrails-go/fleet/internal/queue"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/train"
	"github.com/openrails-go/fleet/pkg/streaming"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Command is work staged from another goroutine (API requests, replicated
// events) and run on the update goroutine at the start of a tick.
type Command struct {
	Name string
	// Key, when set, lets a later command with the same key replace this
	// one while it is still pending. State reports use it.
	Key string
	Run func(*sim.Context) error
}

// Observer is told about every completed tick. It runs on the update
// goroutine and must not keep references to mutable state.
type Observer interface {
	Observe(ctx *sim.Context, rosterVersion uint64)
}

// Scheduler owns the per-tick sequence.
type Scheduler struct {
	ctx       *sim.Context
	switcher  *handover.Switcher
	commands  *queue.Staged[Command]
	observers []Observer
	metrics   *metrics

	rosterVersion uint64

	// Mirrors of clock state for other goroutines.
	tick    atomic.Uint64
	simTime atomic.Uint64
}

// New creates a scheduler over ctx.
func New(ctx *sim.Context, switcher *handover.Switcher, observers ...Observer) (*Scheduler, error) {
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}
	if switcher == nil {
		switcher = handover.New()
	}
	return &Scheduler{
		ctx:       ctx,
		switcher:  switcher,
		commands:  queue.New[Command](),
		observers: observers,
		metrics:   m,
	}, nil
}

// Submit stages a command for the next tick. Safe for concurrent use.
func (s *Scheduler) Submit(c Command) {
	s.commands.Push(c.Key, c)
}

// Switcher returns the handover state machine.
func (s *Scheduler) Switcher() *handover.Switcher {
	return s.switcher
}

// Tick returns the last completed tick. Safe for concurrent use.
func (s *Scheduler) Tick() uint64 {
	return s.tick.Load()
}

// SimTime returns the session clock after the last tick. Safe for
// concurrent use.
func (s *Scheduler) SimTime() float64 {
	return math.Float64frombits(s.simTime.Load())
}

// Run calls Update every interval until ctx is cancelled. A failed tick is
// logged and the loop carries on with the next one.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(last).Seconds()
			last = now
			if err := s.Update(elapsed); err != nil {
				s.ctx.Logger.Error("Tick failed", "tick", s.ctx.Clock.Tick, "error", err)
			}
		}
	}
}

// Update runs one tick over elapsed wall seconds.
func (s *Scheduler) Update(elapsed float64) error {
	started := time.Now()
	bg := context.Background()
	ctx := s.ctx
	defer func() {
		s.tick.Store(ctx.Clock.Tick)
		s.simTime.Store(math.Float64bits(ctx.Clock.Time))
		s.metrics.ticks.Add(bg, 1)
		s.metrics.duration.Record(bg, float64(time.Since(started).Microseconds())/1000)
	}()

	s.drain()
	s.flush()

	dt := ctx.Clock.Advance(elapsed)

	if s.switcher.Tick(ctx) {
		s.metrics.held.Add(bg, 1)
		return nil
	}

	moving := s.movingTrains()
	s.metrics.moving.Record(bg, int64(len(moving)))

	var errs []error
	for _, t := range moving {
		if err := s.updateTrain(t, dt); err != nil {
			if !ctx.Mode.Multiplayer() {
				errs = append(errs, err)
				continue
			}
			s.metrics.contained.Add(bg, 1)
			ctx.Logger.Error("Train update failed", "train", t.Name, "error", err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	// A replica reports where its train went before any local contact stops
	// it, so the authority sees the same overlap and decides the coupling.
	if player := ctx.PlayerTrain(); ctx.Mode == sim.ModeClient && player != nil {
		ctx.Broadcaster.TrainState(coupling.WireTrain(player))
	}

	for _, t := range moving {
		if !ctx.Mode.Authority() && !ctx.IsPlayerTrain(t) {
			continue
		}
		if cur, ok := ctx.Roster.ByNumber(t.Number); !ok || cur != t {
			continue
		}
		if coupling.CheckForCoupling(ctx, t) {
			s.metrics.couplings.Add(bg, 1)
		}
	}

	if ctx.Mode.Authority() {
		ctx.Signals.Update(ctx.Roster.Trains())
	}

	s.updateAI(dt)

	for _, a := range ctx.Ancillary {
		a.Tick(dt)
	}
	if ctx.Mode == sim.ModeServer {
		ctx.Broadcaster.SessionState(s.sessionState())
	}

	if ctx.AIRosterChanged {
		s.rosterVersion++
		ctx.AIRosterChanged = false
	}
	for _, o := range s.observers {
		o.Observe(ctx, s.rosterVersion)
	}
	return nil
}

// drain runs staged commands in submission order.
func (s *Scheduler) drain() {
	for _, c := range s.commands.Drain() {
		s.metrics.commands.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", c.Name)))
		if err := c.Run(s.ctx); err != nil {
			s.ctx.Logger.Warn("Command failed", "command", c.Name, "error", err)
		}
	}
}

// flush adds trains queued during the previous tick.
func (s *Scheduler) flush() {
	added, err := s.ctx.Roster.Flush()
	if err != nil {
		s.ctx.Logger.Warn("Queued trains dropped", "error", err)
	}
	for _, t := range added {
		if t.Kind == train.KindAI {
			s.ctx.AI.AddTrain(t)
		}
		s.ctx.AIRosterChanged = true
	}
}

// movingTrains is the player train plus every other non-AI train with
// speed. AI trains move through the AI tick.
func (s *Scheduler) movingTrains() []*train.Train {
	player := s.ctx.PlayerTrain()
	var moving []*train.Train
	if player != nil {
		moving = append(moving, player)
	}
	for _, t := range s.ctx.Roster.Trains() {
		if t == player || t.Speed == 0 || t.Kind.IsAI() {
			continue
		}
		moving = append(moving, t)
	}
	return moving
}

// updateTrain moves one train. In multiplayer a panic is recovered and
// reported so that one train cannot stop the tick.
func (s *Scheduler) updateTrain(t *train.Train, dt float64) (err error) {
	if s.ctx.Mode.Multiplayer() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s: panic: %v", t, r)
				hub := sentry.CurrentHub().Clone()
				hub.ConfigureScope(func(scope *sentry.Scope) {
					scope.SetTag("train", t.Name)
					scope.SetTag("kind", t.Kind.String())
				})
				hub.Recover(err)
			}
		}()
	}
	if t.Kind == train.KindAIPlayerHosting {
		return s.ctx.AI.UpdateTrain(t, dt)
	}
	return t.Update(s.ctx.Track, dt)
}

func (s *Scheduler) updateAI(dt float64) {
	ctx := s.ctx
	var finished []*train.Train
	if ctx.Timetable {
		for _, t := range ctx.Roster.DueStarts(ctx.Clock.Time) {
			ctx.Roster.Queue(t)
		}
		finished = ctx.AI.UpdateTimetable(dt)
	} else {
		finished = ctx.AI.UpdateActivity(dt)
	}
	for _, t := range finished {
		if ctx.IsPlayerTrain(t) {
			continue
		}
		ctx.Logger.Info("AI train finished its route", "train", t.Name)
		ctx.Destroy(t)
	}
}

func (s *Scheduler) sessionState() streaming.SessionState {
	trains := s.ctx.Roster.Trains()
	st := streaming.SessionState{
		Tick:   s.ctx.Clock.Tick,
		Time:   s.ctx.Clock.Time,
		Trains: make([]streaming.TrainState, 0, len(trains)),
	}
	for _, t := range trains {
		st.Trains = append(st.Trains, coupling.WireTrain(t))
	}
	return st
}
