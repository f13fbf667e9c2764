// Package session places the trains of a session definition into a fresh
// simulation context.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/openrails-go/fleet/internal/cache"
	"github.com/openrails-go/fleet/internal/parser"
	"github.com/openrails-go/fleet/internal/roster"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
)

// Fatal construction errors. Anything else found while building is logged
// and the offending car or train skipped.
var (
	ErrMissingPlayerConsist = errors.New("player consist missing or without a locomotive")
	ErrPathUnreadable       = errors.New("player path unreadable")
	ErrPlacementOccupied    = errors.New("player placement occupied")
)

var errEmptyConsist = errors.New("consist has no loadable cars")

// Builder turns session definitions into trains.
type Builder struct {
	parser *parser.Parser
	defs   *cache.Definitions
	dir    string
	logger *slog.Logger
}

// NewBuilder creates a builder reading paths from dir/paths and consists and
// wagons through defs.
func NewBuilder(p *parser.Parser, defs *cache.Definitions, dir string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{parser: p, defs: defs, dir: dir, logger: logger}
}

// Build populates ctx, which must have an empty roster. Static trains are
// placed first so the player placement can be checked against them.
func (b *Builder) Build(def *parser.Session, ctx *sim.Context) error {
	ctx.Clock.Time = def.StartTime
	ctx.Clock.TimeOfDay = math.Mod(def.StartTime, sim.SecondsPerDay)
	ctx.Season = parser.Season(def.Season)
	ctx.Weather = parser.Weather(def.Weather)
	ctx.Timetable = def.Timetable

	for i, s := range def.Statics {
		if err := b.placeStatic(ctx, s); err != nil {
			b.logger.Warn("Skipping static consist", "index", i, "name", s.Name, "error", err)
		}
	}
	ctx.Signals.Update(ctx.Roster.Trains())

	if err := b.placePlayer(ctx, def.Player); err != nil {
		return fmt.Errorf("session %q: %w", def.Name, err)
	}

	for i, a := range def.AI {
		if err := b.placeAI(ctx, a, def.Timetable); err != nil {
			b.logger.Warn("Skipping AI train", "index", i, "name", a.Name, "error", err)
		}
	}
	ctx.AIRosterChanged = true
	b.logger.Info("Session built",
		"session", def.Name,
		"trains", ctx.Roster.Len(),
		"pending", len(ctx.Roster.Starts()))
	return nil
}

func (b *Builder) placeStatic(ctx *sim.Context, s parser.StaticEntry) error {
	name := s.Name
	if name == "" {
		name = fmt.Sprintf("static:%s", s.Consist)
	}
	t, err := b.consistTrain(ctx.Roster.NextNumber(), name, s.Consist, train.KindStatic)
	if err != nil {
		return err
	}
	if err := place(ctx.Track, t, s.Position); err != nil {
		return err
	}
	return ctx.Roster.Add(t)
}

func (b *Builder) placePlayer(ctx *sim.Context, p parser.PlayerEntry) error {
	name := p.Name
	if name == "" {
		name = "player"
	}
	t, err := b.consistTrain(roster.PlayerNumber, name, p.Consist, train.KindPlayer)
	if err != nil {
		return errors.Join(ErrMissingPlayerConsist, err)
	}
	lead := t.LeadLocomotive()
	if lead == nil {
		return fmt.Errorf("consist %q: %w", p.Consist, ErrMissingPlayerConsist)
	}

	path, err := parser.ReadFile(filepath.Join(b.dir, "paths", p.Path+".yaml"), b.parser.ParsePath)
	if err != nil {
		return errors.Join(ErrPathUnreadable, err)
	}
	if err := place(ctx.Track, t, path.Start); err != nil {
		return errors.Join(ErrPathUnreadable, err)
	}

	sections := ctx.Signals.ReserveTemporaryRoute(t, t.Rear.Node, t.Rear.Offset, t.Rear.Direction, t.Length)
	if sections == nil {
		return fmt.Errorf("%s at node %d: %w", t, path.Start.Node, ErrPlacementOccupied)
	}
	for _, s := range sections {
		ctx.Signals.SetOccupied(s, t)
	}

	if p.Explorer {
		t.ControlMode = train.ControlExplorer
		t.Pathless = true
	} else {
		t.ControlMode = train.ControlAutoSignal
	}
	if ctx.Mode.Multiplayer() {
		t.Owner = ctx.User
	}
	if err := ctx.Roster.Add(t); err != nil {
		return err
	}
	ctx.SetPilotedCar(lead)
	return nil
}

func (b *Builder) placeAI(ctx *sim.Context, a parser.AIEntry, timetable bool) error {
	name := a.Name
	if name == "" {
		name = fmt.Sprintf("ai:%s", a.Consist)
	}
	t, err := b.consistTrain(ctx.Roster.NextNumber(), name, a.Consist, train.KindAI)
	if err != nil {
		return err
	}
	if err := place(ctx.Track, t, a.Position); err != nil {
		return err
	}
	t.ControlMode = train.ControlAutoSignal
	t.AI.RemainingRoute = a.Route
	t.AI.StartTime = a.StartTime
	t.AI.CruiseSpeed = a.CruiseSpeed
	t.AI.UnconditionalAttach = a.Attach
	t.AI.Timetable = timetable

	if a.StartTime > ctx.Clock.Time {
		if _, ok := ctx.Roster.ByName(name); ok {
			return fmt.Errorf("%s: %w", name, roster.ErrDuplicateName)
		}
		ctx.Roster.AddStart(t)
		return nil
	}
	if err := ctx.Roster.Add(t); err != nil {
		return err
	}
	ctx.AI.AddTrain(t)
	return nil
}

// consistTrain builds an unplaced train from a consist. Missing wagons are
// logged and left out.
func (b *Builder) consistTrain(number int, name, consist string, kind train.Kind) (*train.Train, error) {
	c, err := b.defs.Consists.Get(consist)
	if err != nil {
		return nil, err
	}
	t := train.New(number, name, kind)
	for _, e := range c.Entries {
		w, err := b.defs.Wagons.Get(e.Wagon)
		if err != nil {
			b.logger.Warn("Skipping missing wagon", "consist", consist, "wagon", e.Wagon, "error", err)
			continue
		}
		for i := 0; i < e.Count; i++ {
			car := train.NewCar(fmt.Sprintf("%s - %d", name, len(t.Cars)), w.Length, w.Driveable)
			if e.Flipped {
				car.Flip()
			}
			t.Attach(car)
		}
	}
	if len(t.Cars) == 0 {
		return nil, fmt.Errorf("consist %q: %w", consist, errEmptyConsist)
	}
	t.RecalculateLength()
	t.SelectLead(nil)
	return t, nil
}

// place puts the front of t at p and derives the rear.
func place(db *track.DB, t *train.Train, p parser.Placement) error {
	front, err := track.NewTraveller(db, p.Node, p.Offset, p.Dir())
	if err != nil {
		return err
	}
	t.Front = front
	t.RepositionRear(db)
	return nil
}
