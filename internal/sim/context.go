// Package sim holds the simulation context: the roster, the piloted car, the
// clock and the collaborators every fleet operation is handed.
package sim

import (
	"log/slog"
	"math"

	"github.com/openrails-go/fleet/internal/roster"
	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
)

// SecondsPerDay wraps the time of day.
const SecondsPerDay = 86400.0

// Mode is the session's networking role.
type Mode int

const (
	ModeSinglePlayer Mode = iota
	ModeServer
	ModeClient
)

func (m Mode) String() string {
	switch m {
	case ModeServer:
		return "server"
	case ModeClient:
		return "client"
	default:
		return "none"
	}
}

// ParseMode maps a config role to a Mode. Unknown roles are single player.
func ParseMode(role string) Mode {
	switch role {
	case "server":
		return ModeServer
	case "client":
		return ModeClient
	default:
		return ModeSinglePlayer
	}
}

// Multiplayer reports whether the session is networked.
func (m Mode) Multiplayer() bool { return m != ModeSinglePlayer }

// Authority reports whether this process decides coupling, uncoupling and
// signaling.
func (m Mode) Authority() bool { return m != ModeClient }

// Season and Weather are persisted with the session.
type (
	Season  int32
	Weather int32
)

const (
	SeasonSpring Season = iota
	SeasonSummer
	SeasonAutumn
	SeasonWinter
)

const (
	WeatherClear Weather = iota
	WeatherSnow
	WeatherRain
)

// Clock is simulation time.
type Clock struct {
	// Time is monotonically increasing simulated seconds.
	Time float64
	// TimeOfDay is seconds since midnight.
	TimeOfDay       float64
	SpeedMultiplier float64
	Paused          bool
	Tick            uint64
}

// Advance moves the clock by elapsed wall seconds and returns the simulated
// seconds that passed, zero when paused.
func (c *Clock) Advance(elapsed float64) float64 {
	c.Tick++
	if c.Paused || elapsed <= 0 {
		return 0
	}
	mult := c.SpeedMultiplier
	if mult <= 0 {
		mult = 1
	}
	dt := elapsed * mult
	c.Time += dt
	c.TimeOfDay = math.Mod(c.TimeOfDay+dt, SecondsPerDay)
	return dt
}

// Context is passed to every fleet operation. It is owned by the update
// goroutine.
type Context struct {
	Track  *track.DB
	Roster *roster.Roster
	Clock  Clock
	Mode   Mode
	// User is the local multiplayer user name.
	User      string
	Season    Season
	Weather   Weather
	Timetable bool

	Signals      Signals
	AI           AI
	Sounds       Sounds
	Presentation Presentation
	Ancillary    []Ancillary
	Broadcaster  Broadcaster
	Notifier     Notifier
	Logger       *slog.Logger

	// AIRosterChanged is raised by coupling and cleared by the scheduler.
	AIRosterChanged bool

	piloted *train.Car
}

// Option configures a Context.
type Option func(*Context)

func WithMode(m Mode, user string) Option {
	return func(c *Context) {
		c.Mode = m
		c.User = user
	}
}

func WithSignals(s Signals) Option { return func(c *Context) { c.Signals = s } }
func WithAI(a AI) Option { return func(c *Context) { c.AI = a } }
func WithSounds(s Sounds) Option { return func(c *Context) { c.Sounds = s } }
func WithPresentation(p Presentation) Option {
	return func(c *Context) { c.Presentation = p }
}
func WithBroadcaster(b Broadcaster) Option { return func(c *Context) { c.Broadcaster = b } }
func WithNotifier(n Notifier) Option { return func(c *Context) { c.Notifier = n } }
func WithLogger(l *slog.Logger) Option { return func(c *Context) { c.Logger = l } }
func WithAncillary(a ...Ancillary) Option {
	return func(c *Context) { c.Ancillary = append(c.Ancillary, a...) }
}

// New creates a context over db with an empty roster. Collaborators not
// supplied are Nop.
func New(db *track.DB, opts ...Option) *Context {
	c := &Context{
		Track:        db,
		Roster:       roster.New(),
		Clock:        Clock{SpeedMultiplier: 1},
		Signals:      Nop{},
		AI:           Nop{},
		Sounds:       Nop{},
		Presentation: Nop{},
		Broadcaster:  Nop{},
		Notifier:     Nop{},
		Logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PilotedCar returns the car the user drives, or nil.
func (c *Context) PilotedCar() *train.Car {
	return c.piloted
}

// SetPilotedCar changes the car the user drives.
func (c *Context) SetPilotedCar(car *train.Car) {
	c.piloted = car
}

// PlayerTrain is the train containing the piloted car.
func (c *Context) PlayerTrain() *train.Train {
	if c.piloted == nil {
		return nil
	}
	return c.piloted.Train()
}

// IsPlayerTrain reports whether t contains the piloted car.
func (c *Context) IsPlayerTrain(t *train.Train) bool {
	return t != nil && c.PlayerTrain() == t
}

// Destroy removes t from the roster, the signaling network and the AI
// roster.
func (c *Context) Destroy(t *train.Train) {
	c.Signals.FreeOccupied(t)
	if t.Kind.IsAI() {
		c.AI.RemoveTrain(t)
	}
	c.Roster.Remove(t)
	c.AIRosterChanged = true
}
