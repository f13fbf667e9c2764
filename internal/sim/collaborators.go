package sim

import (
	"io"

	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
	"github.com/openrails-go/fleet/pkg/streaming"
)

// Signals is the signaling network as seen by the fleet core.
type Signals interface {
	Update(trains []*train.Train)
	// ReserveTemporaryRoute returns the track sections covered by length
	// metres from the given position along dir. It must not change state on
	// failure.
	ReserveTemporaryRoute(t *train.Train, node int, offset float64, dir track.Direction, length float64) []int
	SetOccupied(section int, t *train.Train)
	FreeOccupied(t *train.Train)
	Save(w io.Writer) error
	Restore(r io.Reader) error
	// Relink resolves train references after a restore.
	Relink(lookup func(number int) (*train.Train, bool)) error
}

// AI drives AI-kind trains.
type AI interface {
	AddTrain(t *train.Train)
	RemoveTrain(t *train.Train)
	Contains(t *train.Train) bool
	// UpdateActivity and UpdateTimetable run one AI tick and return the
	// trains that finished their route and should leave the roster.
	UpdateActivity(elapsed float64) []*train.Train
	UpdateTimetable(elapsed float64) []*train.Train
	// UpdateTrain moves a single hosted train through the AI path.
	UpdateTrain(t *train.Train, elapsed float64) error
	RouteFeasible(t *train.Train) bool
	Reinitialize(t *train.Train)
	// Resume releases a train held by a suspended handover.
	Resume(t *train.Train)
}

// Sounds receives car events.
type Sounds interface {
	SignalEvent(c *train.Car, ev train.Event)
}

// Presentation is the front end that streams in vehicle assets.
type Presentation interface {
	RequestCrossLoad(c *train.Car)
	CrossLoadComplete() bool
}

// Ancillary is a subsystem updated after AI, such as level crossings or
// hazards.
type Ancillary interface {
	Tick(elapsed float64)
}

// Broadcaster carries mutations between the authority and its replicas.
// The authority sends couples, uncouples and session state; a replica sends
// uncouple requests and the state of the train it drives. Switches go both
// ways. Messages a node does not originate are dropped.
type Broadcaster interface {
	Couple(streaming.Couple)
	Uncouple(streaming.Uncouple)
	Switch(streaming.Switch)
	SessionState(streaming.SessionState)
	RequestUncouple(streaming.UncoupleRequest)
	TrainState(streaming.TrainState)
}

// Notifier shows user-facing messages.
type Notifier interface {
	Warn(msg string)
}

// Nop implements every collaborator interface and does nothing. It stands
// in for subsystems that are not wired in a given session.
type Nop struct{}

var (
	_ Signals      = Nop{}
	_ AI           = Nop{}
	_ Sounds       = Nop{}
	_ Presentation = Nop{}
	_ Ancillary    = Nop{}
	_ Broadcaster  = Nop{}
	_ Notifier     = Nop{}
)

func (Nop) Update([]*train.Train) {}
func (Nop) Tick(float64) {}

func (Nop) ReserveTemporaryRoute(*train.Train, int, float64, track.Direction, float64) []int {
	return nil
}
func (Nop) SetOccupied(int, *train.Train) {}
func (Nop) FreeOccupied(*train.Train) {}
func (Nop) Save(io.Writer) error { return nil }
func (Nop) Restore(io.Reader) error { return nil }
func (Nop) Relink(func(int) (*train.Train, bool)) error { return nil }
func (Nop) AddTrain(*train.Train) {}
func (Nop) RemoveTrain(*train.Train) {}
func (Nop) Contains(*train.Train) bool { return false }
func (Nop) UpdateActivity(float64) []*train.Train { return nil }
func (Nop) UpdateTimetable(float64) []*train.Train { return nil }
func (Nop) UpdateTrain(*train.Train, float64) error { return nil }
func (Nop) RouteFeasible(*train.Train) bool { return true }
func (Nop) Reinitialize(*train.Train) {}
func (Nop) Resume(*train.Train) {}
func (Nop) SignalEvent(*train.Car, train.Event) {}
func (Nop) RequestCrossLoad(*train.Car) {}
func (Nop) CrossLoadComplete() bool { return true }
func (Nop) Couple(streaming.Couple) {}
func (Nop) Uncouple(streaming.Uncouple) {}
func (Nop) Switch(streaming.Switch) {}
func (Nop) SessionState(streaming.SessionState) {}
func (Nop) RequestUncouple(streaming.UncoupleRequest) {}
func (Nop) TrainState(streaming.TrainState) {}
func (Nop) Warn(string) {}
