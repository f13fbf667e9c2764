package train

import "github.com/google/uuid"

// Event is a sound or state event signalled on a car.
type Event int

const (
	EventCouple Event = iota
	EventUncouple
)

func (e Event) String() string {
	switch e {
	case EventCouple:
		return "couple"
	case EventUncouple:
		return "uncouple"
	default:
		return "unknown"
	}
}

// DefaultPipePressure is the charged brake-pipe pressure in bar.
const DefaultPipePressure = 5.0

// BrakeState is the air-brake state of a single car.
type BrakeState struct {
	PipePressure       float64
	FrontHoseConnected bool
	RearHoseConnected  bool
}

// Car is one piece of rolling stock.
type Car struct {
	// UID identifies the car across the whole session.
	UID uuid.UUID
	// CarID is the per-consist identifier, e.g. "freight1 - 3".
	CarID     string
	Length    float64
	Flipped   bool
	Driveable bool
	Brake     BrakeState

	train *Train
}

// NewCar creates an unowned car with charged brakes and connected hoses.
func NewCar(carID string, length float64, driveable bool) *Car {
	return &Car{
		UID:       uuid.New(),
		CarID:     carID,
		Length:    length,
		Driveable: driveable,
		Brake: BrakeState{
			PipePressure:       DefaultPipePressure,
			FrontHoseConnected: true,
			RearHoseConnected:  true,
		},
	}
}

// Train returns the owning train.
func (c *Car) Train() *Train {
	return c.train
}

// Reparent hands the car to t. Callers must also move the car between the
// car lists so that only t lists it.
func (c *Car) Reparent(t *Train) {
	c.train = t
}

// Flip toggles orientation; the hoses swap ends with it.
func (c *Car) Flip() {
	c.Flipped = !c.Flipped
	c.Brake.FrontHoseConnected, c.Brake.RearHoseConnected = c.Brake.RearHoseConnected, c.Brake.FrontHoseConnected
}
