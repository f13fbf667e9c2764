// Package persist saves and restores a session: clock, environment,
// signaling state and the train roster, in a little-endian binary stream.
//
// Layout:
//
//	float64 clock time, float64 time of day
//	int32 season, int32 weather, bool timetable
//	signaling state (written by the Signals collaborator)
//	train records: int32 tag, payload ... int32 -1
//	pending starts: int32 tag, payload ... int32 -1
//
// A non-negative tag is the train kind of a plain train record. Tag -2 is an
// autopilot record, a player-driven AI train whose payload carries its kind.
package persist

import (
	"errors"
	"fmt"
	"io"

	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/train"
)

const (
	tagEnd       int32 = -1
	tagAutopilot int32 = -2
)

var (
	ErrCorrupt    = errors.New("save stream is corrupt")
	ErrUnknownTag = errors.New("unknown train record tag")
	ErrNotEmpty   = errors.New("restore target already has trains")
)

func autopilot(k train.Kind) bool {
	return k == train.KindAIPlayerDriven || k == train.KindAIPlayerHosting
}

// Save writes the session held by ctx to w.
func Save(w io.Writer, ctx *sim.Context) error {
	e := &encoder{w: w}
	e.float64(ctx.Clock.Time)
	e.float64(ctx.Clock.TimeOfDay)
	e.int32(int32(ctx.Season))
	e.int32(int32(ctx.Weather))
	e.bool(ctx.Timetable)
	if e.err != nil {
		return fmt.Errorf("writing header: %w", e.err)
	}
	if err := ctx.Signals.Save(w); err != nil {
		return fmt.Errorf("writing signaling state: %w", err)
	}

	piloted := ctx.PilotedCar()
	for _, t := range ctx.Roster.Trains() {
		writeRecord(e, t, piloted)
	}
	// Queued trains would go live on the next tick; they restore as live.
	for _, t := range ctx.Roster.QueuedTrains() {
		writeRecord(e, t, piloted)
	}
	e.int32(tagEnd)
	for _, t := range ctx.Roster.Starts() {
		writeRecord(e, t, nil)
	}
	e.int32(tagEnd)
	if e.err != nil {
		return fmt.Errorf("writing trains: %w", e.err)
	}
	return nil
}

func writeRecord(e *encoder, t *train.Train, piloted *train.Car) {
	if autopilot(t.Kind) {
		e.int32(tagAutopilot)
		e.int(int(t.Kind))
	} else {
		e.int(int(t.Kind))
	}
	writeTrain(e, t, piloted)
}

func writeTrain(e *encoder, t *train.Train, piloted *train.Car) {
	e.int(t.Number)
	e.string(t.Name)
	e.int(int(t.ControlMode))
	e.float64(t.Speed)
	e.traveller(t.Front)
	e.traveller(t.Rear)
	e.int(t.LeadIndex)
	e.int(t.UncoupledFrom)
	e.int(t.IncorporatingTrainNo)
	e.int(len(t.IncorporatedTrainNos))
	for _, n := range t.IncorporatedTrainNos {
		e.int(n)
	}
	e.string(t.Owner)
	e.bool(t.Pathless)

	e.bool(t.AI != nil)
	if ai := t.AI; ai != nil {
		e.float64(ai.RemainingRoute)
		e.bool(ai.UnconditionalAttach)
		e.bool(ai.Suspended)
		e.bool(ai.Timetable)
		e.float64(ai.StartTime)
		e.float64(ai.CruiseSpeed)
	}

	e.int(len(t.Cars))
	for _, c := range t.Cars {
		e.uuid(c.UID)
		e.string(c.CarID)
		e.float64(c.Length)
		e.bool(c.Flipped)
		e.bool(c.Driveable)
		e.float64(c.Brake.PipePressure)
		e.bool(c.Brake.FrontHoseConnected)
		e.bool(c.Brake.RearHoseConnected)
		e.bool(c == piloted)
	}
}

// Restore reads a session written by Save into ctx, which must have an
// empty roster. Records are replayed in written order; signaling and
// manual control state are relinked once every train is loaded.
func Restore(r io.Reader, ctx *sim.Context) error {
	if ctx.Roster.Len() > 0 {
		return ErrNotEmpty
	}
	d := &decoder{r: r}
	ctx.Clock.Time = d.float64()
	ctx.Clock.TimeOfDay = d.float64()
	ctx.Season = sim.Season(d.int32())
	ctx.Weather = sim.Weather(d.int32())
	ctx.Timetable = d.bool()
	if d.err != nil {
		return fmt.Errorf("reading header: %w", d.err)
	}
	if err := ctx.Signals.Restore(r); err != nil {
		return fmt.Errorf("reading signaling state: %w", err)
	}

	var piloted *train.Car
	for {
		t, p, err := readRecord(d)
		if err != nil {
			return fmt.Errorf("reading train %d: %w", ctx.Roster.Len(), err)
		}
		if t == nil {
			break
		}
		if err := ctx.Roster.Add(t); err != nil {
			return fmt.Errorf("restoring %s: %w", t, err)
		}
		if t.Kind.IsAI() && t.Kind != train.KindAIIncorporated {
			ctx.AI.AddTrain(t)
		}
		if p != nil {
			piloted = p
		}
	}
	for {
		t, _, err := readRecord(d)
		if err != nil {
			return fmt.Errorf("reading pending start: %w", err)
		}
		if t == nil {
			break
		}
		ctx.Roster.AddStart(t)
	}

	if err := ctx.Signals.Relink(ctx.Roster.ByNumber); err != nil {
		return fmt.Errorf("relinking signaling: %w", err)
	}
	for _, t := range ctx.Roster.Trains() {
		relinkControl(ctx, t)
	}
	ctx.SetPilotedCar(piloted)
	ctx.AIRosterChanged = true
	if err := ctx.Roster.Validate(); err != nil {
		return fmt.Errorf("restored roster: %w", errors.Join(ErrCorrupt, err))
	}
	return nil
}

// readRecord returns nil at the terminator.
func readRecord(d *decoder) (*train.Train, *train.Car, error) {
	tag := d.int32()
	if d.err != nil {
		return nil, nil, truncated(d.err)
	}
	var kind train.Kind
	switch {
	case tag == tagEnd:
		return nil, nil, nil
	case tag == tagAutopilot:
		kind = train.Kind(d.int32())
		if !autopilot(kind) {
			return nil, nil, fmt.Errorf("autopilot record of kind %s: %w", kind, ErrCorrupt)
		}
	case tag >= 0 && tag <= int32(train.KindAIIncorporated):
		kind = train.Kind(tag)
		if autopilot(kind) {
			return nil, nil, fmt.Errorf("plain record of kind %s: %w", kind, ErrCorrupt)
		}
	default:
		return nil, nil, fmt.Errorf("tag %d: %w", tag, ErrUnknownTag)
	}
	t, piloted := readTrain(d, kind)
	if d.err != nil {
		return nil, nil, truncated(d.err)
	}
	return t, piloted, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return err
}

func readTrain(d *decoder, kind train.Kind) (*train.Train, *train.Car) {
	t := train.New(d.int(), d.string(), kind)
	t.ControlMode = train.ControlMode(d.int())
	t.Speed = d.float64()
	t.Front = d.traveller()
	t.Rear = d.traveller()
	lead := d.int()
	t.UncoupledFrom = d.int()
	t.IncorporatingTrainNo = d.int()
	if n := d.int(); n > 0 && d.err == nil {
		if n > maxString {
			d.err = fmt.Errorf("%d incorporated trains: %w", n, ErrCorrupt)
			return t, nil
		}
		t.IncorporatedTrainNos = make([]int, n)
		for i := range t.IncorporatedTrainNos {
			t.IncorporatedTrainNos[i] = d.int()
		}
	}
	t.Owner = d.string()
	t.Pathless = d.bool()

	if d.bool() {
		t.AI = &train.AIState{
			RemainingRoute:      d.float64(),
			UnconditionalAttach: d.bool(),
			Suspended:           d.bool(),
			Timetable:           d.bool(),
			StartTime:           d.float64(),
			CruiseSpeed:         d.float64(),
		}
	} else {
		t.AI = nil
	}

	var piloted *train.Car
	n := d.int()
	if d.err != nil {
		return t, nil
	}
	if n < 0 || n > maxString {
		d.err = fmt.Errorf("%d cars: %w", n, ErrCorrupt)
		return t, nil
	}
	for i := 0; i < n && d.err == nil; i++ {
		c := &train.Car{
			UID:       d.uuid(),
			CarID:     d.string(),
			Length:    d.float64(),
			Flipped:   d.bool(),
			Driveable: d.bool(),
			Brake: train.BrakeState{
				PipePressure:       d.float64(),
				FrontHoseConnected: d.bool(),
				RearHoseConnected:  d.bool(),
			},
		}
		if d.bool() {
			piloted = c
		}
		t.Attach(c)
	}
	t.RecalculateLength()
	t.LeadIndex = lead
	return t, piloted
}

// relinkControl re-reserves the track held by trains that run outside
// signal control, which the signaling state does not record.
func relinkControl(ctx *sim.Context, t *train.Train) {
	if t.ControlMode != train.ControlExplorer && t.ControlMode != train.ControlManual {
		return
	}
	for _, s := range ctx.Signals.ReserveTemporaryRoute(t, t.Rear.Node, t.Rear.Offset, t.Rear.Direction, t.Length) {
		ctx.Signals.SetOccupied(s, t)
	}
}
