package coupling

import (
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/train"
	"github.com/openrails-go/fleet/pkg/streaming"
)

// WireTraveller converts a traveller to its replicated form.
func WireTraveller(t track.Traveller) streaming.TravellerState {
	return streaming.TravellerState{Node: t.Node, Offset: t.Offset, Direction: int8(t.Direction)}
}

// FromWire converts a replicated traveller back.
func FromWire(s streaming.TravellerState) track.Traveller {
	dir := track.Direction(s.Direction)
	if dir != track.Backward {
		dir = track.Forward
	}
	return track.Traveller{Node: s.Node, Offset: s.Offset, Direction: dir}
}

// WireTrain is the replicated position report for t.
func WireTrain(t *train.Train) streaming.TrainState {
	return streaming.TrainState{
		Number: t.Number,
		Name:   t.Name,
		Kind:   int(t.Kind),
		Speed:  t.Speed,
		Front:  WireTraveller(t.Front),
		Owner:  t.Owner,
	}
}

func carRefs(cars []*train.Car) []streaming.CarRef {
	refs := make([]streaming.CarRef, len(cars))
	for i, c := range cars {
		refs[i] = streaming.CarRef{UID: c.UID.String(), CarID: c.CarID, Flipped: c.Flipped}
	}
	return refs
}

func broadcasting(m sim.Mode) bool {
	return m.Multiplayer() && m.Authority()
}
