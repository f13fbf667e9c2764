package train

import "math"

const (
	// BrakeSettleTime is how long pressure is propagated after a topology change.
	BrakeSettleTime = 5.0

	brakeStep = 0.1
	// brakeFlowRate is the pressure-equalising rate between coupled cars, per second.
	brakeFlowRate = 2.0
)

// connected reports whether the brake pipe runs from car i to car i+1.
func (t *Train) connected(i int) bool {
	return t.Cars[i].Brake.RearHoseConnected && t.Cars[i+1].Brake.FrontHoseConnected
}

// PropagateBrakePressure lets brake-pipe pressure flow across connected hoses
// for the given number of simulated seconds. A driveable lead locomotive
// holds its own pressure and feeds the rest of the pipe.
func (t *Train) PropagateBrakePressure(seconds float64) {
	n := len(t.Cars)
	if n < 2 {
		return
	}
	source := -1
	if lead := t.LeadLocomotive(); lead != nil && lead.Driveable {
		source = t.LeadIndex
	}
	next := make([]float64, n)
	steps := int(math.Ceil(seconds / brakeStep))
	for s := 0; s < steps; s++ {
		for i, c := range t.Cars {
			p := c.Brake.PipePressure
			flow := 0.0
			if i > 0 && t.connected(i-1) {
				flow += t.Cars[i-1].Brake.PipePressure - p
			}
			if i < n-1 && t.connected(i) {
				flow += t.Cars[i+1].Brake.PipePressure - p
			}
			next[i] = p + flow*brakeFlowRate*brakeStep
		}
		for i, c := range t.Cars {
			if i == source {
				continue
			}
			c.Brake.PipePressure = next[i]
		}
	}
}
