package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	tick uint64
	time float64
}

func (c *fakeClock) Tick() uint64     { return c.tick }
func (c *fakeClock) SimTime() float64 { return c.time }

func TestClockHandler_StampsRecords(t *testing.T) {
	var buf bytes.Buffer
	clock := &fakeClock{}
	logger := slog.New(withClock(slog.NewTextHandler(&buf, nil), clock)).With("component", "scheduler")

	logger.Info("Loading")
	assert.NotContains(t, buf.String(), "sim.", "nothing before the first tick")

	buf.Reset()
	clock.tick, clock.time = 5, 3725.9
	logger.Info("Coupled")
	assert.Contains(t, buf.String(), "msg=Coupled component=scheduler sim.tick=5 sim.clock=01:02:05")

	buf.Reset()
	clock.tick, clock.time = 6, 90000
	logger.WithGroup("train").Info("Uncoupled", "name", "freight")
	out := buf.String()
	assert.Contains(t, out, "train.name=freight")
	assert.Contains(t, out, "train.sim.tick=6")
	assert.Contains(t, out, "train.sim.clock=25:00:00")
}

func TestWithClock_NilClock(t *testing.T) {
	inner := slog.NewTextHandler(&bytes.Buffer{}, nil)
	assert.Same(t, inner, withClock(inner, nil))
}
