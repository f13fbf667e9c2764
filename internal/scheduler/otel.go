package scheduler

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/openrails-go/fleet/internal/scheduler"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type metrics struct {
	ticks     metric.Int64Counter
	held      metric.Int64Counter
	duration  metric.Float64Histogram
	moving    metric.Int64Gauge
	couplings metric.Int64Counter
	contained metric.Int64Counter
	commands  metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	m := meter()
	var (
		out metrics
		err error
	)
	if out.ticks, err = m.Int64Counter("scheduler.ticks",
		metric.WithDescription("Total scheduler ticks")); err != nil {
		return nil, fmt.Errorf("creating tick counter: %w", err)
	}
	if out.held, err = m.Int64Counter("scheduler.ticks.held",
		metric.WithDescription("Ticks held while a train switch loads assets")); err != nil {
		return nil, fmt.Errorf("creating held counter: %w", err)
	}
	if out.duration, err = m.Float64Histogram("scheduler.tick.duration",
		metric.WithDescription("Wall time spent in one tick"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	if out.moving, err = m.Int64Gauge("scheduler.trains.moving",
		metric.WithDescription("Trains in the moving set")); err != nil {
		return nil, fmt.Errorf("creating moving gauge: %w", err)
	}
	if out.couplings, err = m.Int64Counter("scheduler.couplings",
		metric.WithDescription("Couplings detected")); err != nil {
		return nil, fmt.Errorf("creating coupling counter: %w", err)
	}
	if out.contained, err = m.Int64Counter("scheduler.failures.contained",
		metric.WithDescription("Per-train update failures contained in multiplayer")); err != nil {
		return nil, fmt.Errorf("creating failure counter: %w", err)
	}
	if out.commands, err = m.Int64Counter("scheduler.commands",
		metric.WithDescription("Queued commands executed")); err != nil {
		return nil, fmt.Errorf("creating command counter: %w", err)
	}
	return &out, nil
}
