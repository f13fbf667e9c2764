package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/openrails-go/fleet/internal/dispatcher"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type instruments struct {
	handled metric.Int64Counter
	dropped metric.Int64Counter
	wait    metric.Float64Histogram
	depth   metric.Int64ObservableGauge
}

// newInstruments creates the dispatcher's instruments on m. depths is polled
// for the per-type queue gauge.
func newInstruments(m metric.Meter, depths func() map[string]int) (*instruments, error) {
	var (
		in  instruments
		err error
	)
	if in.handled, err = m.Int64Counter("dispatcher.events.handled",
		metric.WithDescription("Replicated events handled, by type and outcome")); err != nil {
		return nil, fmt.Errorf("creating handled counter: %w", err)
	}
	if in.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Replicated events dropped on a full queue")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if in.wait, err = m.Float64Histogram("dispatcher.event.wait",
		metric.WithDescription("Time from receipt to handling"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("creating wait histogram: %w", err)
	}
	if in.depth, err = m.Int64ObservableGauge("dispatcher.queue.depth",
		metric.WithDescription("Events waiting in a buffered route")); err != nil {
		return nil, fmt.Errorf("creating queue gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for typ, n := range depths() {
			o.ObserveInt64(in.depth, int64(n), metric.WithAttributes(typeAttr(typ)))
		}
		return nil
	}, in.depth)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}
	return &in, nil
}

func typeAttr(typ string) attribute.KeyValue {
	return attribute.String("type", typ)
}

func outcome(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("outcome", "error")
	}
	return attribute.String("outcome", "ok")
}
