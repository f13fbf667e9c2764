// Package dispatcher routes replicated envelopes to registered handlers,
// either inline or through a bounded per-type queue.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Event is an inbound envelope together with the peer it came from.
type Event struct {
	Type      string
	Payload   json.RawMessage
	Peer      string
	Timestamp time.Time
}

var (
	// ErrUnknownType is returned for envelopes nobody registered for.
	ErrUnknownType = errors.New("unknown envelope type")
	// ErrQueueFull is returned when a buffered route drops an event.
	ErrQueueFull = errors.New("queue full")
	// ErrClosed is returned for buffered events after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures a route.
type Option func(*route)

// Buffered hands events to a goroutine through a queue of size n. Dispatch
// never waits: a full queue drops the event with ErrQueueFull, which suits
// state that the next message supersedes.
func Buffered(n int) Option {
	return func(r *route) {
		r.queue = make(chan Event, n)
	}
}

// Logged logs every event at debug level and failures at error level.
func Logged() Option {
	return func(r *route) {
		r.logged = true
	}
}

type route struct {
	typ    string
	handle HandlerFunc
	queue  chan Event
	logged bool
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	logger Logger
	inst   *instruments

	mu     sync.RWMutex
	routes map[string]*route
	closed bool
	wg     sync.WaitGroup
}

// New creates a dispatcher. Metrics go to the global OTel meter, which is a
// no-op until a provider is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		logger: logger,
		routes: make(map[string]*route),
	}
	inst, err := newInstruments(meter(), d.queueDepths)
	if err != nil {
		return nil, err
	}
	d.inst = inst
	return d, nil
}

// Register routes events of type typ to h, replacing any earlier route.
func (d *Dispatcher) Register(typ string, h HandlerFunc, opts ...Option) {
	r := &route{typ: typ, handle: h}
	for _, opt := range opts {
		opt(r)
	}
	d.mu.Lock()
	if old, ok := d.routes[typ]; ok && old.queue != nil && !d.closed {
		close(old.queue)
	}
	d.routes[typ] = r
	d.mu.Unlock()
	if r.queue != nil {
		d.wg.Add(1)
		go d.consume(r)
	}
}

// HasHandler reports whether a route exists for typ.
func (d *Dispatcher) HasHandler(typ string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.routes[typ]
	return ok
}

// Dispatch runs e through its route. Buffered routes return "queued".
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	d.mu.RLock()
	r, ok := d.routes[e.Type]
	if !ok {
		d.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, e.Type)
	}
	if r.queue == nil {
		d.mu.RUnlock()
		return d.run(r, e)
	}
	defer d.mu.RUnlock()
	if d.closed {
		return nil, fmt.Errorf("%w: %s", ErrClosed, e.Type)
	}
	select {
	case r.queue <- e:
		return "queued", nil
	default:
		d.inst.dropped.Add(context.Background(), 1, metric.WithAttributes(typeAttr(e.Type)))
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, e.Type)
	}
}

// Close stops accepting buffered events and waits for the queued ones to be
// handled or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, r := range d.routes {
			if r.queue != nil {
				close(r.queue)
			}
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) consume(r *route) {
	defer d.wg.Done()
	for e := range r.queue {
		if _, err := d.run(r, e); err != nil && !r.logged {
			d.logger.Error("buffered event failed", "type", r.typ, "peer", e.Peer, "error", err)
		}
	}
}

func (d *Dispatcher) run(r *route, e Event) (any, error) {
	bg := context.Background()
	d.inst.wait.Record(bg, float64(time.Since(e.Timestamp).Microseconds())/1000,
		metric.WithAttributes(typeAttr(r.typ)))

	start := time.Now()
	if r.logged {
		d.logger.Debug("handling event", "type", r.typ, "peer", e.Peer, "bytes", len(e.Payload))
	}
	result, err := r.handle(e)
	d.inst.handled.Add(bg, 1, metric.WithAttributes(typeAttr(r.typ), outcome(err)))
	if r.logged {
		if err != nil {
			d.logger.Error("event failed", "type", r.typ, "peer", e.Peer, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "type", r.typ, "duration", time.Since(start))
		}
	}
	return result, err
}

func (d *Dispatcher) queueDepths() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	depths := make(map[string]int)
	for typ, r := range d.routes {
		if r.queue != nil {
			depths[typ] = len(r.queue)
		}
	}
	return depths
}
