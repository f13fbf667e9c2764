package logging

import (
	"context"
	"fmt"
	"log/slog"
)

// Clock reports simulation progress to the log handler. Both methods are
// called from any goroutine that logs.
type Clock interface {
	Tick() uint64
	SimTime() float64
}

// clockHandler stamps every record with a "sim" group holding the tick and
// the session clock as hh:mm:ss. Records logged before the first tick carry
// no group.
type clockHandler struct {
	next  slog.Handler
	clock Clock
}

func withClock(next slog.Handler, clock Clock) slog.Handler {
	if clock == nil {
		return next
	}
	return clockHandler{next: next, clock: clock}
}

func (h clockHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h clockHandler) Handle(ctx context.Context, r slog.Record) error {
	if tick := h.clock.Tick(); tick > 0 {
		r.AddAttrs(slog.Group("sim",
			slog.Uint64("tick", tick),
			slog.String("clock", clockString(h.clock.SimTime())),
		))
	}
	return h.next.Handle(ctx, r)
}

func (h clockHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return clockHandler{next: h.next.WithAttrs(attrs), clock: h.clock}
}

func (h clockHandler) WithGroup(name string) slog.Handler {
	return clockHandler{next: h.next.WithGroup(name), clock: h.clock}
}

// clockString formats seconds since session start. Sessions longer than a
// day keep counting hours.
func clockString(seconds float64) string {
	s := int64(seconds)
	if s < 0 {
		s = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}
