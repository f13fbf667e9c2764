package snapshot

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/r3labs/sse/v2"

	"github.com/openrails-go/fleet/internal/sim"
)

// Stream is the SSE stream frames are published on.
const Stream = "snapshot"

// Publisher keeps the latest frame and streams frames to SSE subscribers.
type Publisher struct {
	current atomic.Pointer[Frame]
	frames  chan *Frame
	sse     *sse.Server
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewPublisher starts the forwarding goroutine. Call Close to stop it.
func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	s := sse.New()
	s.AutoReplay = false
	s.CreateStream(Stream)

	p := &Publisher{
		frames: make(chan *Frame, 1),
		sse:    s,
		logger: logger,
		done:   make(chan struct{}),
	}
	go p.forward()
	return p
}

// Observe captures the fleet. It runs on the update goroutine and never
// blocks: a frame the forwarder has not picked up yet is replaced.
func (p *Publisher) Observe(ctx *sim.Context, rosterVersion uint64) {
	f := Build(ctx, rosterVersion)
	p.current.Store(f)
	for {
		select {
		case p.frames <- f:
			return
		default:
		}
		select {
		case <-p.frames:
		default:
		}
	}
}

// Current returns the latest frame, nil before the first tick.
func (p *Publisher) Current() *Frame {
	return p.current.Load()
}

func (p *Publisher) forward() {
	for {
		select {
		case <-p.done:
			return
		case f := <-p.frames:
			data, err := json.Marshal(f)
			if err != nil {
				p.logger.Error("Marshalling frame failed", "error", err)
				continue
			}
			p.sse.TryPublish(Stream, &sse.Event{Data: data})
		}
	}
}

// ServeHTTP subscribes the request to the frame stream.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stream") == "" {
		r = r.Clone(r.Context())
		q := r.URL.Query()
		q.Set("stream", Stream)
		r.URL.RawQuery = q.Encode()
	}
	p.sse.ServeHTTP(w, r)
}

// Close stops forwarding and disconnects subscribers.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.sse.Close()
	})
}
