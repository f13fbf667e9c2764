package worker

import (
	"fmt"

	"github.com/openrails-go/fleet/internal/coupling"
	"github.com/openrails-go/fleet/internal/dispatcher"
	"github.com/openrails-go/fleet/internal/handover"
	"github.com/openrails-go/fleet/internal/scheduler"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/pkg/streaming"
)

// RegisterHandlers registers the handlers a node in mode accepts. The
// authority takes switches, uncouple requests and train reports from
// replicas; replicas take every authoritative mutation.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher, mode sim.Mode) {
	// Mutations stay synchronous so they reach the command queue in the
	// order they were received.
	d.Register(streaming.TypeSwitch, m.handleSwitch, dispatcher.Logged())
	if mode.Authority() {
		d.Register(streaming.TypeUncoupleRequest, m.handleUncoupleRequest, dispatcher.Logged())
		// A dropped report is superseded by the replica's next one.
		d.Register(streaming.TypeTrainState, m.handleTrainState, dispatcher.Buffered(64))
		return
	}
	d.Register(streaming.TypeCouple, m.handleCouple, dispatcher.Logged())
	d.Register(streaming.TypeUncouple, m.handleUncouple, dispatcher.Logged())

	// A dropped state is superseded by the next tick's.
	d.Register(streaming.TypeSessionState, m.handleSessionState, dispatcher.Buffered(64))
}

func decode[T any](e dispatcher.Event) (T, error) {
	var v T
	err := streaming.Unwrap(streaming.Envelope{Type: e.Type, Payload: e.Payload}, &v)
	return v, err
}

func (m *Manager) handleCouple(e dispatcher.Event) (any, error) {
	msg, err := decode[streaming.Couple](e)
	if err != nil {
		return nil, err
	}
	m.sched.Submit(scheduler.Command{
		Name: streaming.TypeCouple,
		Run: func(ctx *sim.Context) error {
			return coupling.ApplyCouple(ctx, msg)
		},
	})
	return nil, nil
}

func (m *Manager) handleUncouple(e dispatcher.Event) (any, error) {
	msg, err := decode[streaming.Uncouple](e)
	if err != nil {
		return nil, err
	}
	m.sched.Submit(scheduler.Command{
		Name: streaming.TypeUncouple,
		Run: func(ctx *sim.Context) error {
			_, err := coupling.ApplyUncouple(ctx, msg)
			return err
		},
	})
	return nil, nil
}

func (m *Manager) handleSwitch(e dispatcher.Event) (any, error) {
	msg, err := decode[streaming.Switch](e)
	if err != nil {
		return nil, err
	}
	if err := checkPeer(e, msg.User); err != nil {
		return nil, err
	}
	m.sched.Submit(scheduler.Command{
		Name: streaming.TypeSwitch,
		Run: func(ctx *sim.Context) error {
			return handover.ApplyRemoteSwitch(ctx, msg)
		},
	})
	return nil, nil
}

func (m *Manager) handleSessionState(e dispatcher.Event) (any, error) {
	msg, err := decode[streaming.SessionState](e)
	if err != nil {
		return nil, err
	}
	m.sched.Submit(scheduler.Command{
		Name: streaming.TypeSessionState,
		Key:  streaming.TypeSessionState,
		Run: func(ctx *sim.Context) error {
			if n := ApplySessionState(ctx, msg); n > 0 {
				m.logger.Debug("Session state names unknown trains", "tick", msg.Tick, "unknown", n)
			}
			return nil
		},
	})
	return nil, nil
}

func (m *Manager) handleUncoupleRequest(e dispatcher.Event) (any, error) {
	msg, err := decode[streaming.UncoupleRequest](e)
	if err != nil {
		return nil, err
	}
	if err := checkPeer(e, msg.User); err != nil {
		return nil, err
	}
	m.sched.Submit(scheduler.Command{
		Name: streaming.TypeUncoupleRequest,
		Run: func(ctx *sim.Context) error {
			_, err := coupling.ApplyUncoupleRequest(ctx, msg)
			return err
		},
	})
	return nil, nil
}

func (m *Manager) handleTrainState(e dispatcher.Event) (any, error) {
	msg, err := decode[streaming.TrainState](e)
	if err != nil {
		return nil, err
	}
	if err := checkPeer(e, msg.Owner); err != nil {
		return nil, err
	}
	m.sched.Submit(scheduler.Command{
		Name: streaming.TypeTrainState,
		Key:  streaming.TypeTrainState + ":" + msg.Owner,
		Run: func(ctx *sim.Context) error {
			return ApplyRemoteTrainState(ctx, msg)
		},
	})
	return nil, nil
}

// checkPeer rejects a message a peer sends on behalf of another user.
// Events without a peer come from the local node.
func checkPeer(e dispatcher.Event, user string) error {
	if e.Peer != "" && user != e.Peer {
		return fmt.Errorf("%s for %q sent by %q: %w", e.Type, user, e.Peer, ErrForeignUser)
	}
	return nil
}
