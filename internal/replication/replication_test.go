package replication

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrails-go/fleet/internal/dispatcher"
	"github.com/openrails-go/fleet/pkg/streaming"
)

type sink struct {
	events chan dispatcher.Event
}

func newSink() *sink {
	return &sink{events: make(chan dispatcher.Event, 16)}
}

func (s *sink) Dispatch(e dispatcher.Event) (any, error) {
	s.events <- e
	return nil, nil
}

func (s *sink) next(t *testing.T) dispatcher.Event {
	t.Helper()
	select {
	case e := <-s.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return dispatcher.Event{}
	}
}

func (s *sink) quiet(t *testing.T) {
	t.Helper()
	select {
	case e := <-s.events:
		t.Fatalf("unexpected %s event", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func startHub(t *testing.T, secret string) (*Hub, *sink, string) {
	t.Helper()
	events := newSink()
	hub := NewHub(events, secret, zerolog.Nop())
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
	})
	return hub, events, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, secret, user string) (*Client, *sink) {
	t.Helper()
	events := newSink()
	c, err := Dial(url, secret, user, events, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, events
}

func TestHub_BroadcastReachesReplica(t *testing.T) {
	hub, _, url := startHub(t, "s3cret")
	_, replica := dial(t, url, "s3cret", "alice")
	assert.Equal(t, []string{"alice"}, hub.Peers())

	hub.Couple(streaming.Couple{Survivor: 3, Absorbed: 5, Speed: 1.5})

	e := replica.next(t)
	assert.Equal(t, streaming.TypeCouple, e.Type)
	assert.Empty(t, e.Peer)
	var got streaming.Couple
	require.NoError(t, streaming.Unwrap(streaming.Envelope{Type: e.Type, Payload: e.Payload}, &got))
	assert.Equal(t, 3, got.Survivor)
	assert.Equal(t, 5, got.Absorbed)
	assert.InDelta(t, 1.5, got.Speed, 1e-9)
}

func TestClient_SwitchReachesAuthorityAndOtherReplicas(t *testing.T) {
	_, authority, url := startHub(t, "")
	alice, aliceEvents := dial(t, url, "", "alice")
	_, bobEvents := dial(t, url, "", "bob")

	alice.Switch(streaming.Switch{User: "alice", Previous: 0, Target: 4, CarID: "freight - 1"})

	e := authority.next(t)
	assert.Equal(t, streaming.TypeSwitch, e.Type)
	assert.Equal(t, "alice", e.Peer)

	relayed := bobEvents.next(t)
	assert.Equal(t, streaming.TypeSwitch, relayed.Type)
	assert.JSONEq(t, string(e.Payload), string(relayed.Payload))

	aliceEvents.quiet(t)
}

func TestClient_NeverSendsAuthoritativeMutations(t *testing.T) {
	_, authority, url := startHub(t, "")
	c, _ := dial(t, url, "", "alice")

	c.Couple(streaming.Couple{Survivor: 1})
	c.Uncouple(streaming.Uncouple{Original: 1})
	c.SessionState(streaming.SessionState{Tick: 1})
	authority.quiet(t)
}

func TestClient_RequestsReachOnlyTheAuthority(t *testing.T) {
	_, authority, url := startHub(t, "")
	alice, _ := dial(t, url, "", "alice")
	_, bobEvents := dial(t, url, "", "bob")

	alice.RequestUncouple(streaming.UncoupleRequest{User: "alice", Train: 3, Name: "local", CarID: "local - 1", KeepFront: true})
	e := authority.next(t)
	assert.Equal(t, streaming.TypeUncoupleRequest, e.Type)
	assert.Equal(t, "alice", e.Peer)
	var req streaming.UncoupleRequest
	require.NoError(t, streaming.Unwrap(streaming.Envelope{Type: e.Type, Payload: e.Payload}, &req))
	assert.Equal(t, "local - 1", req.CarID)
	assert.True(t, req.KeepFront)

	alice.TrainState(streaming.TrainState{Number: 3, Name: "local", Speed: 4})
	e = authority.next(t)
	assert.Equal(t, streaming.TypeTrainState, e.Type)
	assert.Equal(t, "alice", e.Peer)

	bobEvents.quiet(t)
}

func TestHub_DropsReplicaOnlyMessages(t *testing.T) {
	hub, _, url := startHub(t, "")
	_, replica := dial(t, url, "", "alice")

	hub.RequestUncouple(streaming.UncoupleRequest{Train: 1})
	hub.TrainState(streaming.TrainState{Number: 1})
	replica.quiet(t)
}

func TestHub_RejectsWrongSecret(t *testing.T) {
	_, _, url := startHub(t, "s3cret")
	_, err := Dial(url, "guess", "alice", newSink(), zerolog.Nop())
	assert.Error(t, err)
}

func TestHub_RejectsDuplicateUser(t *testing.T) {
	hub, _, url := startHub(t, "")
	dial(t, url, "", "alice")

	_, err := Dial(url, "", "alice", newSink(), zerolog.Nop())
	assert.Error(t, err)
	assert.Equal(t, []string{"alice"}, hub.Peers())
}

func TestHub_ForgetsClosedReplica(t *testing.T) {
	hub, _, url := startHub(t, "")
	c, _ := dial(t, url, "", "alice")
	require.NoError(t, c.Close())

	assert.Eventually(t, func() bool { return len(hub.Peers()) == 0 }, 2*time.Second, 10*time.Millisecond)
}
