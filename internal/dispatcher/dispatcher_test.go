package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) { l.add("DEBUG", msg, keysAndValues) }
func (l *testLogger) Info(msg string, keysAndValues ...any)  { l.add("INFO", msg, keysAndValues) }
func (l *testLogger) Error(msg string, keysAndValues ...any) { l.add("ERROR", msg, keysAndValues) }

func (l *testLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, kv))
}

func (l *testLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	t.Helper()
	logger := &testLogger{}
	d, err := New(logger)
	require.NoError(t, err)
	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register("couple", func(e Event) (any, error) {
		got = e
		return "result", nil
	})

	payload := json.RawMessage(`{"survivor":1}`)
	result, err := d.Dispatch(Event{Type: "couple", Payload: payload, Peer: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.Equal(t, "alice", got.Peer)
	assert.JSONEq(t, `{"survivor":1}`, string(got.Payload))
}

func TestDispatcher_UnknownType(t *testing.T) {
	d, _ := newTestDispatcher(t)
	_, err := d.Dispatch(Event{Type: "teleport"})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	d.Register("session_state", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(100))

	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Event{Type: "session_state"})
		require.NoError(t, err)
		assert.Equal(t, "queued", result)
	}
	wg.Wait()
	assert.Equal(t, int32(3), processed.Load())
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{})
	block := make(chan struct{})
	defer close(block)
	var once sync.Once
	d.Register("full", func(e Event) (any, error) {
		once.Do(func() { close(started) })
		<-block
		return nil, nil
	}, Buffered(2))

	_, err := d.Dispatch(Event{Type: "full"})
	require.NoError(t, err)
	<-started

	_, err = d.Dispatch(Event{Type: "full"})
	require.NoError(t, err)
	_, err = d.Dispatch(Event{Type: "full"})
	require.NoError(t, err)

	_, err = d.Dispatch(Event{Type: "full"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestDispatcher_CloseDrainsQueuedEvents(t *testing.T) {
	d, _ := newTestDispatcher(t)

	release := make(chan struct{})
	var handled atomic.Int32
	d.Register("train_state", func(e Event) (any, error) {
		<-release
		handled.Add(1)
		return nil, nil
	}, Buffered(4))

	for range 3 {
		_, err := d.Dispatch(Event{Type: "train_state"})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded, "a handler is still blocked")

	_, err := d.Dispatch(Event{Type: "train_state"})
	assert.ErrorIs(t, err, ErrClosed)

	close(release)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(3), handled.Load())
}

func TestDispatcher_SyncRoutesSurviveClose(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register("switch", func(e Event) (any, error) { return "ok", nil })
	require.NoError(t, d.Close(context.Background()))

	result, err := d.Dispatch(Event{Type: "switch"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestDispatcher_StampsReceiptTime(t *testing.T) {
	d, _ := newTestDispatcher(t)
	var got Event
	d.Register("couple", func(e Event) (any, error) {
		got = e
		return nil, nil
	})

	before := time.Now()
	_, err := d.Dispatch(Event{Type: "couple"})
	require.NoError(t, err)
	assert.False(t, got.Timestamp.Before(before))

	sent := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	_, err = d.Dispatch(Event{Type: "couple", Timestamp: sent})
	require.NoError(t, err)
	assert.Equal(t, sent, got.Timestamp)
}

func TestDispatcher_ReRegisterReplacesQueue(t *testing.T) {
	d, _ := newTestDispatcher(t)
	first := make(chan string, 1)
	second := make(chan string, 1)
	d.Register("session_state", func(e Event) (any, error) { first <- e.Peer; return nil, nil }, Buffered(1))
	d.Register("session_state", func(e Event) (any, error) { second <- e.Peer; return nil, nil }, Buffered(1))

	_, err := d.Dispatch(Event{Type: "session_state", Peer: "hub"})
	require.NoError(t, err)
	assert.Equal(t, "hub", <-second)
	require.NoError(t, d.Close(context.Background()))
	assert.Empty(t, first)
}

func TestDispatcher_BufferedErrorsAreLogged(t *testing.T) {
	d, logger := newTestDispatcher(t)

	done := make(chan struct{})
	d.Register("uncouple", func(e Event) (any, error) {
		defer close(done)
		return nil, errors.New("unknown train")
	}, Buffered(1))

	_, err := d.Dispatch(Event{Type: "uncouple", Peer: "bob"})
	require.NoError(t, err)
	<-done

	assert.Eventually(t, func() bool {
		for _, m := range logger.snapshot() {
			if strings.HasPrefix(m, "ERROR: buffered event failed") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantLevel string
	}{
		{"success", nil, "DEBUG: event complete"},
		{"failure", errors.New("boom"), "ERROR: event failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, logger := newTestDispatcher(t)
			d.Register("switch", func(e Event) (any, error) { return nil, tt.err }, Logged())

			_, err := d.Dispatch(Event{Type: "switch", Payload: json.RawMessage(`{}`)})
			assert.Equal(t, tt.err, err)

			msgs := logger.snapshot()
			require.Len(t, msgs, 2)
			assert.True(t, strings.HasPrefix(msgs[0], "DEBUG: handling event"))
			assert.True(t, strings.HasPrefix(msgs[1], tt.wantLevel), msgs[1])
		})
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register("couple", func(e Event) (any, error) { return nil, nil })

	assert.True(t, d.HasHandler("couple"))
	assert.False(t, d.HasHandler("uncouple"))
}
