package replication

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/openrails-go/fleet/internal/dispatcher"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/pkg/streaming"
)

var _ sim.Broadcaster = (*Client)(nil)

// Client is a replica's connection to the authority. It has a single
// write goroutine and reconnects with exponential backoff.
type Client struct {
	mu     sync.Mutex
	conn   *ws.Conn
	sendCh chan []byte
	ackCh  chan streaming.AckMessage
	done   chan struct{} // closed on shutdown
	closed bool

	wsURL  string
	secret string

	// Replayed after every reconnect so the hub re-registers the user.
	hello []byte

	dispatch Dispatcher
	logger   zerolog.Logger
	backoff  time.Duration
}

// Dial connects to the hub at rawURL as user and waits for the hello to be
// acknowledged. Inbound envelopes go to d.
func Dial(rawURL, secret, user string, d Dispatcher, logger zerolog.Logger) (*Client, error) {
	hello, err := encode(streaming.TypeHello, streaming.Hello{User: user})
	if err != nil {
		return nil, err
	}
	c := &Client{
		sendCh:   make(chan []byte, sendChSize),
		ackCh:    make(chan streaming.AckMessage, ackChSize),
		done:     make(chan struct{}),
		wsURL:    rawURL,
		secret:   secret,
		hello:    hello,
		dispatch: d,
		logger:   logger.With().Str("user", user).Logger(),
		backoff:  time.Second,
	}

	conn, err := c.dialOnce()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop()
	go c.readLoop()

	if err := c.sendAndWait(hello, streaming.TypeHello, ackTimeout); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *Client) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// writeLoop drains sendCh. Only one runs at a time; it returns on error or
// shutdown.
func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				continue
			}

			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn().Err(err).Msg("WebSocket SetWriteDeadline error")
				go c.reconnect()
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn().Err(err).Msg("WebSocket write error")
				go c.reconnect()
				return
			}
		}
	}
}

// inbound is either an ack or an envelope.
type inbound struct {
	Type    string          `json:"type"`
	For     string          `json:"for"`
	Payload json.RawMessage `json:"payload"`
}

// readLoop routes acks to ackCh and everything else to the dispatcher.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if ws.IsCloseError(err, ws.ClosePolicyViolation) {
				c.logger.Error().Err(err).Msg("Authority refused the connection")
				_ = c.Close()
				return
			}
			c.logger.Warn().Err(err).Msg("WebSocket read error")
			go c.reconnect()
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Debug().Str("raw", string(message)).Msg("Dropping malformed message")
			continue
		}

		if msg.Type == "ack" {
			select {
			case c.ackCh <- streaming.AckMessage{Type: msg.Type, For: msg.For}:
			default:
				c.logger.Debug().Str("for", msg.For).Msg("Ack channel full, dropping")
			}
			continue
		}

		if _, err := c.dispatch.Dispatch(dispatcher.Event{
			Type:      msg.Type,
			Payload:   msg.Payload,
			Timestamp: time.Now(),
		}); err != nil {
			c.logger.Warn().Err(err).Str("type", msg.Type).Msg("Envelope rejected")
		}
	}
}

// reconnect re-establishes the connection with exponential backoff,
// replays the hello and restarts the read/write loops.
func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info().Int("attempt", attempt).Dur("backoff", backoff).Msg("Reconnecting to authority")
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect dial failed")
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to set deadline for hello replay")
			_ = conn.Close()
			continue
		}
		if err := conn.WriteMessage(ws.TextMessage, c.hello); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to replay hello after reconnect")
			_ = conn.Close()
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info().Int("attempt", attempt).Msg("Reconnected to authority")
		go c.writeLoop()
		go c.readLoop()
		return
	}

	c.logger.Error().Int("maxAttempts", maxReconnect).Msg("Reconnect to authority failed after max attempts")
}

// send pushes data to the write loop. Non-blocking; drops if channel full.
func (c *Client) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.logger.Warn().Msg("WebSocket send channel full, dropping message")
	}
}

// sendAndWait sends data and blocks until the hub acknowledges it or the
// timeout expires.
func (c *Client) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// Switch tells the authority that the local user took over a train.
func (c *Client) Switch(msg streaming.Switch) {
	c.sendMessage(streaming.TypeSwitch, msg)
}

// RequestUncouple asks the authority to split a train. The split reaches
// this replica as an ordinary uncouple.
func (c *Client) RequestUncouple(msg streaming.UncoupleRequest) {
	c.sendMessage(streaming.TypeUncoupleRequest, msg)
}

// TrainState reports the locally driven train so the authority can check it
// for contact.
func (c *Client) TrainState(msg streaming.TrainState) {
	c.sendMessage(streaming.TypeTrainState, msg)
}

// Replicas never originate authoritative mutations.
func (c *Client) Couple(streaming.Couple)             {}
func (c *Client) Uncouple(streaming.Uncouple)         {}
func (c *Client) SessionState(streaming.SessionState) {}

func (c *Client) sendMessage(msgType string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("type", msgType).Msg("Encoding message failed")
		return
	}
	c.send(data)
}

// Close sends a close frame and shuts down all goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		)
		return conn.Close()
	}
	return nil
}
