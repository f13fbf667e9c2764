// Package replication carries multiplayer envelopes over WebSocket. The
// authority runs a Hub; replicas connect with a Client.
package replication

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/openrails-go/fleet/internal/dispatcher"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/pkg/streaming"
)

const (
	sendChSize   = 1024
	ackChSize    = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
	helloTimeout = 10 * time.Second
)

// ErrDuplicateUser is returned when a second connection claims a user name.
var ErrDuplicateUser = errors.New("user already connected")

// Dispatcher receives inbound envelopes.
type Dispatcher interface {
	Dispatch(dispatcher.Event) (any, error)
}

var _ sim.Broadcaster = (*Hub)(nil)

// Hub accepts replica connections and fans authoritative messages out to
// them.
type Hub struct {
	mu       sync.Mutex
	peers    map[string]*peer
	dispatch Dispatcher
	secret   string
	upgrader ws.Upgrader
	logger   zerolog.Logger
}

// NewHub creates a hub. Connections must present secret as a query
// parameter unless it is empty.
func NewHub(d Dispatcher, secret string, logger zerolog.Logger) *Hub {
	return &Hub{
		peers:    make(map[string]*peer),
		dispatch: d,
		secret:   secret,
		upgrader: ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger,
	}
}

type peer struct {
	user string
	conn *ws.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

func (p *peer) writeLoop(logger zerolog.Logger) {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.send:
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Warn().Err(err).Str("user", p.user).Msg("SetWriteDeadline failed")
				p.close()
				return
			}
			if err := p.conn.WriteMessage(ws.TextMessage, data); err != nil {
				logger.Warn().Err(err).Str("user", p.user).Msg("Write to replica failed")
				p.close()
				return
			}
		}
	}
}

// ServeHTTP upgrades a replica connection and serves it until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && r.URL.Query().Get("secret") != h.secret {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	p, err := h.handshake(conn)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Replica handshake failed")
		_ = conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	defer h.remove(p)

	go p.writeLoop(h.logger)
	h.logger.Info().Str("user", p.user).Str("remote", r.RemoteAddr).Msg("Replica connected")
	h.readLoop(p)
}

// handshake reads the hello and registers the peer.
func (h *Hub) handshake(conn *ws.Conn) (*peer, error) {
	if err := conn.SetReadDeadline(time.Now().Add(helloTimeout)); err != nil {
		return nil, err
	}
	var env streaming.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return nil, err
	}
	if env.Type != streaming.TypeHello {
		return nil, errors.New("expected hello, got " + env.Type)
	}
	var hello streaming.Hello
	if err := streaming.Unwrap(env, &hello); err != nil {
		return nil, err
	}
	if hello.User == "" {
		return nil, errors.New("hello without user")
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	p := &peer{
		user: hello.User,
		conn: conn,
		send: make(chan []byte, sendChSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p.user]; ok {
		return nil, ErrDuplicateUser
	}
	h.peers[p.user] = p

	ack, _ := json.Marshal(streaming.AckMessage{Type: "ack", For: streaming.TypeHello})
	p.send <- ack
	return p, nil
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	if h.peers[p.user] == p {
		delete(h.peers, p.user)
	}
	h.mu.Unlock()
	p.close()
	h.logger.Info().Str("user", p.user).Msg("Replica disconnected")
}

func (h *Hub) readLoop(p *peer) {
	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
			default:
				if !ws.IsCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
					h.logger.Warn().Err(err).Str("user", p.user).Msg("Read from replica failed")
				}
			}
			return
		}
		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			h.logger.Debug().Str("user", p.user).Msg("Dropping malformed envelope")
			continue
		}
		_, err = h.dispatch.Dispatch(dispatcher.Event{
			Type:      env.Type,
			Payload:   env.Payload,
			Peer:      p.user,
			Timestamp: time.Now(),
		})
		if err != nil {
			h.logger.Warn().Err(err).Str("user", p.user).Str("type", env.Type).Msg("Envelope rejected")
			continue
		}
		// Other replicas learn about a takeover through the authority.
		if env.Type == streaming.TypeSwitch {
			h.fanOut(message, p)
		}
	}
}

// Peers returns the connected user names in order.
func (h *Hub) Peers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	users := make([]string, 0, len(h.peers))
	for u := range h.peers {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Close disconnects every replica.
func (h *Hub) Close() error {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseGoingAway, "authority shutting down"),
			time.Now().Add(writeWait))
		p.close()
	}
	return nil
}

func (h *Hub) Couple(msg streaming.Couple)             { h.broadcast(streaming.TypeCouple, msg) }
func (h *Hub) Uncouple(msg streaming.Uncouple)         { h.broadcast(streaming.TypeUncouple, msg) }
func (h *Hub) Switch(msg streaming.Switch)             { h.broadcast(streaming.TypeSwitch, msg) }
func (h *Hub) SessionState(msg streaming.SessionState) { h.broadcast(streaming.TypeSessionState, msg) }

// The authority decides uncouples itself and has no remote train to report.
func (h *Hub) RequestUncouple(streaming.UncoupleRequest) {}
func (h *Hub) TrainState(streaming.TrainState)           {}

func (h *Hub) broadcast(msgType string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("Encoding broadcast failed")
		return
	}
	h.fanOut(data, nil)
}

// fanOut queues data for every peer except skip. Slow peers drop messages.
func (h *Hub) fanOut(data []byte, skip *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.peers {
		if p == skip {
			continue
		}
		select {
		case p.send <- data:
		default:
			h.logger.Warn().Str("user", p.user).Msg("Replica send channel full, dropping message")
		}
	}
}

func encode(msgType string, payload any) ([]byte, error) {
	env, err := streaming.Wrap(msgType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
