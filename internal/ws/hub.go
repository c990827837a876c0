package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"circle_go/internal/conversation"
	"circle_go/internal/membership"
)

const (
	// writeWait bounds a single frame write to a peer.
	writeWait = 10 * time.Second
	// sendBuffer is the number of frames queued per connection before the
	// peer is treated as gone.
	sendBuffer = 128
)

var (
	ErrClientClosed   = errors.New("ws: client closed")
	ErrSendBufferFull = errors.New("ws: send buffer full")
)

// Conn is the part of *websocket.Conn the hub writes through.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Client owns the only writer of a registered conn. WriteJSON queues and
// never waits on the network; a slow peer that lets the queue fill up is
// disconnected.
type Client struct {
	conn Conn
	log  zerolog.Logger
	send chan any
	done chan struct{}
	once sync.Once
}

func newClient(conn Conn, log zerolog.Logger) *Client {
	c := &Client{
		conn: conn,
		log:  log,
		send: make(chan any, sendBuffer),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Client) WriteJSON(v any) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- v:
		return nil
	default:
		c.log.Warn().Msg("ws send buffer full, closing")
		_ = c.Close()
		return ErrSendBufferFull
	}
}

// Close stops the write loop and closes the conn. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case v := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(v); err != nil {
				// The read loop notices the closed conn and unregisters it.
				c.log.Debug().Err(err).Msg("ws write failed, closing")
				_ = c.Close()
				return
			}
		}
	}
}

// Hub manages active WebSocket connections keyed by user ID and provides
// helper methods to push events to one or every user.
type Hub struct {
	log zerolog.Logger

	mu    sync.RWMutex
	conns map[uuid.UUID]map[Conn]*Client
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:   log,
		conns: make(map[uuid.UUID]map[Conn]*Client),
	}
}

// Register adds a connection for the given user and returns its writer.
func (h *Hub) Register(userID uuid.UUID, conn Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[userID] == nil {
		h.conns[userID] = make(map[Conn]*Client)
	}
	c := newClient(conn, h.log)
	h.conns[userID][conn] = c
	return c
}

// Unregister removes a connection, closes its client and reports how many
// connections the user has left.
func (h *Hub) Unregister(userID uuid.UUID, conn Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.conns[userID]
	if !ok {
		return 0
	}
	if c, ok := conns[conn]; ok {
		_ = c.Close()
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.conns, userID)
	}
	return len(conns)
}

// Connected reports whether the user has at least one open connection.
func (h *Hub) Connected(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// SendToUser writes payload to every connection of userID.
func (h *Hub) SendToUser(userID uuid.UUID, payload any) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.conns[userID]))
	for _, c := range h.conns[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	h.deliver(targets, payload)
}

// BroadcastAll sends the payload to all connected users.
func (h *Hub) BroadcastAll(payload any) {
	h.mu.RLock()
	var targets []*Client
	for _, conns := range h.conns {
		for _, c := range conns {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, payload)
}

func (h *Hub) deliver(targets []*Client, payload any) {
	for _, c := range targets {
		if err := c.WriteJSON(payload); err != nil && !errors.Is(err, ErrClientClosed) {
			h.log.Debug().Err(err).Msg("ws frame dropped")
		}
	}
}

// ConversationEvent is pushed to a session owner on every snapshot change.
type ConversationEvent struct {
	Type string `json:"type"`
	conversation.Snapshot
}

// MembershipEvent is broadcast on every ledger transition.
type MembershipEvent struct {
	Type string `json:"type"`
	membership.Change
}

// PushConversation is the session registry's change callback.
func (h *Hub) PushConversation(userID uuid.UUID, snap conversation.Snapshot) {
	h.SendToUser(userID, ConversationEvent{Type: "conversation", Snapshot: snap})
}

// PushMembership is the ledger's notify callback.
func (h *Hub) PushMembership(c membership.Change) {
	h.BroadcastAll(MembershipEvent{Type: "membership", Change: c})
}
