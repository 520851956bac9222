// Package broadcast keeps the process-wide registry of live websocket
// connections and writes messages to them.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned when the recipient has no live connection.
var ErrNotConnected = errors.New("recipient not connected")

const defaultWriteTimeout = 5 * time.Second

// Envelope is the wire shape of every pushed message.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Sender delivers an envelope to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient string, env Envelope) error
}

// Delivery says how far a successful send got.
type Delivery int

const (
	// Written means a connection on this instance took the message.
	Written Delivery = iota
	// Relayed means the message was handed to other instances; whether
	// one of them holds the recipient is not known here.
	Relayed
)

func (d Delivery) String() string {
	if d == Relayed {
		return "relayed"
	}
	return "delivered"
}

// Router is a Sender that can report how a message left this instance.
type Router interface {
	Sender
	Route(ctx context.Context, recipient string, env Envelope) (Delivery, error)
}

// Route sends env through s and reports the delivery. Plain senders only
// ever write locally.
func Route(ctx context.Context, s Sender, recipient string, env Envelope) (Delivery, error) {
	if r, ok := s.(Router); ok {
		return r.Route(ctx, recipient, env)
	}
	return Written, s.Send(ctx, recipient, env)
}

// DriverKey and RiderKey namespace recipients so ids cannot collide.
func DriverKey(driverID string) string { return "driver:" + driverID }

func RiderKey(riderID string) string { return "rider:" + riderID }

// wsConn is the subset of *websocket.Conn the hub writes through.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one registered connection. Writes are serialized because
// gorilla/websocket allows a single concurrent writer.
type Conn struct {
	ID        string
	Recipient string

	mu sync.Mutex
	ws wsConn
}

func (c *Conn) write(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Hub maps recipients to their current connection. Constructed once at
// startup and closed on shutdown.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	log   logrus.FieldLogger
}

// NewHub creates an empty hub.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{conns: make(map[string]*Conn), log: log}
}

var _ Sender = (*Hub)(nil)

// Register makes ws the recipient's connection, replacing and closing any
// previous one.
func (h *Hub) Register(recipient string, ws wsConn) *Conn {
	c := &Conn{ID: uuid.New().String(), Recipient: recipient, ws: ws}

	h.mu.Lock()
	old := h.conns[recipient]
	h.conns[recipient] = c
	h.mu.Unlock()

	if old != nil {
		_ = old.ws.Close()
	}
	return c
}

// Unregister removes c if it is still the recipient's current connection.
func (h *Hub) Unregister(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.conns[c.Recipient]; ok && cur == c {
		delete(h.conns, c.Recipient)
		return true
	}
	return false
}

// Connected reports whether recipient has a connection on this instance.
func (h *Hub) Connected(recipient string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[recipient]
	return ok
}

// Send marshals env and writes it to recipient.
func (h *Hub) Send(ctx context.Context, recipient string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return h.Deliver(ctx, recipient, payload)
}

// Deliver writes an already encoded envelope.
func (h *Hub) Deliver(ctx context.Context, recipient string, payload []byte) error {
	h.mu.RLock()
	c, ok := h.conns[recipient]
	h.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	if err := c.write(ctx, payload); err != nil {
		h.log.WithError(err).WithField("recipient", recipient).Debug("websocket write failed")
		return err
	}
	return nil
}

// Close closes every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
}

// NewUpgrader returns the upgrader used for client connections.
func NewUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}
