package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"ridehail/internal/broadcast"
	"ridehail/internal/domain"
	"ridehail/internal/service"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	writeWait    = 5 * time.Second
	maxFrameSize = 4096
)

// Client -> server events on the driver socket.
const (
	eventLocation     = "location"
	eventAvailability = "availability"
	eventError        = "error"
)

// inboundMessage is the wire shape of a message read from a socket.
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsError struct {
	Message string `json:"message"`
}

// SocketHandler upgrades driver and rider connections and registers them
// with the hub.
type SocketHandler struct {
	hub      *broadcast.Hub
	tracker  *service.SessionTracker
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// NewSocketHandler creates a new SocketHandler.
func NewSocketHandler(hub *broadcast.Hub, tracker *service.SessionTracker, log logrus.FieldLogger) *SocketHandler {
	return &SocketHandler{
		hub:      hub,
		tracker:  tracker,
		upgrader: broadcast.NewUpgrader(),
		log:      log,
	}
}

// DriverSocket handles GET /v1/ws/drivers/:id
func (h *SocketHandler) DriverSocket(c *gin.Context) {
	driverID := c.Param("id")

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	conn := h.hub.Register(broadcast.DriverKey(driverID), ws)
	log := h.log.WithFields(logrus.Fields{"driver_id": driverID, "connection_id": conn.ID})

	// The request context ends with the handler; session writes on teardown
	// must outlive it.
	ctx := context.WithoutCancel(c.Request.Context())

	if _, err := h.tracker.Connect(ctx, driverID, conn.ID); err != nil {
		log.WithError(err).Warn("driver session not started")
		h.hub.Unregister(conn)
		_ = ws.Close()
		return
	}

	defer func() {
		h.hub.Unregister(conn)
		if err := h.tracker.Disconnect(ctx, driverID, conn.ID); err != nil {
			log.WithError(err).Warn("driver session not removed")
		}
	}()

	touch := func() {
		if err := h.tracker.Touch(ctx, driverID); err != nil {
			log.WithError(err).Debug("driver session not refreshed")
		}
	}
	h.readLoop(ws, log, func(msg inboundMessage) error {
		return h.handleDriverMessage(ctx, driverID, msg)
	}, broadcast.DriverKey(driverID), touch)
}

// RiderSocket handles GET /v1/ws/riders/:id
func (h *SocketHandler) RiderSocket(c *gin.Context) {
	riderID := c.Param("id")

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	conn := h.hub.Register(broadcast.RiderKey(riderID), ws)
	defer h.hub.Unregister(conn)

	log := h.log.WithFields(logrus.Fields{"rider_id": riderID, "connection_id": conn.ID})

	// Riders only receive; anything they send is ignored.
	h.readLoop(ws, log, func(inboundMessage) error { return nil }, broadcast.RiderKey(riderID), nil)
}

func (h *SocketHandler) handleDriverMessage(ctx context.Context, driverID string, msg inboundMessage) error {
	switch msg.Event {
	case eventLocation:
		var p UpdateLocationRequest
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.Lat == nil || p.Lng == nil {
			return service.ErrInvalidLocation
		}
		_, err := h.tracker.UpdateLocation(ctx, driverID, domain.Coordinates{Lat: *p.Lat, Lng: *p.Lng})
		return err

	case eventAvailability:
		var p AvailabilityRequest
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.Available == nil {
			return service.ErrInvalidInput
		}
		_, err := h.tracker.SetAvailability(ctx, driverID, *p.Available)
		return err

	default:
		return errUnknownEvent
	}
}

var errUnknownEvent = errors.New("unknown event")

// readLoop reads until the peer goes away, keeping the connection alive
// with pings. handle errors are reported back on the socket. onPong, if
// set, runs on every pong.
func (h *SocketHandler) readLoop(ws *websocket.Conn, log logrus.FieldLogger, handle func(inboundMessage) error, recipient string, onPong func()) {
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		if onPong != nil {
			onPong()
		}
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// WriteControl may run concurrently with the hub's writer.
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				h.reply(recipient, errors.New("malformed message"))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("websocket closed")
			}
			return
		}

		if err := handle(msg); err != nil {
			log.WithError(err).WithField("event", msg.Event).Debug("websocket message rejected")
			h.reply(recipient, err)
		}
	}
}

func (h *SocketHandler) reply(recipient string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	_ = h.hub.Send(ctx, recipient, broadcast.Envelope{Event: eventError, Data: wsError{Message: err.Error()}})
}
