package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"studychat/internal/presence"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// we allow all origins in development; in production you should tighten this if the server is exposed publicly.
		return true
	},
}

// wsChannel adapts one websocket connection to the presence.Channel
// interface: a uuid channel id and a buffered, never-blocking send queue.
type wsChannel struct {
	id   string
	conn *websocket.Conn
	send chan presence.Event

	mu     sync.Mutex
	closed bool
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan presence.Event, 64),
	}
}

func (c *wsChannel) ID() string { return c.id }

// Send enqueues an event for the write pump. A full queue means the peer is
// too slow to read; the event is dropped rather than stalling a broadcast.
func (c *wsChannel) Send(event presence.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- event:
	default:
	}
}

func (c *wsChannel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ServeWS authenticates the token, upgrades the connection, and hands the
// channel to the session supervisor. The presence core never sees an
// unauthenticated channel.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	authCtx, err := s.authenticateToken(r.Context(), token)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	ch := newWSChannel(conn)
	s.bus.Add(ch)
	s.metrics.IncConn()
	go ch.writePump()

	if err := s.supervisor.Connect(context.Background(), authCtx.UserID, ch); err != nil {
		message := "Error occurred during connection"
		if errors.Is(err, presence.ErrUserNotFound) {
			message = "User not found"
		}
		ch.Send(presence.Event{Type: presence.EventConnectionError, Message: message})
		ch.close()
		s.bus.Remove(ch.id)
		s.metrics.DecConn()
		return
	}

	go s.readPump(ch, authCtx.UserID)
}

// readPump decodes inbound events and feeds them to the relay until the
// connection dies, then reports the disconnect with a classified reason.
func (s *Server) readPump(ch *wsChannel, userID int64) {
	var readErr error
	defer func() {
		s.supervisor.Disconnect(userID, ch.id, classifyDisconnect(readErr))
		ch.close()
		s.bus.Remove(ch.id)
		s.metrics.DecConn()
		ch.conn.Close()
	}()

	ch.conn.SetReadLimit(maxMsgSize)
	_ = ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	ch.conn.SetPongHandler(func(string) error {
		return ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := ch.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		var event presence.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			ch.Send(presence.Event{Type: presence.EventMessageError, Message: "Malformed event"})
			continue
		}
		switch event.Type {
		case presence.EventSendMessage:
			s.metrics.IncMessage()
			s.relay.SendMessage(context.Background(), ch, userID, event.RecipientID, event.Content)
		case presence.EventTyping:
			s.relay.Typing(userID, event.RecipientID, event.IsTyping)
		default:
			ch.Send(presence.Event{Type: presence.EventMessageError, Message: "Unknown event type"})
		}
	}
}

// classifyDisconnect maps a read error to a disconnect reason. A clean close
// finalizes immediately; timeouts and everything else get the grace window.
func classifyDisconnect(err error) presence.DisconnectReason {
	if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return presence.ReasonNormal
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return presence.ReasonTimeout
	}
	return presence.ReasonTransportLoss
}

func (c *wsChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
