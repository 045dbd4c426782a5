package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fleetworks/adbfleet-core/internal/infrastructure/config"
)

// errClientGone is returned by Send once the client connection is
// closed or its buffer overflows; the broadcaster prunes on it.
var errClientGone = errors.New("websocket client gone")

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// wsClient adapts one WebSocket connection to the broadcast.Subscriber
// interface: broadcast deliveries are buffered onto the send channel
// and flushed by the write pump.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newWSClient(conn *websocket.Conn, bufferSize int) *wsClient {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &wsClient{
		id:   "ws-" + uuid.NewString()[:8],
		conn: conn,
		send: make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
}

// ID implements broadcast.Subscriber.
func (c *wsClient) ID() string { return c.id }

// Send implements broadcast.Subscriber. It never blocks the broadcast
// consumer: a closed connection or a full buffer (slow client) returns
// an error, which prunes the subscriber.
func (c *wsClient) Send(data []byte) error {
	select {
	case <-c.done:
		return errClientGone
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return errClientGone
	}
}

// close marks the client dead. Idempotent.
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// handleWebSocket upgrades the connection and registers it as a live
// subscriber on the named channel. Unknown channels are created on
// first connect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "live channels not enabled")
		return
	}

	channel := chi.URLParam(r, "channel")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn, s.wsCfg.SendBuffer)
	s.logger.Debug("websocket client connected", "client", client.id, "channel", channel)

	// Connect after the pumps exist so the devices-channel snapshot
	// lands in the send buffer and is flushed by the write pump.
	go s.writePump(client)
	go s.readPump(client, channel)

	s.broadcaster.Connect(client, channel)
}

// readPump consumes inbound frames. Clients only send keepalive
// traffic; any payload resets the read deadline and is otherwise
// discarded. Exit tears the subscription down.
func (s *Server) readPump(client *wsClient, channel string) {
	defer func() {
		s.broadcaster.Disconnect(client, channel)
		client.close()
		s.logger.Debug("websocket client disconnected", "client", client.id, "channel", channel)
	}()

	client.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	deadline := wsDeadline(s.wsCfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	client.conn.SetReadDeadline(time.Now().Add(deadline))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "client", client.id, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		client.conn.SetReadDeadline(time.Now().Add(deadline))
	}
}

// writePump flushes buffered broadcast messages and keeps the
// connection alive with protocol pings.
func (s *Server) writePump(client *wsClient) {
	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		client.close()
	}()

	writeWait := time.Duration(s.wsCfg.PongTimeout) * time.Second
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		select {
		case message := <-client.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			//nolint:errcheck // Best-effort close message
			client.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case <-ctx.Done():
			//nolint:errcheck // Best-effort close message
			client.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

// wsDeadline is the read deadline window: one ping interval plus the
// pong grace period.
func wsDeadline(cfg config.WebSocketConfig) time.Duration {
	d := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	if d <= 0 {
		d = 90 * time.Second
	}
	return d
}
