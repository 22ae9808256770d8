package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carelink/telecall/internal/metrics"
	"github.com/carelink/telecall/internal/ratelimit"
)

const (
	// Time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// Transport-level keepalive. Application heartbeats (§ heartbeat events)
	// drive failure detection; pings only keep NAT bindings warm.
	wsPingPeriod = 30 * time.Second

	// Outbound queue depth per connection. A client that cannot drain this
	// many messages is effectively dead and will be caught by the heartbeat
	// sweep; sends to a full queue are dropped rather than blocking handlers.
	wsSendQueueLen = 256
)

// wsConn is one signaling connection. The server assigns it a socket id at
// upgrade time; that id is the participant's transient transport identity.
type wsConn struct {
	srv      *Server
	conn     *websocket.Conn
	socketID string

	send    chan Message
	limiter *ratelimit.Limiter

	// writeMu serializes writes between the write pump and the error path.
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(srv *Server, conn *websocket.Conn, socketID string) *wsConn {
	return &wsConn{
		srv:      srv,
		conn:     conn,
		socketID: socketID,
		send:     make(chan Message, wsSendQueueLen),
		limiter: ratelimit.NewLimiter(
			srv.clock,
			srv.maxMessagesPerSecond(),
			srv.maxMessagesPerSecond(),
		),
		done: make(chan struct{}),
	}
}

// enqueue queues msg for delivery without blocking. Messages to a stalled
// connection are dropped; liveness is the heartbeat monitor's job.
func (c *wsConn) enqueue(msg Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.srv.log.Warn("dropping outbound signaling message",
			"socket_id", c.socketID,
			"type", msg.Type,
		)
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump is the single writer for the connection.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.writeJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// readPump reads and dispatches client messages until the connection dies.
// It is the only reader for the connection.
func (c *wsConn) readPump() {
	defer func() {
		c.srv.dropConn(c)
		c.close()
		// Transport loss without a prior leave-room is recoverable.
		c.srv.disconnect(c.socketID, true)
	}()

	c.conn.SetReadLimit(c.srv.maxMessageBytes())

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// Rate-limit after reading so bytes already buffered by the OS are
		// consumed; closing with unread data can turn into an abortive close
		// that hides the close reason from the client.
		if !c.limiter.Allow() {
			c.srv.metrics.Inc(metrics.DropReasonRateLimited)
			c.fail("rate_limited", "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			c.srv.metrics.Inc(metrics.DropReasonBadMessage)
			c.fail("bad_message", err.Error(), websocket.ClosePolicyViolation, "bad message")
			return
		}

		c.srv.dispatch(c, msg)
	}
}

func (c *wsConn) writeJSON(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(msg)
}

// fail sends a machine-readable error event, then closes the connection with
// the given close code.
func (c *wsConn) fail(code, message string, closeCode int, closeReason string) {
	_ = c.writeJSON(Message{
		Type:    MessageTypeError,
		Code:    code,
		Message: message,
	})
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCode, closeReason), time.Now().Add(wsWriteWait))
	c.writeMu.Unlock()
	c.close()
}
