package peer

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carelink/telecall/internal/signaling"
)

// Transport is the client's connection to the signaling server.
type Transport interface {
	Send(msg signaling.Message) error
	Close() error
}

// TransportFactory dials a fresh signaling connection. onMessage receives
// every server event; onDown fires once when the connection is lost for any
// reason other than Close.
type TransportFactory func(ctx context.Context, onMessage func(signaling.Message), onDown func(error)) (Transport, error)

const transportWriteWait = 10 * time.Second

// WebSocketTransport connects to the signaling server's WebSocket endpoint.
func WebSocketTransport(url string) TransportFactory {
	return func(ctx context.Context, onMessage func(signaling.Message), onDown func(error)) (Transport, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		t := &wsTransport{conn: conn, done: make(chan struct{})}
		go t.readLoop(onMessage, onDown)
		return t, nil
	}
}

type wsTransport struct {
	conn *websocket.Conn

	// writeMu serializes concurrent Sends on the single ws writer.
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func (t *wsTransport) Send(msg signaling.Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(transportWriteWait))
	return t.conn.WriteJSON(msg)
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return t.conn.Close()
}

func (t *wsTransport) readLoop(onMessage func(signaling.Message), onDown func(error)) {
	for {
		var msg signaling.Message
		if err := t.conn.ReadJSON(&msg); err != nil {
			select {
			case <-t.done:
				// Deliberate close, not a transport loss.
			default:
				t.closeOnce.Do(func() { close(t.done) })
				_ = t.conn.Close()
				onDown(err)
			}
			return
		}
		onMessage(msg)
	}
}
