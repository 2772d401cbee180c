package transport

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type wsTransport struct {
	conn   *websocket.Conn
	rest   []byte
	closed atomic.Bool
}

// NewWebSocket adapts a WebSocket connection into a Transport. Frames
// travel inside binary messages; message boundaries carry no meaning,
// the scanner reframes the byte stream on the far side.
func NewWebSocket(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

// DialWebSocket connects to a device served at a ws:// or wss:// URL.
func DialWebSocket(url string) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn), nil
}

func (w *wsTransport) Read(p []byte) (int, error) {
	for len(w.rest) == 0 {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.rest = data
	}
	n := copy(p, w.rest)
	w.rest = w.rest[n:]
	return n, nil
}

func (w *wsTransport) WriteAll(p []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (w *wsTransport) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *wsTransport) Ready() bool {
	return !w.closed.Load()
}

func (w *wsTransport) Close() error {
	w.closed.Store(true)
	return w.conn.Close()
}
