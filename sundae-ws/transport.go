package sundaews

import (
	"context"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from the peer.
	maxMessageSize = 1 << 20
)

// wsTransport adapts a gorilla websocket to Transport. Conn writes from a
// single goroutine, which is what gorilla requires.
type wsTransport struct {
	conn *websocket.Conn
}

// NewWebSocketTransport wraps an upgraded websocket connection.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	conn.SetReadLimit(maxMessageSize)
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadMessage(_ context.Context) ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteMessage(_ context.Context, data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return t.conn.Close()
}
