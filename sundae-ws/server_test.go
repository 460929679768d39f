package sundaews

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/gorilla/websocket"
	"github.com/tj/assert"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	ws, resp, err := dialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	assert.NoError(t, err)
	assert.Equal(t, Subprotocol, resp.Header.Get("Sec-WebSocket-Protocol"))
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) OperationMessage {
	t.Helper()
	assert.NoError(t, ws.SetReadDeadline(time.Now().Add(waitTimeout)))
	var msg OperationMessage
	assert.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestServer(t *testing.T) {
	ch := groupchannel.NewLocal()
	server := newTestServer(&testExecutor{}, ch, Config{})
	ts := httptest.NewServer(server)
	defer ts.Close()

	t.Run("subscription round trip", func(t *testing.T) {
		ws := dial(t, ts.URL)

		assert.NoError(t, ws.WriteJSON(OperationMessage{Type: MsgConnectionInit}))
		assert.Equal(t, MsgConnectionAck, readMessage(t, ws).Type)

		assert.NoError(t, ws.WriteJSON(map[string]interface{}{
			"id":      "1",
			"type":    MsgStart,
			"payload": map[string]string{"query": "subscription room:42"},
		}))
		eventually(t, func() bool { return ch.Members("room:42") == 1 })

		assert.NoError(t, groupchannel.Broadcast(context.Background(), ch, "room:42", map[string]string{"text": "hello"}))
		msg := readMessage(t, ws)
		assert.Equal(t, MsgData, msg.Type)
		assert.Equal(t, "1", msg.ID)
		assert.JSONEq(t, `{"text":"hello"}`, string(msg.Payload))

		assert.NoError(t, ws.WriteJSON(OperationMessage{ID: "1", Type: MsgStop}))
		msg = readMessage(t, ws)
		assert.Equal(t, MsgComplete, msg.Type)
		assert.Equal(t, 0, ch.Members("room:42"))
	})

	t.Run("client close releases groups", func(t *testing.T) {
		ws := dial(t, ts.URL)
		assert.NoError(t, ws.WriteJSON(OperationMessage{Type: MsgConnectionInit}))
		readMessage(t, ws)
		assert.NoError(t, ws.WriteJSON(map[string]interface{}{
			"id":      "1",
			"type":    MsgStart,
			"payload": map[string]string{"query": "subscription lobby"},
		}))
		eventually(t, func() bool { return ch.Members("lobby") == 1 })

		ws.Close()
		eventually(t, func() bool { return ch.Members("lobby") == 0 })
	})

	t.Run("connection_terminate closes the socket", func(t *testing.T) {
		ws := dial(t, ts.URL)
		assert.NoError(t, ws.WriteJSON(OperationMessage{Type: MsgConnectionTerminate}))
		assert.NoError(t, ws.SetReadDeadline(time.Now().Add(waitTimeout)))
		_, _, err := ws.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	})
}
