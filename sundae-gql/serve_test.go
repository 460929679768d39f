package sundaegql

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	sundaews "github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws"
	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

type wsResolver struct {
	testResolver
	config  *BaseConfig
	channel *groupchannel.Local
}

func (r *wsResolver) Schema() string                     { return MergeSchemas(testSchema, Common) }
func (r *wsResolver) Config() *BaseConfig                { return r.config }
func (r *wsResolver) GroupChannel() groupchannel.Channel { return r.channel }

func (r *wsResolver) SubscriptionSchema() string { return testSubscriptionSchema }

func (r *wsResolver) Subscriptions() map[string]Subscription {
	return map[string]Subscription{"poolUpdated": poolUpdated}
}

func (r *wsResolver) OnConnect(ctx context.Context, payload json.RawMessage) (context.Context, error) {
	var init struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(payload, &init)
	if init.Token != "secret" {
		return nil, errors.New("unauthorized")
	}
	return ctx, nil
}

func newWSResolver() *wsResolver {
	return &wsResolver{
		config:  &BaseConfig{Logger: zerolog.Nop(), Service: sundaecli.NewService("test")},
		channel: groupchannel.NewLocal(),
	}
}

func TestRouter(t *testing.T) {
	resolver := newWSResolver()
	router, err := Router(resolver)
	assert.NoError(t, err)
	ts := httptest.NewServer(router)
	defer ts.Close()

	t.Run("http query", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/graphql", "application/json", strings.NewReader(`{"query":"{ hello }"}`))
		assert.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"data":{"hello":"hello world"}}`, string(body))
	})

	t.Run("graphiql without upgrade", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/graphql")
		assert.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "SubscriptionClient")
	})

	t.Run("websocket subscription", func(t *testing.T) {
		dialer := websocket.Dialer{Subprotocols: []string{sundaews.Subprotocol}}
		ws, _, err := dialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/graphql", nil)
		assert.NoError(t, err)
		defer ws.Close()

		read := func() sundaews.OperationMessage {
			assert.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
			var msg sundaews.OperationMessage
			assert.NoError(t, ws.ReadJSON(&msg))
			return msg
		}

		assert.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "connection_init", "payload": map[string]string{"token": "secret"}}))
		assert.Equal(t, sundaews.MsgConnectionAck, read().Type)

		assert.NoError(t, ws.WriteJSON(map[string]interface{}{
			"id":      "q",
			"type":    "start",
			"payload": map[string]string{"query": `{ hello(name: "socket") }`},
		}))
		msg := read()
		assert.Equal(t, sundaews.MsgData, msg.Type)
		assert.JSONEq(t, `{"data":{"hello":"hello socket"}}`, string(msg.Payload))
		assert.Equal(t, sundaews.MsgComplete, read().Type)

		assert.NoError(t, ws.WriteJSON(map[string]interface{}{
			"id":      "s",
			"type":    "start",
			"payload": map[string]string{"query": `subscription { poolUpdated(id: "abc") { poolId } }`},
		}))
		deadline := time.Now().Add(2 * time.Second)
		for resolver.channel.Members("pool:abc") == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		assert.NoError(t, groupchannel.Broadcast(context.Background(), resolver.channel, "pool:abc", map[string]string{"poolId": "abc"}))
		msg = read()
		assert.Equal(t, "s", msg.ID)
		assert.JSONEq(t, `{"data":{"poolUpdated":{"poolId":"abc"}}}`, string(msg.Payload))
	})

	t.Run("websocket subscription must match the subscription schema", func(t *testing.T) {
		dialer := websocket.Dialer{Subprotocols: []string{sundaews.Subprotocol}}
		ws, _, err := dialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/graphql", nil)
		assert.NoError(t, err)
		defer ws.Close()

		read := func() sundaews.OperationMessage {
			assert.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
			var msg sundaews.OperationMessage
			assert.NoError(t, ws.ReadJSON(&msg))
			return msg
		}

		assert.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "connection_init", "payload": map[string]string{"token": "secret"}}))
		assert.Equal(t, sundaews.MsgConnectionAck, read().Type)

		assert.NoError(t, ws.WriteJSON(map[string]interface{}{
			"id":      "bad",
			"type":    "start",
			"payload": map[string]string{"query": `subscription { poolUpdated(id: "abc") }`},
		}))
		msg := read()
		assert.Equal(t, sundaews.MsgError, msg.Type)
		assert.Equal(t, "bad", msg.ID)
		assert.Equal(t, sundaews.MsgComplete, read().Type)
	})

	t.Run("websocket rejected without token", func(t *testing.T) {
		dialer := websocket.Dialer{Subprotocols: []string{sundaews.Subprotocol}}
		ws, _, err := dialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/graphql", nil)
		assert.NoError(t, err)
		defer ws.Close()

		assert.NoError(t, ws.WriteJSON(map[string]interface{}{"type": "connection_init"}))
		assert.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg sundaews.OperationMessage
		assert.NoError(t, ws.ReadJSON(&msg))
		assert.Equal(t, sundaews.MsgConnectionError, msg.Type)
	})
}
