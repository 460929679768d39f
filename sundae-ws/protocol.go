package sundaews

import (
	"encoding/json"
	"fmt"
)

// Subprotocol is the Sec-WebSocket-Protocol value negotiated by
// subscriptions-transport-ws clients.
const Subprotocol = "graphql-ws"

// subscriptions-transport-ws message types
// See: https://github.com/apollographql/subscriptions-transport-ws/blob/master/PROTOCOL.md
const (
	MsgConnectionInit      = "connection_init"
	MsgConnectionAck       = "connection_ack"
	MsgConnectionError     = "connection_error"
	MsgConnectionTerminate = "connection_terminate"
	MsgKeepAlive           = "ka"
	MsgStart               = "start"
	MsgData                = "data"
	MsgError               = "error"
	MsgComplete            = "complete"
	MsgStop                = "stop"
)

// OperationMessage is a message in the subscriptions-transport-ws protocol.
type OperationMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartPayload is the payload of a "start" message.
type StartPayload struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
}

// ErrorPayload is the payload of "error" and "connection_error" messages.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ParseMessage parses a protocol message from a text frame.
func ParseMessage(body []byte) (*OperationMessage, error) {
	var msg OperationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("invalid graphql-ws message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("missing message type")
	}
	return &msg, nil
}

// ParseStartPayload decodes the payload of a "start" message.
func ParseStartPayload(msg *OperationMessage) (StartPayload, error) {
	var payload StartPayload
	if len(msg.Payload) == 0 {
		return payload, fmt.Errorf("missing start payload")
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return payload, fmt.Errorf("invalid start payload: %w", err)
	}
	if payload.Query == "" {
		return payload, fmt.Errorf("missing query")
	}
	return payload, nil
}

// AckMessage returns a connection_ack message.
func AckMessage() []byte {
	b, _ := json.Marshal(OperationMessage{Type: MsgConnectionAck})
	return b
}

// KeepAliveMessage returns a ka message.
func KeepAliveMessage() []byte {
	b, _ := json.Marshal(OperationMessage{Type: MsgKeepAlive})
	return b
}

// ConnectionErrorMessage returns a connection_error message.
func ConnectionErrorMessage(errMsg string) []byte {
	payload, _ := json.Marshal(ErrorPayload{Message: errMsg})
	b, _ := json.Marshal(OperationMessage{
		Type:    MsgConnectionError,
		Payload: payload,
	})
	return b
}

// DataMessage returns a "data" message with the given operation ID and payload.
func DataMessage(id string, payload interface{}) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling data payload: %w", err)
	}
	b, err := json.Marshal(OperationMessage{
		ID:      id,
		Type:    MsgData,
		Payload: payloadBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling data message: %w", err)
	}
	return b, nil
}

// ErrorMessage returns an "error" message with the given operation ID and error.
func ErrorMessage(id string, errMsg string) []byte {
	payload, _ := json.Marshal(ErrorPayload{Message: errMsg})
	b, _ := json.Marshal(OperationMessage{
		ID:      id,
		Type:    MsgError,
		Payload: payload,
	})
	return b
}

// CompleteMessage returns a "complete" message for the given operation ID.
func CompleteMessage(id string) []byte {
	b, _ := json.Marshal(OperationMessage{ID: id, Type: MsgComplete})
	return b
}
