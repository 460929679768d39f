// Package sundaews serves GraphQL queries, mutations and subscriptions over
// WebSocket using the subscriptions-transport-ws protocol.
//
// Subscriptions join named groups on a groupchannel.Channel; anything that
// broadcasts to a group reaches every connection subscribed to it, after the
// executor's Publish hook has had a chance to shape or suppress the
// notification for each subscriber.
package sundaews

import (
	"net/http"

	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Server accepts WebSocket connections and runs the protocol on each.
type Server struct {
	Executor Executor
	Channel  groupchannel.Channel
	Config   Config
	Logger   zerolog.Logger
	Metrics  Metrics

	// Upgrader defaults to accepting any origin with the graphql-ws
	// subprotocol.
	Upgrader *websocket.Upgrader
}

// NewConn prepares a connection over transport. Call Serve to run it.
func (s *Server) NewConn(transport Transport) *Conn {
	id := uuid.NewString()
	metrics := s.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	c := &Conn{
		info:       &ConnInfo{ID: id},
		transport:  transport,
		executor:   s.Executor,
		config:     s.Config,
		logger:     s.Logger.With().Str("connection_id", id).Logger(),
		metrics:    metrics,
		ops:        newOpTable(),
		tasks:      newScheduler(s.Config),
		outbox:     make(chan []byte, 256),
		writerDone: make(chan struct{}),
	}
	if !s.Config.StrictOrdering && s.Config.MaxInFlight > 0 {
		c.slots = semaphore.NewWeighted(int64(s.Config.MaxInFlight))
	}
	c.dispatcher = &Dispatcher{
		ConnectionID: id,
		Channel:      s.Channel,
		Executor:     s.Executor,
		Logger:       c.logger,
		Send:         c.send,
		Terminate:    c.terminate,
	}
	return c
}

func (s *Server) upgrader() *websocket.Upgrader {
	if s.Upgrader != nil {
		return s.Upgrader
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{Subprotocol},
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := s.upgrader().Upgrade(w, req, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := s.NewConn(NewWebSocketTransport(ws))
	conn.info.Request = req
	if err := conn.Serve(req.Context()); err != nil {
		conn.logger.Debug().Err(err).Msg("connection ended")
	}
}

// IsWebSocketUpgrade reports whether req asks for a websocket upgrade.
func IsWebSocketUpgrade(req *http.Request) bool {
	return websocket.IsWebSocketUpgrade(req)
}
