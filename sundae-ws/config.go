package sundaews

import (
	"context"
	"encoding/json"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	"go.opentelemetry.io/otel"
)

const tracerName = "github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws"

var tracer = otel.Tracer(tracerName)

// ConnectFunc runs on connection_init. A returned error rejects the
// connection; a returned context replaces the connection context for every
// later operation.
type ConnectFunc func(ctx context.Context, payload json.RawMessage) (context.Context, error)

// DisconnectFunc runs once after the connection has been torn down.
type DisconnectFunc func(ctx context.Context)

// Config is the per-connection protocol policy.
type Config struct {
	// KeepAlive is the interval between ka messages. Zero disables them.
	KeepAlive time.Duration

	// StrictOrdering processes the messages of a connection one at a time.
	StrictOrdering bool

	// MaxInFlight bounds concurrent operations per connection when not
	// strictly ordered. Zero means unbounded.
	MaxInFlight int

	// ConfirmSubscriptions sends a data message with a null payload once a
	// subscription is registered.
	ConfirmSubscriptions bool

	OnConnect    ConnectFunc
	OnDisconnect DisconnectFunc
}

// Metrics receives connection and operation measurements. sundaecli.Metrics
// implements it.
type Metrics interface {
	Event(ctx context.Context, name sundaecli.MetricName, dimensions ...map[sundaecli.DimensionName]string)
	Timing(ctx context.Context, name sundaecli.MetricName, start time.Time, dimensions ...map[sundaecli.DimensionName]string)
}

type noopMetrics struct{}

func (noopMetrics) Event(context.Context, sundaecli.MetricName, ...map[sundaecli.DimensionName]string) {
}

func (noopMetrics) Timing(context.Context, sundaecli.MetricName, time.Time, ...map[sundaecli.DimensionName]string) {
}
