package sundaews

import (
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/urfave/cli/v2"
)

var WSOpts struct {
	KeepAlive            time.Duration
	StrictOrdering       bool
	MaxInFlight          int
	ConfirmSubscriptions bool
}

var KeepAliveFlag = sundaecli.DurationFlag("keepalive", "Interval between ka messages; 0 disables keepalive", &WSOpts.KeepAlive, 10*time.Second)
var StrictOrderingFlag = sundaecli.BoolFlag("strict-ordering", "Process each connection's messages one at a time, in arrival order", &WSOpts.StrictOrdering)
var MaxInFlightFlag = sundaecli.IntFlag("max-in-flight", "Maximum concurrent operations per connection; 0 is unbounded", &WSOpts.MaxInFlight, 0)
var ConfirmSubscriptionsFlag = sundaecli.BoolFlag("confirm-subscriptions", "Send a data message with a null payload once a subscription is registered", &WSOpts.ConfirmSubscriptions)

// Flags configures the protocol and the group channel.
var Flags = append([]cli.Flag{
	KeepAliveFlag,
	StrictOrderingFlag,
	MaxInFlightFlag,
	ConfirmSubscriptionsFlag,
}, groupchannel.Flags...)

// ConfigFromFlags returns the protocol policy set on the command line.
func ConfigFromFlags() Config {
	return Config{
		KeepAlive:            WSOpts.KeepAlive,
		StrictOrdering:       WSOpts.StrictOrdering,
		MaxInFlight:          WSOpts.MaxInFlight,
		ConfirmSubscriptions: WSOpts.ConfirmSubscriptions,
	}
}
