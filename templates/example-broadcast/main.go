package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	sundaerest "github.com/SundaeSwap-finance/sundae-gqlws/sundae-rest"
	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/urfave/cli/v2"
)

var opts struct {
	Group     string
	Payload   string
	Terminate bool
}

var service = sundaecli.Service{
	Name:    "example-broadcast",
	Version: sundaecli.CommitHash(),
}

func main() {
	flags := append(sundaecli.CommonFlags, sundaecli.PortFlag(5002))
	flags = append(flags, groupchannel.Flags...)
	flags = append(flags, sundaerest.BroadcastFlags...)
	flags = append(flags,
		sundaecli.StringFlag("group", "Broadcast once to this group and exit, instead of serving the broadcast API", &opts.Group),
		sundaecli.StringFlag("payload", "JSON payload of a one-off broadcast", &opts.Payload, "{}"),
		sundaecli.BoolFlag("terminate", "End the group's subscriptions instead of broadcasting", &opts.Terminate),
	)

	app := sundaecli.App(service, action, flags...)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(c *cli.Context) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	logger := sundaecli.Logger(service)
	channel, run, err := groupchannel.Build(ctx, sundaecli.CommonOpts.Env, logger)
	if err != nil {
		return err
	}
	go run(ctx)

	if opts.Group == "" {
		token, err := sundaerest.BroadcastToken()
		if err != nil {
			return err
		}
		return sundaerest.Webserver(ctx, service, sundaerest.Middlewares(service, sundaerest.BroadcastRoutes(channel, token)))
	}

	if opts.Terminate {
		err = groupchannel.Unsubscribe(ctx, channel, opts.Group)
	} else if !json.Valid([]byte(opts.Payload)) {
		return fmt.Errorf("payload is not valid JSON")
	} else {
		err = channel.Publish(ctx, groupchannel.Event{Group: opts.Group, Payload: json.RawMessage(opts.Payload)})
	}
	if err != nil {
		return err
	}
	logger.Info().Str("group", opts.Group).Bool("terminate", opts.Terminate).Msg("broadcast sent")
	return nil
}
