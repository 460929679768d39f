package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	sundaecron "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cron"
	sundaegql "github.com/SundaeSwap-finance/sundae-gqlws/sundae-gql"
	sundaerest "github.com/SundaeSwap-finance/sundae-gqlws/sundae-rest"
	sundaews "github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws"
	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var opts struct {
	Heartbeat     time.Duration
	BroadcastPort int
}

var service = sundaecli.Service{
	Name:    "example-ws",
	Version: sundaecli.CommitHash(),
}

func main() {
	flags := append(sundaecli.CommonFlags, sundaecli.PortFlag(5001))
	flags = append(flags, sundaews.Flags...)
	flags = append(flags, sundaecli.TracingFlags...)
	flags = append(flags, sundaerest.BroadcastFlags...)
	flags = append(flags,
		sundaecli.DurationFlag("heartbeat", "Interval of broadcasts to the heartbeat subscription; 0 disables them", &opts.Heartbeat, 0),
		sundaecli.IntFlag("broadcast-port", "Private port of the broadcast API; 0 disables it", &opts.BroadcastPort, 0),
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

	shutdown, err := sundaecli.Tracing(ctx, service, sundaecli.TracingOpts.Endpoint)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	channel, run, err := groupchannel.Build(ctx, sundaecli.CommonOpts.Env, logger)
	if err != nil {
		return err
	}

	config := sundaegql.NewConfig(service)
	config.Logger = logger
	if !sundaecli.CommonOpts.Console {
		sess := session.Must(session.NewSession(aws.NewConfig()))
		config.Metrics = sundaecli.NewMetrics(service, cloudwatch.New(sess))
	}

	resolver := NewResolver(&config, channel)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return run(ctx)
	})
	if opts.Heartbeat > 0 {
		beat := sundaecron.NewBroadcastHandler(service, channel, heartbeatGroup, func(context.Context) (interface{}, error) {
			return Heartbeat{Timestamp: time.Now().UTC().Format(time.RFC3339)}, nil
		})
		g.Go(func() error {
			return beat.Every(ctx, opts.Heartbeat)
		})
	}
	if opts.BroadcastPort > 0 {
		token, err := sundaerest.BroadcastToken()
		if err != nil {
			return err
		}
		routes := sundaerest.Internal(service, sundaerest.BroadcastRoutes(channel, token))
		addr := fmt.Sprintf(":%v", opts.BroadcastPort)
		logger.Info().Int("port", opts.BroadcastPort).Msg("starting broadcast api")
		g.Go(func() error {
			return sundaecli.ListenAndServe(ctx, addr, routes)
		})
	}

	router, err := sundaegql.Router(resolver)
	if err != nil {
		return err
	}
	g.Go(func() error {
		defer cancel()
		return sundaegql.ServeContext(ctx, router, &config)
	})
	return g.Wait()
}
