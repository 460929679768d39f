package groupchannel

import (
	"context"
	"fmt"

	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	sundaesecret "github.com/SundaeSwap-finance/sundae-gqlws/sundae-secret"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

const (
	KindLocal   = "local"
	KindRedis   = "redis"
	KindKinesis = "kinesis"
)

var Opts struct {
	Kind        string
	RedisURL    string
	RedisSecret string
	RedisPrefix string
	StreamName  string
}

var KindFlag = sundaecli.StringFlag("group-channel", "How group events reach other processes: local, redis or kinesis", &Opts.Kind, KindLocal)
var RedisURLFlag = sundaecli.StringFlag("redis-url", "Redis url for the redis group channel", &Opts.RedisURL)
var RedisSecretFlag = sundaecli.StringFlag("redis-secret", "Secrets Manager secret holding the redis url, used when --redis-url is empty", &Opts.RedisSecret)
var RedisPrefixFlag = sundaecli.StringFlag("redis-prefix", "Prefix of the redis pub/sub channels", &Opts.RedisPrefix, DefaultRedisPrefix)
var StreamNameFlag = sundaecli.StringFlag("stream-name", "Kinesis stream for group events; defaults to <env>-sundae-ws-events", &Opts.StreamName)

var Flags = []cli.Flag{
	KindFlag,
	RedisURLFlag,
	RedisSecretFlag,
	RedisPrefixFlag,
	StreamNameFlag,
}

// Build creates the channel selected by Opts. The returned run func keeps the
// channel's background work going until ctx is done and releases it after.
func Build(ctx context.Context, env string, logger zerolog.Logger) (Channel, func(context.Context) error, error) {
	switch Opts.Kind {
	case "", KindLocal:
		return NewLocal(), func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}, nil

	case KindRedis:
		url := Opts.RedisURL
		if url == "" {
			if Opts.RedisSecret == "" {
				return nil, nil, fmt.Errorf("redis group channel needs --redis-url or --redis-secret")
			}
			sess, err := session.NewSession(aws.NewConfig())
			if err != nil {
				return nil, nil, fmt.Errorf("creating aws session: %w", err)
			}
			if url, err = sundaesecret.LoadRedisURL(sess, Opts.RedisSecret); err != nil {
				return nil, nil, err
			}
		}
		r, err := NewRedisFromURL(ctx, url, Opts.RedisPrefix, logger)
		if err != nil {
			return nil, nil, err
		}
		return r, func(ctx context.Context) error {
			<-ctx.Done()
			return r.Close()
		}, nil

	case KindKinesis:
		sess, err := session.NewSession(aws.NewConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("creating aws session: %w", err)
		}
		stream := Opts.StreamName
		if stream == "" {
			stream = StreamName(env)
		}
		k := NewKinesis(kinesis.New(sess), stream, logger)
		return k, k.Run, nil

	default:
		return nil, nil, fmt.Errorf("unknown group channel %q", Opts.Kind)
	}
}
