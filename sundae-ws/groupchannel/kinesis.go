package groupchannel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
	consumer "github.com/harlow/kinesis-consumer"
	"github.com/rs/zerolog"
)

// Kinesis is a Channel backed by a Kinesis stream. Every process publishes
// events to the stream and runs a consumer that hands each record to its
// local members of the record's group.
type Kinesis struct {
	client     kinesisiface.KinesisAPI
	streamName string
	logger     zerolog.Logger
	local      *Local
}

// NewKinesis creates a Kinesis channel.
func NewKinesis(client kinesisiface.KinesisAPI, streamName string, logger zerolog.Logger) *Kinesis {
	return &Kinesis{
		client:     client,
		streamName: streamName,
		logger:     logger.With().Str("component", "groupchannel.kinesis").Str("stream", streamName).Logger(),
		local:      NewLocal(),
	}
}

// StreamName returns the Kinesis stream name for the given environment.
func StreamName(env string) string {
	return env + "-sundae-ws-events"
}

func (k *Kinesis) Join(_ context.Context, group string, member Member) error {
	k.local.join(group, member)
	return nil
}

func (k *Kinesis) Leave(_ context.Context, group string, member Member) error {
	k.local.leave(group, member)
	return nil
}

// Publish puts the event on the stream. The group is the partition key so
// events for one group keep their order.
func (k *Kinesis) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	_, err = k.client.PutRecordWithContext(ctx, &kinesis.PutRecordInput{
		StreamName:   aws.String(k.streamName),
		PartitionKey: aws.String(event.Group),
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("publishing to kinesis stream %v: %w", k.streamName, err)
	}
	return nil
}

// Run consumes the stream from its latest position until ctx is done.
func (k *Kinesis) Run(ctx context.Context) error {
	c, err := consumer.New(k.streamName,
		consumer.WithClient(k.client),
		consumer.WithShardIteratorType("LATEST"),
	)
	if err != nil {
		return fmt.Errorf("creating kinesis consumer: %w", err)
	}

	k.logger.Info().Msg("consuming group events")
	err = c.Scan(ctx, func(r *consumer.Record) error {
		k.HandleRecord(r.Data)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("failure reading from kinesis: %w", err)
	}
	return nil
}

// HandleRecord delivers one raw stream record to local members.
func (k *Kinesis) HandleRecord(data []byte) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		k.logger.Warn().Err(err).Msg("dropping malformed group event")
		return
	}
	if event.Group == "" {
		k.logger.Warn().Msg("kinesis record has empty group, skipping")
		return
	}
	k.local.deliver(event)
}
