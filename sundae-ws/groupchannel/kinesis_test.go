package groupchannel

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

type fakeKinesis struct {
	kinesisiface.KinesisAPI
	puts []*kinesis.PutRecordInput
}

func (f *fakeKinesis) PutRecordWithContext(_ aws.Context, input *kinesis.PutRecordInput, _ ...request.Option) (*kinesis.PutRecordOutput, error) {
	f.puts = append(f.puts, input)
	return &kinesis.PutRecordOutput{}, nil
}

func TestKinesis(t *testing.T) {
	ctx := context.Background()

	t.Run("publish partitions by group", func(t *testing.T) {
		api := &fakeKinesis{}
		k := NewKinesis(api, StreamName("test"), zerolog.Nop())

		assert.NoError(t, Broadcast(ctx, k, "room:42", map[string]string{"text": "hi"}))
		assert.Len(t, api.puts, 1)
		assert.Equal(t, "test-sundae-ws-events", aws.StringValue(api.puts[0].StreamName))
		assert.Equal(t, "room:42", aws.StringValue(api.puts[0].PartitionKey))

		var event Event
		assert.NoError(t, json.Unmarshal(api.puts[0].Data, &event))
		assert.Equal(t, "room:42", event.Group)
		assert.JSONEq(t, `{"text":"hi"}`, string(event.Payload))
	})

	t.Run("records reach local members", func(t *testing.T) {
		k := NewKinesis(&fakeKinesis{}, "stream", zerolog.Nop())
		a, b := &recorder{id: "a"}, &recorder{id: "b"}
		assert.NoError(t, k.Join(ctx, "room:42", a))
		assert.NoError(t, k.Join(ctx, "room:7", b))

		k.HandleRecord([]byte(`{"group":"room:42","payload":{"text":"hi"}}`))
		k.HandleRecord([]byte(`{"group":"room:42","terminate":true}`))
		k.HandleRecord([]byte(`not json`))
		k.HandleRecord([]byte(`{"payload":1}`))

		events := a.received()
		assert.Len(t, events, 2)
		assert.JSONEq(t, `{"text":"hi"}`, string(events[0].Payload))
		assert.True(t, events[1].Terminate)
		assert.Empty(t, b.received())

		assert.NoError(t, k.Leave(ctx, "room:42", a))
		k.HandleRecord([]byte(`{"group":"room:42","payload":2}`))
		assert.Len(t, a.received(), 2)
	})
}
