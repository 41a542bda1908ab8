package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"
)

func TestPublishRequiresTopic(t *testing.T) {
	t.Parallel()

	var p *Publisher
	_, err := p.Publish(context.Background(), "scan.completed", map[string]string{})
	require.Error(t, err)

	_, err = New(nil, "events")
	require.Error(t, err)
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	p := &Publisher{topic: nilTopic{}}
	_, err := p.Publish(context.Background(), "scan.completed", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

type nilTopic struct{}

func (nilTopic) Publish(context.Context, *pubsub.Message) *pubsub.PublishResult { return nil }
