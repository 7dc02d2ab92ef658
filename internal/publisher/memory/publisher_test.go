package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/candidate-discovery/internal/discovery"
)

func TestPublisherStoresEncodedMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id, err := pub.Publish(context.Background(), "discovery-events", discovery.TaskEvent{TaskID: "t1", Status: discovery.TaskStatusCompleted, ResultCount: 4})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	id, err = pub.Publish(context.Background(), "other", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "discovery-events", msgs[0].Topic)

	var ev discovery.TaskEvent
	require.NoError(t, pub.Decode(0, &ev))
	require.Equal(t, "t1", ev.TaskID)
	require.Equal(t, 4, ev.ResultCount)
	require.Error(t, pub.Decode(5, &ev))
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	_, err := New().Publish(context.Background(), "t", make(chan int))
	require.Error(t, err)
	require.Empty(t, New().Messages())
}
