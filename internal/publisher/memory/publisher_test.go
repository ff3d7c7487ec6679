package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "jobs", map[string]string{"job_id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "jobs", msgs[0].Topic)
	assert.Equal(t, "audit", msgs[1].Topic)

	only := pub.Messages("audit")
	require.Len(t, only, 1)
	assert.Equal(t, "memory-2", only[0].ID)

	msgs[0].Topic = "modified"
	assert.Equal(t, "jobs", pub.Messages()[0].Topic, "Messages must return a copy")
}

func TestPublisherFailures(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("unavailable"))
	_, err := pub.Publish(context.Background(), "jobs", nil)
	require.EqualError(t, err, "unavailable")

	pub.FailWith(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pub.Publish(ctx, "jobs", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pub.Messages())
	require.NoError(t, pub.Close())
}
