package distributed

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEventMirror_ResubscribeAfterCancel(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:1"})
	defer client.Close()

	mirror := NewEventMirror(client, "instance-a", "callmesh:events", zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handler := func(*WireEvent) error { return nil }

	err := mirror.Subscribe(ctx, handler)
	require.ErrorIs(t, err, context.Canceled)

	// A finished subscription must not block a later one.
	err = mirror.Subscribe(ctx, handler)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, err.Error(), "already subscribed")
}
