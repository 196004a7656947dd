package localbus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replidoc/fanout/localbus"
)

func TestBus_PublishDeliversToAllSubscribers(t *testing.T) {
	bus := localbus.New()
	ctx := context.Background()

	var got1, got2 []byte
	unsub1, err := bus.Subscribe(ctx, "doc:1", func(p []byte) { got1 = p })
	require.NoError(t, err)
	defer unsub1()

	unsub2, err := bus.Subscribe(ctx, "doc:1", func(p []byte) { got2 = p })
	require.NoError(t, err)
	defer unsub2()

	require.NoError(t, bus.Publish(ctx, "doc:1", []byte("hello")))
	assert.Equal(t, []byte("hello"), got1)
	assert.Equal(t, []byte("hello"), got2)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := localbus.New()
	ctx := context.Background()

	calls := 0
	unsub, err := bus.Subscribe(ctx, "doc:1", func([]byte) { calls++ })
	require.NoError(t, err)

	unsub()
	require.NoError(t, bus.Publish(ctx, "doc:1", []byte("hello")))
	assert.Equal(t, 0, calls)
}

func TestBus_ChannelsAreIsolated(t *testing.T) {
	bus := localbus.New()
	ctx := context.Background()

	calls := 0
	_, err := bus.Subscribe(ctx, "doc:1", func([]byte) { calls++ })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "doc:2", []byte("hello")))
	assert.Equal(t, 0, calls)
}
