package events_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-pipeline/internal/events"
)

func TestMemoryBusDeliversToSubscribers(t *testing.T) {
	bus := events.NewMemoryBus(zerolog.Nop())
	var got []string

	require.NoError(t, bus.Subscribe("ORDER_PLACED", func(ctx context.Context, evt events.Event) error {
		got = append(got, "first:"+evt.Payload["order_number"].(string))
		return nil
	}))
	require.NoError(t, bus.Subscribe("ORDER_PLACED", func(ctx context.Context, evt events.Event) error {
		got = append(got, "second")
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), events.New("ORDER_PLACED", map[string]any{"order_number": "X1"})))
	assert.Equal(t, []string{"first:X1", "second"}, got)

	assert.NoError(t, bus.Publish(context.Background(), events.New("UNHANDLED", nil)), "events without subscribers are dropped")
}

func TestMemoryBusReportsHandlerFailures(t *testing.T) {
	bus := events.NewMemoryBus(zerolog.Nop())
	boom := errors.New("boom")
	require.NoError(t, bus.Subscribe("PAYMENT_FAILED", func(ctx context.Context, evt events.Event) error { return boom }))
	require.NoError(t, bus.Subscribe("PAYMENT_FAILED", func(ctx context.Context, evt events.Event) error { panic("bad handler") }))

	err := bus.Publish(context.Background(), events.New("PAYMENT_FAILED", nil))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad handler")
}

func TestMemoryBusClose(t *testing.T) {
	bus := events.NewMemoryBus(zerolog.Nop())
	assert.Error(t, bus.Publish(context.Background(), events.Event{}), "unnamed events are rejected")

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), events.New("ORDER_PLACED", nil)), events.ErrClosed)
	assert.ErrorIs(t, bus.Subscribe("ORDER_PLACED", func(context.Context, events.Event) error { return nil }), events.ErrClosed)
}
