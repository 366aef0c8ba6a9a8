package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEnvelope(t *testing.T, sub Subscription) *Envelope {
	t.Helper()
	select {
	case env := <-sub.C():
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func TestMemory_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer func() { _ = m.Close() }()

	sub1, err := m.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	sub2, err := m.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	other, err := m.Subscribe(ctx, "room-2")
	require.NoError(t, err)

	env := &Envelope{
		Origin:  "proc-1",
		RoomID:  "room-1",
		Kind:    KindOps,
		Payload: json.RawMessage(`{"x":1}`),
	}
	require.NoError(t, m.Publish(ctx, "room-1", env))

	assert.Equal(t, env, recvEnvelope(t, sub1))
	assert.Equal(t, env, recvEnvelope(t, sub2))

	select {
	case <-other.C():
		t.Fatal("envelope leaked into another room")
	default:
	}
}

func TestMemory_SubscriptionClose(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer func() { _ = m.Close() }()

	sub, err := m.Subscribe(ctx, "room-1")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	_, ok := <-sub.C()
	assert.False(t, ok, "channel is closed with the subscription")

	// Публикация после отписки не паникует и никуда не доставляется.
	require.NoError(t, m.Publish(ctx, "room-1", &Envelope{RoomID: "room-1"}))

	// Повторный Close безопасен.
	require.NoError(t, sub.Close())
}

func TestMemory_Close(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sub, err := m.Subscribe(ctx, "room-1")
	require.NoError(t, err)

	require.NoError(t, m.Close())

	_, ok := <-sub.C()
	assert.False(t, ok)

	err = m.Publish(ctx, "room-1", &Envelope{RoomID: "room-1"})
	assert.ErrorIs(t, err, ErrBusClosed)

	_, err = m.Subscribe(ctx, "room-1")
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestMemory_SlowSubscriberDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	defer func() { _ = m.Close() }()

	sub, err := m.Subscribe(ctx, "room-1")
	require.NoError(t, err)

	// Переполняем буфер подписчика: публикация не блокируется.
	for i := 0; i < 200; i++ {
		require.NoError(t, m.Publish(ctx, "room-1", &Envelope{RoomID: "room-1", Kind: KindOps}))
	}

	received := 0
	for {
		select {
		case <-sub.C():
			received++
			continue
		default:
		}
		break
	}
	assert.Greater(t, received, 0)
	assert.Less(t, received, 200, "overflow envelopes are dropped")
}
