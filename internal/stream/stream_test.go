package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetra.io/internal/auth"
)

func TestPublishReachesOnlyMatchingEquipment(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pump := h.Subscribe(ctx, 1)
	press := h.Subscribe(ctx, 2)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	evt := NewReadingEvent(1, []auth.SensorReading{{EquipmentID: 1, Timestamp: ts, Value: 4.2}})
	require.Equal(t, []Reading{{Timestamp: ts, Value: 4.2}}, evt.Readings)
	assert.Equal(t, 1, h.Publish(evt))

	select {
	case got := <-pump:
		assert.Equal(t, evt, got)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
	select {
	case got := <-press:
		t.Fatalf("unexpected event for other equipment: %+v", got)
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = h.Subscribe(ctx, 7)

	for i := 0; i < subscriberBuffer; i++ {
		require.Equal(t, 1, h.Publish(ReadingEvent{EquipmentID: 7}))
	}
	assert.Equal(t, 0, h.Publish(ReadingEvent{EquipmentID: 7}))
	assert.Equal(t, int64(1), h.Dropped())
}

func TestCancelUnsubscribesAndClosesChannel(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx, 3)
	require.Equal(t, 1, h.Subscribers())

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel must be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Eventually(t, func() bool { return h.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.Publish(ReadingEvent{EquipmentID: 3}))
}
