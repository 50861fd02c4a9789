package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkpeek-guard/config"
)

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	err       error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func newTestPublisher(ch *fakeChannel) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		ch:        ch,
		queueName: "parking_session_events",
		cb:        config.NewCircuitBreaker("test", time.Hour),
	}
}

func TestRabbitMQPublisher_PublishSession(t *testing.T) {
	ch := &fakeChannel{}
	p := newTestPublisher(ch)
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	err := p.PublishSession(context.Background(), SessionEvent{
		Type: TypeClockIn, SessionID: 7, UserID: "u-1", VehicleID: 3, Location: "Rizal", Occupancy: 11, Capacity: 50, At: at,
	})
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	assert.Equal(t, "parking_session_events", ch.keys[0])
	msg := ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, TypeClockIn, msg.Type)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "u-1", decoded["user_id"])
	assert.Equal(t, "Rizal", decoded["location"])
	assert.EqualValues(t, 7, decoded["session_id"])
}

func TestRabbitMQPublisher_BreakerOpens(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := newTestPublisher(ch)

	for i := 0; i < 3; i++ {
		assert.Error(t, p.PublishSession(context.Background(), SessionEvent{Type: TypeClockOut}))
	}
	err := p.PublishSession(context.Background(), SessionEvent{Type: TypeClockOut})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestRabbitMQPublisher_ExpiredContext(t *testing.T) {
	p := newTestPublisher(&fakeChannel{})
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	assert.ErrorIs(t, p.PublishSession(ctx, SessionEvent{}), context.DeadlineExceeded)
}
