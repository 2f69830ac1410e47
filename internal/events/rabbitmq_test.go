package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type declared struct {
	name string
	args amqp.Table
}

type fakeChannel struct {
	declared   []declared
	published  []amqp.Publishing
	keys       []string
	declareErr error
	closed     bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	if !durable {
		return amqp.Queue{}, errors.New("expected durable queue")
	}
	f.declared = append(f.declared, declared{name: name, args: args})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected publish deadline")
	}
	f.keys = append(f.keys, exchange+"/"+key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitPublisher_DeclaresTopology(t *testing.T) {
	ch := &fakeChannel{}
	_, err := newRabbitPublisher(ch, "call.finalized")
	require.NoError(t, err)

	require.Len(t, ch.declared, 3)
	assert.Equal(t, "call.finalized.dlq", ch.declared[0].name)
	assert.Equal(t, "call.finalized.retry", ch.declared[1].name)
	assert.Equal(t, "call.finalized", ch.declared[1].args["x-dead-letter-routing-key"])
	assert.Equal(t, "call.finalized", ch.declared[2].name)
	assert.Equal(t, "call.finalized.dlq", ch.declared[2].args["x-dead-letter-routing-key"])
}

func TestRabbitPublisher_DeclareFailureClosesChannel(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}
	_, err := newRabbitPublisher(ch, "call.finalized")
	require.Error(t, err)
	assert.True(t, ch.closed)
}

func TestRabbitPublisher_PublishCallFinalized(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newRabbitPublisher(ch, "call.finalized")
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	next := "Send the quote"
	ev := CallFinalized{CallID: "c-1", Status: "COMPLETED", Summary: "Booked Tuesday.", NextSteps: &next, FinalizedAt: fixed}
	require.NoError(t, p.PublishCallFinalized(context.Background(), ev))

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, "/call.finalized", ch.keys[0])
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
	assert.Equal(t, "c-1", msg.MessageId)
	assert.Equal(t, fixed, msg.Timestamp)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, "c-1", got["call_id"])
	assert.Equal(t, "Send the quote", got["next_steps"])
	assert.NotContains(t, got, "follow_up_by")
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.PublishCallFinalized(context.Background(), CallFinalized{CallID: "c-1"}))
	assert.NoError(t, p.Close())
}
