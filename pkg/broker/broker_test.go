package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMessageAckNoopWithoutCallback(t *testing.T) {
	m := &Message{Topic: "t", Payload: []byte("x")}
	assert.NotPanics(t, func() {
		m.Ack()
		m.Nack(true)
	})
}

func TestMessageAckInvokesCallback(t *testing.T) {
	var acked bool
	m := &Message{ack: func() { acked = true }}
	m.Ack()
	assert.True(t, acked, "Ack() did not invoke the registered callback")
}

func TestMessageNackPassesRequeueFlag(t *testing.T) {
	var gotRequeue bool
	m := &Message{nack: func(requeue bool) { gotRequeue = requeue }}
	m.Nack(true)
	assert.True(t, gotRequeue, "Nack(true) should pass requeue=true to the callback")
}

// fakeAdapter is a minimal BrokerAdapter used to confirm the interface
// shape is usable by a caller that isn't the Kafka implementation.
type fakeAdapter struct {
	published []*Message
}

func (f *fakeAdapter) Connect(ctx context.Context) error { return nil }
func (f *fakeAdapter) Disconnect() error                 { return nil }
func (f *fakeAdapter) Subscribe(ctx context.Context, topic string, h Handler) error {
	return nil
}
func (f *fakeAdapter) Publish(ctx context.Context, topic string, msg *Message) error {
	f.published = append(f.published, msg)
	return nil
}

func TestBrokerAdapterInterfaceSatisfiedByFake(t *testing.T) {
	var adapter BrokerAdapter = &fakeAdapter{}
	require.NoError(t, adapter.Connect(context.Background()))
	require.NoError(t, adapter.Publish(context.Background(), "topic", &Message{Payload: []byte("hi")}))
}

func TestHandlerErrorSignalsNack(t *testing.T) {
	called := false
	var h Handler = func(ctx context.Context, msg *Message) error {
		called = true
		return errors.New("boom")
	}
	err := h(context.Background(), &Message{})
	assert.True(t, called)
	assert.Error(t, err)
}
