// Package broker defines the instrumented message-broker collaborator
// contract §6 of the system asks for, plus a Kafka-backed implementation
// built on the teacher's own stack (github.com/IBM/sarama,
// github.com/xdg-go/scram for SASL/SCRAM authentication). The contract
// is deliberately adapter-shaped, mirroring pkg/sinklog.AdapterSink: a
// caller that wants a different broker implements BrokerAdapter without
// touching this package.
package broker

import "context"

// Message is one broker payload, in or out. Ack/Nack are set by the
// adapter that delivered the message (only meaningful on inbound
// messages reaching a Handler); both return immediately and perform
// their acknowledgment asynchronously, matching the fire-and-forget
// posture the rest of this system uses for anything on the hot path.
type Message struct {
	Topic   string
	Payload []byte
	Headers map[string]string

	ack  func()
	nack func(requeue bool)
}

// Ack acknowledges successful processing of the message. A nil Ack
// (e.g. on a message constructed for Publish rather than received via
// Subscribe) is a no-op.
func (m *Message) Ack() {
	if m.ack != nil {
		m.ack()
	}
}

// Nack signals failed processing. If requeue is true the broker
// redelivers the message; otherwise it's dropped (or dead-lettered,
// depending on the broker's own configuration).
func (m *Message) Nack(requeue bool) {
	if m.nack != nil {
		m.nack(requeue)
	}
}

// Handler processes one inbound message. Returning an error is
// equivalent to calling msg.Nack(true); returning nil is equivalent to
// msg.Ack() — adapters call these automatically so a Handler doesn't
// have to.
type Handler func(ctx context.Context, msg *Message) error

// BrokerAdapter is the collaborator contract every broker
// implementation satisfies.
type BrokerAdapter interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Publish(ctx context.Context, topic string, msg *Message) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
}

// CorrelationHeader is the Kafka message header carrying the current
// logctx frame's correlation id across the publish/subscribe boundary.
const CorrelationHeader = "x-correlation-id"

// TransactionHeader is the Kafka message header carrying the current
// logctx frame's transaction id.
const TransactionHeader = "x-transaction-id"
