package broker

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"

	"structlog/pkg/circuit"
	apperrors "structlog/pkg/errors"
	"structlog/pkg/logctx"
	"structlog/pkg/metrics"
	"structlog/pkg/record"
	"structlog/pkg/structlog"
	"structlog/pkg/workerpool"
)

// SASLConfig configures SCRAM/PLAIN authentication against the brokers,
// adapted from the teacher's kafka_sink.go auth block.
type SASLConfig struct {
	Enabled   bool
	Username  string
	Password  string
	Mechanism string // "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"
}

// KafkaConfig configures a KafkaAdapter.
type KafkaConfig struct {
	Brokers []string
	SASL    SASLConfig

	// HandlerConcurrency bounds how many messages a single Subscribe
	// call processes at once. Default 4.
	HandlerConcurrency int

	// DialTimeout bounds connection setup. Default 10s.
	DialTimeout time.Duration

	BreakerConfig circuit.Config

	// FailureCallback, if set, is invoked with the topic, raw payload,
	// and delivery error whenever Sarama reports a publish failure
	// asynchronously (i.e. after Publish has already returned), giving
	// a caller a place to dead-letter the message.
	FailureCallback func(topic string, payload []byte, err error)
}

func (c *KafkaConfig) applyDefaults() {
	if c.HandlerConcurrency <= 0 {
		c.HandlerConcurrency = 4
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.BreakerConfig.Name == "" {
		c.BreakerConfig.Name = "broker.kafka"
	}
}

// KafkaAdapter is a BrokerAdapter backed by github.com/IBM/sarama, with
// SASL/SCRAM authentication via github.com/xdg-go/scram (grounded on the
// teacher's internal/sinks/kafka_sink.go and kafka_scram.go) and publish
// delivery guarded by a pkg/circuit.Breaker the same way the teacher's
// KafkaSink wraps sendBatch.
type KafkaAdapter struct {
	config KafkaConfig
	logger *structlog.Logger

	mu       sync.RWMutex
	client   sarama.Client
	producer sarama.AsyncProducer
	breaker  *circuit.Breaker

	pool *workerpool.Pool

	wg sync.WaitGroup
}

// NewKafkaAdapter constructs a KafkaAdapter. logger may be nil, in which
// case lifecycle events are not logged.
func NewKafkaAdapter(config KafkaConfig, logger *structlog.Logger) *KafkaAdapter {
	config.applyDefaults()
	breaker := circuit.NewBreaker(config.BreakerConfig)
	name := config.BreakerConfig.Name
	breaker.SetStateChangeCallback(func(from, to circuit.State) {
		metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		if logger != nil {
			logger.Warn("broker.circuit.state_change", record.F("from", from.String()), record.F("to", to.String()))
		}
	})
	return &KafkaAdapter{
		config:  config,
		logger:  logger,
		breaker: breaker,
		pool: workerpool.NewPool(workerpool.Config{
			MaxWorkers: config.HandlerConcurrency,
		}, nil),
	}
}

func (a *KafkaAdapter) saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Net.DialTimeout = a.config.DialTimeout
	cfg.Version = sarama.V2_6_0_0

	if a.config.SASL.Enabled {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.User = a.config.SASL.Username
		cfg.Net.SASL.Password = a.config.SASL.Password
		switch strings.ToUpper(a.config.SASL.Mechanism) {
		case "SCRAM-SHA-256":
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: scramSHA256}
			}
		case "SCRAM-SHA-512":
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &xdgSCRAMClient{HashGeneratorFcn: scramSHA512}
			}
		default:
			cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}
	return cfg
}

// Connect establishes the underlying Sarama client and async producer.
func (a *KafkaAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}
	if len(a.config.Brokers) == 0 {
		return apperrors.New(apperrors.CodeNetworkUnavailable, "broker", "Connect", "no brokers configured")
	}

	client, err := sarama.NewClient(a.config.Brokers, a.saramaConfig())
	if err != nil {
		return apperrors.New(apperrors.CodeNetworkUnavailable, "broker", "Connect", "client connect failed").Wrap(err)
	}
	producer, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return apperrors.New(apperrors.CodeNetworkUnavailable, "broker", "Connect", "producer init failed").Wrap(err)
	}
	a.client = client
	a.producer = producer
	a.pool.Start()

	a.wg.Add(1)
	go a.drainProducerResponses()

	if a.logger != nil {
		a.logger.Info("broker.connected", record.F("brokers", a.config.Brokers))
	}
	return nil
}

func (a *KafkaAdapter) drainProducerResponses() {
	defer a.wg.Done()
	for {
		select {
		case success, ok := <-a.producer.Successes():
			if !ok {
				return
			}
			if a.logger != nil {
				a.logger.Trace("broker.publish.delivered", record.F("topic", success.Topic), record.F("partition", success.Partition))
			}
		case err, ok := <-a.producer.Errors():
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			if a.logger != nil {
				a.logger.Error("broker.publish.failed", record.F("topic", err.Msg.Topic), record.F("error", err.Err.Error()))
			}
			if a.config.FailureCallback != nil {
				var payload []byte
				if be, ok := err.Msg.Value.(sarama.ByteEncoder); ok {
					payload = []byte(be)
				}
				a.config.FailureCallback(err.Msg.Topic, payload, err.Err)
			}
		}
	}
}

// Disconnect closes the producer and client.
func (a *KafkaAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	a.pool.Stop()
	var firstErr error
	if err := a.producer.Close(); err != nil {
		firstErr = err
	}
	a.wg.Wait()
	if err := a.client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.client = nil
	a.producer = nil
	if a.logger != nil {
		a.logger.Info("broker.disconnected")
	}
	return firstErr
}

// Publish sends msg to topic, injecting the current logctx frame's
// correlation/transaction id as Kafka message headers and running the
// send through the adapter's circuit breaker.
func (a *KafkaAdapter) Publish(ctx context.Context, topic string, msg *Message) error {
	a.mu.RLock()
	producer := a.producer
	a.mu.RUnlock()
	if producer == nil {
		return apperrors.New(apperrors.CodeNetworkUnavailable, "broker", "Publish", "not connected")
	}

	headers := make([]sarama.RecordHeader, 0, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	if cid := logctx.GetCorrelationID(ctx); cid != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(CorrelationHeader), Value: []byte(cid)})
	}
	if tid := logctx.GetTransactionID(ctx); tid != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(TransactionHeader), Value: []byte(tid)})
	}

	return a.breaker.Execute(func() error {
		select {
		case producer.Input() <- &sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(msg.Payload), Headers: headers}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Subscribe consumes topic via a Sarama consumer group, bounding
// concurrent Handler invocations through a pkg/workerpool.Pool and
// establishing a fresh logctx scope per message seeded from the
// correlation/transaction headers it finds, so downstream logging
// continues the producer's trace.
func (a *KafkaAdapter) Subscribe(ctx context.Context, topic string, handler Handler) error {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("broker: not connected")
	}

	group, err := sarama.NewConsumerGroupFromClient("structlog-consumers", client)
	if err != nil {
		return fmt.Errorf("broker: consumer group: %w", err)
	}

	h := &consumerGroupHandler{adapter: a, handler: handler}
	for {
		if err := group.Consume(ctx, []string{topic}, h); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type consumerGroupHandler struct {
	adapter *KafkaAdapter
	handler Handler
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		m := msg
		task := workerpool.Task{
			ID: fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset),
			Execute: func(taskCtx context.Context) error {
				return h.dispatch(sess, m)
			},
		}
		if err := h.adapter.pool.Submit(task); err == workerpool.ErrQueueFull {
			// Backpressure: process inline rather than dropping the message.
			h.dispatch(sess, m)
		}
	}
	return nil
}

func (h *consumerGroupHandler) dispatch(sess sarama.ConsumerGroupSession, m *sarama.ConsumerMessage) error {
	headers := map[string]string{}
	for _, rh := range m.Headers {
		headers[string(rh.Key)] = string(rh.Value)
	}

	ctx := sess.Context()
	initial := map[string]any{}
	if cid := headers[CorrelationHeader]; cid != "" {
		initial[logctx.KeyCorrelationID] = cid
	}
	if tid := headers[TransactionHeader]; tid != "" {
		initial[logctx.KeyTransactionID] = tid
	}

	var handlerErr error
	logctx.RunScoped(ctx, initial, func(scoped context.Context) {
		message := &Message{Topic: m.Topic, Payload: m.Value, Headers: headers}
		message.ack = func() { sess.MarkMessage(m, "") }
		message.nack = func(requeue bool) {
			if !requeue {
				sess.MarkMessage(m, "")
			}
		}
		if err := h.handler(scoped, message); err != nil {
			handlerErr = err
			message.Nack(true)
			return
		}
		message.Ack()
	})
	return handlerErr
}

var (
	scramSHA256 scram.HashGeneratorFcn = sha256.New
	scramSHA512 scram.HashGeneratorFcn = sha512.New
)

// xdgSCRAMClient adapts github.com/xdg-go/scram to sarama.SCRAMClient,
// carried over verbatim from the teacher's kafka_scram.go — the
// glue code has no domain-specific content to adapt.
type xdgSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *xdgSCRAMClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

func (x *xdgSCRAMClient) Step(challenge string) (response string, err error) {
	return x.ClientConversation.Step(challenge)
}

func (x *xdgSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}
