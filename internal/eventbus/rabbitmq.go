package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/drluca/orderflow/internal/events"
)

const (
	publishTimeout = 5 * time.Second
	reconnectDelay = 5 * time.Second
)

// RabbitMQConfig carries the broker settings a manager needs. All saga events
// flow through a single topic exchange; queues are named after consumer groups.
type RabbitMQConfig struct {
	URL           string
	Exchange      string
	ExchangeType  string
	PrefetchCount int
	ConsumerTag   string
}

type subscription struct {
	group   string
	types   []events.Type
	handler Handler
}

// RabbitMQManager owns the connection, a confirm-mode producer channel and one
// consumer channel per subscription. It reconnects with backoff when the
// broker drops the connection and re-establishes all subscriptions. stateMu
// guards the connection state shared between Publish, Subscribe and the
// reconnect goroutine; publishMu keeps one publish in flight at a time because
// the confirm channel carries acks in publish order.
type RabbitMQManager struct {
	config          RabbitMQConfig
	stateMu         sync.RWMutex
	connection      *amqp.Connection
	producerChan    *amqp.Channel
	notifyConnClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	isReady         bool
	publishMu       sync.Mutex
	connectMutex    chan struct{}
	subscriptions   []subscription
	done            chan struct{}
}

func NewRabbitMQManager(cfg RabbitMQConfig) (*RabbitMQManager, error) {
	if cfg.ExchangeType == "" {
		cfg.ExchangeType = "topic"
	}
	rmq := &RabbitMQManager{
		config:       cfg,
		connectMutex: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	rmq.connectMutex <- struct{}{}

	if err := rmq.connect(); err != nil {
		go rmq.handleReconnect()
		return nil, fmt.Errorf("initial RabbitMQ connection failed: %w. Will attempt to reconnect", err)
	}
	go rmq.handleReconnect()
	return rmq, nil
}

func (rmq *RabbitMQManager) connect() error {
	<-rmq.connectMutex
	defer func() { rmq.connectMutex <- struct{}{} }()

	log.Info().Str("url", rmq.config.URL).Msg("Attempting to connect to RabbitMQ")
	conn, err := amqp.Dial(rmq.config.URL)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	notifyClose := make(chan *amqp.Error)
	conn.NotifyClose(notifyClose)

	rmq.stateMu.Lock()
	rmq.connection = conn
	rmq.notifyConnClose = notifyClose
	rmq.stateMu.Unlock()

	if err := rmq.setupProducerChannel(); err != nil {
		return fmt.Errorf("failed to setup producer channel: %w", err)
	}

	rmq.stateMu.RLock()
	subs := make([]subscription, len(rmq.subscriptions))
	copy(subs, rmq.subscriptions)
	rmq.stateMu.RUnlock()
	for _, sub := range subs {
		if err := rmq.startConsumer(context.Background(), sub); err != nil {
			return fmt.Errorf("failed to restore subscription for group %s: %w", sub.group, err)
		}
	}

	rmq.stateMu.Lock()
	rmq.isReady = true
	rmq.stateMu.Unlock()
	log.Info().Msg("RabbitMQ connected and channels initialized successfully")
	return nil
}

func (rmq *RabbitMQManager) setupProducerChannel() error {
	ch, err := rmq.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open producer channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("producer channel could not be put into confirm mode: %w", err)
	}
	confirms := make(chan amqp.Confirmation, 1)
	ch.NotifyPublish(confirms)

	log.Info().Str("exchange", rmq.config.Exchange).Str("type", rmq.config.ExchangeType).Msg("Declaring event exchange")
	err = ch.ExchangeDeclare(
		rmq.config.Exchange,
		rmq.config.ExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", rmq.config.Exchange, err)
	}

	rmq.stateMu.Lock()
	rmq.producerChan = ch
	rmq.notifyConfirm = confirms
	rmq.stateMu.Unlock()
	return nil
}

// Publish hands the envelope to the broker and waits for the publisher
// confirm. It returns ErrTransport-wrapped errors so callers can decide on
// retry policy; the envelope itself is never mutated. Publishes are
// serialized: an interleaved publish would consume another's confirmation.
func (rmq *RabbitMQManager) Publish(ctx context.Context, env events.Envelope) error {
	rmq.publishMu.Lock()
	defer rmq.publishMu.Unlock()

	rmq.stateMu.RLock()
	ready := rmq.isReady
	producer := rmq.producerChan
	confirms := rmq.notifyConfirm
	rmq.stateMu.RUnlock()
	if !ready {
		return fmt.Errorf("%w: producer not ready", ErrTransport)
	}

	body, err := env.Encode()
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	err = producer.Publish(
		rmq.config.Exchange,
		env.EventType.RoutingKey(),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.EventID,
			Body:         body,
			Timestamp:    env.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("%w: publish failed: %v", ErrTransport, err)
	}

	select {
	case confirm := <-confirms:
		if confirm.Ack {
			log.Debug().Str("eventId", env.EventID).Str("eventType", string(env.EventType)).Msg("Event published and confirmed")
			return nil
		}
		return fmt.Errorf("%w: message published but not confirmed", ErrTransport)
	case <-time.After(publishTimeout):
		return fmt.Errorf("%w: publish confirmation timeout", ErrTransport)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
	}
}

// Subscribe declares a durable queue named after the consumer group, binds it
// to the routing keys of the requested event types and starts consuming with
// manual acks. A handler error requeues the delivery unless it is permanent,
// in which case the message is nacked to the dead-letter path.
func (rmq *RabbitMQManager) Subscribe(ctx context.Context, group string, types []events.Type, handler Handler) error {
	rmq.stateMu.Lock()
	if !rmq.isReady {
		rmq.stateMu.Unlock()
		return fmt.Errorf("%w: consumer not ready", ErrTransport)
	}
	sub := subscription{group: group, types: types, handler: handler}
	rmq.subscriptions = append(rmq.subscriptions, sub)
	rmq.stateMu.Unlock()
	return rmq.startConsumer(ctx, sub)
}

func (rmq *RabbitMQManager) startConsumer(ctx context.Context, sub subscription) error {
	rmq.stateMu.RLock()
	conn := rmq.connection
	rmq.stateMu.RUnlock()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}

	if err := ch.Qos(rmq.config.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	err = ch.ExchangeDeclare(rmq.config.Exchange, rmq.config.ExchangeType, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(sub.group, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", sub.group, err)
	}

	for _, t := range sub.types {
		if err := ch.QueueBind(sub.group, t.RoutingKey(), rmq.config.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s: %w", sub.group, t.RoutingKey(), err)
		}
	}

	msgs, err := ch.Consume(
		sub.group,
		rmq.config.ConsumerTag,
		false, // auto-ack false
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for delivery := range msgs {
			env, err := events.Decode(delivery.Body)
			if err != nil {
				log.Error().Err(err).Str("messageId", delivery.MessageId).Msg("Failed to decode envelope, rejecting to DLQ")
				_ = delivery.Nack(false, false)
				continue
			}

			if err := sub.handler(ctx, env); err != nil {
				if errors.Is(err, ErrPermanentFailure) {
					log.Error().Err(err).Str("eventId", env.EventID).Msg("Permanent failure, rejecting to DLQ")
					_ = delivery.Nack(false, false)
				} else {
					log.Warn().Err(err).Str("eventId", env.EventID).Msg("Handler failed, requeueing delivery")
					_ = delivery.Nack(false, true)
				}
				continue
			}
			_ = delivery.Ack(false)
		}
		log.Warn().Str("group", sub.group).Msg("Delivery channel closed. Consumer stopping.")
	}()

	log.Info().Str("queue", sub.group).Msg("Consumer started.")
	return nil
}

func (rmq *RabbitMQManager) handleReconnect() {
	for {
		rmq.stateMu.RLock()
		notifyClose := rmq.notifyConnClose
		rmq.stateMu.RUnlock()
		select {
		case <-rmq.done:
			return
		case amqpErr := <-notifyClose:
			if amqpErr == nil {
				return
			}
			rmq.stateMu.Lock()
			rmq.isReady = false
			rmq.stateMu.Unlock()
			log.Warn().Err(amqpErr).Msg("RabbitMQ connection lost, reconnecting")
			for {
				time.Sleep(reconnectDelay)
				if err := rmq.connect(); err != nil {
					log.Error().Err(err).Msg("Reconnect attempt failed")
					continue
				}
				break
			}
		}
	}
}

func (rmq *RabbitMQManager) Close() {
	close(rmq.done)
	rmq.stateMu.RLock()
	conn := rmq.connection
	rmq.stateMu.RUnlock()
	if conn != nil && !conn.IsClosed() {
		conn.Close()
	}
}
