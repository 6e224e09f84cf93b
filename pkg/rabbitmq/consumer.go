/**
 * @description
 * Topic consumer for control events addressed to this service, such as session
 * revocations sent by the back office. Each routing key maps to a Handler.
 *
 * Delivery rules:
 * - A handler returning true acknowledges the message.
 * - A handler returning false gets exactly one redelivery. A second failure rejects the
 *   message without requeue, so it lands on the queue's dead-letter exchange (when one
 *   is configured) instead of spinning the consumer.
 * - Messages with no handler are acknowledged and dropped.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"fmt"
	"log"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery body. Returning false reports a failure that may
// succeed on redelivery.
type Handler func(body []byte) bool

// QueueOptions tunes the durable queue a Consumer declares.
type QueueOptions struct {
	// Prefetch bounds unacknowledged deliveries in flight; zero keeps the broker default.
	Prefetch int
	// DeadLetterExchange receives messages rejected after their redelivery failed.
	// Empty means they are discarded.
	DeadLetterExchange string
	// MessageTTL expires messages nobody consumed; zero keeps them until consumed.
	MessageTTL time.Duration
}

func (o QueueOptions) arguments() amqp.Table {
	args := amqp.Table{}
	if dlx := strings.TrimSpace(o.DeadLetterExchange); dlx != "" {
		args["x-dead-letter-exchange"] = dlx
	}
	if o.MessageTTL > 0 {
		args["x-message-ttl"] = o.MessageTTL.Milliseconds()
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// Consumer binds a durable queue to routing keys on a topic exchange.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings declares the exchange and queue, binds every routing key that
// has a handler, and dispatches deliveries on a background goroutine.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, opts QueueOptions, bindings map[string]Handler) error {
	handlers := make(map[string]Handler, len(bindings))
	for routingKey, handler := range bindings {
		if handler != nil {
			handlers[routingKey] = handler
		}
	}
	if len(handlers) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, opts.arguments())
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}

	for routingKey := range handlers {
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", routingKey, q.Name, err)
		}
	}

	if opts.Prefetch > 0 {
		if err := c.ch.Qos(opts.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	log.Printf("level=info component=rabbitmq_consumer msg=\"consuming\" exchange=%s queue=%s routing_keys=%d prefetch=%d dead_letter_exchange=%q", exchange, q.Name, len(handlers), opts.Prefetch, opts.DeadLetterExchange)
	go func() {
		for d := range msgs {
			dispatch(handlers, d)
		}
		log.Printf("level=warn component=rabbitmq_consumer msg=\"delivery channel closed\" queue=%s", q.Name)
	}()

	return nil
}

type deliveryOutcome string

const (
	outcomeAcked    deliveryOutcome = "acked"
	outcomeRequeued deliveryOutcome = "requeued"
	outcomeRejected deliveryOutcome = "rejected"
	outcomeUnrouted deliveryOutcome = "unrouted"
)

func dispatch(handlers map[string]Handler, d amqp.Delivery) deliveryOutcome {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler; dropping\" routing_key=%s message_id=%s", d.RoutingKey, d.MessageId)
		ackOrLog(d, d.Ack(false))
		return outcomeUnrouted
	}

	if handler(d.Body) {
		ackOrLog(d, d.Ack(false))
		return outcomeAcked
	}

	if d.Redelivered {
		log.Printf("level=error component=rabbitmq_consumer msg=\"handler failed on redelivery; rejecting\" routing_key=%s message_id=%s delivery_tag=%d body_bytes=%d", d.RoutingKey, d.MessageId, d.DeliveryTag, len(d.Body))
		ackOrLog(d, d.Nack(false, false))
		return outcomeRejected
	}
	log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; re-queuing once\" routing_key=%s message_id=%s delivery_tag=%d", d.RoutingKey, d.MessageId, d.DeliveryTag)
	ackOrLog(d, d.Nack(false, true))
	return outcomeRequeued
}

func ackOrLog(d amqp.Delivery, err error) {
	if err != nil {
		log.Printf("level=error component=rabbitmq_consumer msg=\"acknowledgement failed\" routing_key=%s delivery_tag=%d err=%v", d.RoutingKey, d.DeliveryTag, err)
	}
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
