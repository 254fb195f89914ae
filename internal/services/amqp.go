package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// BookingExchange is the topic exchange booking events are published to.
const BookingExchange = "booking_topic"

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes booking events to RabbitMQ for downstream
// consumers. Routing keys mirror topics with dots: "driver.12".
type AMQPPublisher struct {
	conn *amqp.Connection
	ch   amqpChannel
	mu   sync.Mutex
	log  logrus.FieldLogger
}

// NewAMQPPublisher dials url and declares the booking exchange.
func NewAMQPPublisher(url string, log logrus.FieldLogger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		BookingExchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s: %w", BookingExchange, err)
	}

	log.WithField("exchange", BookingExchange).Info("Connected to RabbitMQ")
	return &AMQPPublisher{conn: conn, ch: ch, log: log}, nil
}

// RoutingKey converts "driver:12" into "driver.12".
func RoutingKey(topic string) string {
	return strings.ReplaceAll(topic, ":", ".")
}

func (p *AMQPPublisher) Publish(ctx context.Context, topic string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(
		publishCtx,
		BookingExchange,
		RoutingKey(topic),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    event.ID,
			Type:         string(event.Type),
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.CreatedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", BookingExchange, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.log.WithError(err).Warn("Closing RabbitMQ channel failed")
	}
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
