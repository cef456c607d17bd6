package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange lifecycle signals are published to.
const DefaultExchange = "entitle.lifecycle"

// RabbitMQ publishes signals as persistent JSON messages on a topic
// exchange, routed by signal type.
type RabbitMQ struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewRabbitMQ dials url and declares a durable topic exchange. An empty
// exchange falls back to DefaultExchange.
func NewRabbitMQ(url, exchange string, logger *slog.Logger) (*RabbitMQ, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("signal: connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("signal: open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("signal: declare exchange %q: %w", exchange, err)
	}

	logger.Info("rabbitmq signal emitter connected", "exchange", exchange)

	return &RabbitMQ{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Emit publishes s under its routing key.
func (r *RabbitMQ) Emit(ctx context.Context, s Signal) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("signal: encode %s: %w", s.Type, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.channel.PublishWithContext(ctx,
		r.exchange,     // exchange
		s.RoutingKey(), // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    s.ID.String(),
			Type:         string(s.Type),
			Timestamp:    s.FiredAt,
			Body:         payload,
		},
	)
	if err != nil {
		r.logger.Error("failed to publish signal",
			"routing_key", s.RoutingKey(),
			"subscription_id", s.SubscriptionID.String(),
			"error", err,
		)
		return fmt.Errorf("signal: publish %s: %w", s.Type, err)
	}

	r.logger.Debug("signal published",
		"routing_key", s.RoutingKey(),
		"subscription_id", s.SubscriptionID.String(),
		"size", len(payload),
	)
	return nil
}

// Close closes the channel and the connection.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn("error closing rabbitmq channel", "error", err)
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			return err
		}
	}

	r.logger.Info("rabbitmq signal emitter closed")
	return nil
}
