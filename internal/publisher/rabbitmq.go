package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"feed_relay/internal/domain"
)

// RabbitMQ publishes delivery events to a durable direct exchange.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

// Config describes where delivery events go. QueueName is optional: when
// set, a durable queue is declared and bound to the routing key so events
// are kept until a consumer attaches.
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		err = fmt.Errorf("open channel: %w", err)
	} else {
		err = declareTopology(ch, cfg)
		if err != nil {
			ch.Close()
		}
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	logger = logger.With("component", "rabbitmq")
	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"routing_key", cfg.RoutingKey,
		"queue", cfg.QueueName,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

// declareTopology declares the durable direct exchange and, when configured,
// the queue holding events for the routing key.
func declareTopology(ch *amqp.Channel, cfg Config) error {
	const durable, autoDelete, internal, exclusive, noWait = true, false, false, false, false

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, durable, autoDelete, internal, noWait, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	if cfg.QueueName == "" {
		return nil
	}

	if _, err := ch.QueueDeclare(cfg.QueueName, durable, autoDelete, exclusive, noWait, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.QueueName, err)
	}
	if err := ch.QueueBind(cfg.QueueName, cfg.RoutingKey, cfg.Exchange, noWait, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", cfg.QueueName, err)
	}
	return nil
}

// Publish mirrors one dispatch attempt to the delivery exchange.
func (r *RabbitMQ) Publish(ctx context.Context, evt domain.DeliveryEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal delivery event: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    uuid.NewString(),
			Type:         "delivery",
			Body:         body,
			Timestamp:    evt.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("publish delivery event: %w", err)
	}

	r.logger.Debug("published delivery event",
		"feed_id", evt.FeedID,
		"article", evt.Article.Key,
		"status", evt.Status,
	)

	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
