//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"feed_relay/internal/domain"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) TestPublisher_Connection() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange",
		RoutingKey: "test-routing-key",
		QueueName:  "test-queue",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.NoError(err)
	s.NotNil(pub)

	err = pub.Close()
	s.NoError(err)
}

func (s *RabbitMQIntegrationSuite) testEvent(status domain.DeliveryStatus) domain.DeliveryEvent {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.DeliveryEvent{
		FeedID:      "feed-1",
		FeedName:    "Blog",
		Destination: "https://hooks.example.com/a",
		Article: domain.Article{
			Key:         "post-1",
			Title:       "Hello",
			Link:        "https://example.com/post/1",
			Summary:     "Body",
			PublishedAt: now.Add(-time.Hour),
		},
		Status:    status,
		Timestamp: now,
	}
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishEvent() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-event",
		RoutingKey: "test-routing-key-event",
		QueueName:  "test-queue-event",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, s.testEvent(domain.DeliverySuccess))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal("application/json", msg.ContentType)
	s.Equal("delivery", msg.Type)
	s.NotEmpty(msg.MessageId)

	var received domain.DeliveryEvent
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal("feed-1", received.FeedID)
	s.Equal("Blog", received.FeedName)
	s.Equal("https://hooks.example.com/a", received.Destination)
	s.Equal("post-1", received.Article.Key)
	s.Equal(domain.DeliverySuccess, received.Status)
	s.False(received.Timestamp.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishFailureStatus() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-failure",
		RoutingKey: "test-routing-key-failure",
		QueueName:  "test-queue-failure",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, s.testEvent(domain.DeliveryError(404)))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	var received domain.DeliveryEvent
	s.NoError(json.Unmarshal(msg.Body, &received))
	s.Equal(domain.DeliveryStatus("Error: 404"), received.Status)
	s.False(received.Status.OK())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_MessagePersistence() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-persist",
		RoutingKey: "test-routing-key-persist",
		QueueName:  "test-queue-persist",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, s.testEvent(domain.DeliveryRateLimited))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_ExchangeOnly() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-only",
		RoutingKey: "test-routing-key-only",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	s.NoError(ch.ExchangeDeclarePassive(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil))

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	s.Require().NoError(err)
	s.Require().NoError(ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil))

	s.NoError(pub.Publish(s.ctx, s.testEvent(domain.DeliverySuccess)))

	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case msg := <-msgs:
		var received domain.DeliveryEvent
		s.NoError(json.Unmarshal(msg.Body, &received))
		s.Equal("post-1", received.Article.Key)
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
	}
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg Config) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msgs, err := ch.Consume(cfg.QueueName, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case msg := <-msgs:
		return &msg
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
		return nil
	}
}