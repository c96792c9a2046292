package services

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"atmos/config"
)

// AMQPConsumer consumes raw sensor payloads from a RabbitMQ queue. It exists
// for brokers that bridge MQTT into AMQP; the queue is bound both to the
// configured exchange and to amq.topic so MQTT-originated messages land in it.
type AMQPConsumer struct {
	config    *config.Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *zap.Logger
	handler   func(payload []byte)
	reconnect chan bool
	isClosing bool
}

// NewAMQPConsumer connects, declares the topology, and returns the consumer.
// Call Consume to start delivering payloads to the handler.
func NewAMQPConsumer(cfg *config.Config, logger *zap.Logger, handler func([]byte)) (*AMQPConsumer, error) {
	c := &AMQPConsumer{
		config:    cfg,
		logger:    logger,
		handler:   handler,
		reconnect: make(chan bool),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	// One watcher for the consumer's lifetime; it re-reads c.conn on every
	// iteration, so reconnects never need a second one.
	go c.handleReconnect()

	return c, nil
}

func (c *AMQPConsumer) connect() error {
	var err error

	c.logger.Info("Connecting to RabbitMQ", zap.String("url", c.config.RabbitMQURL))

	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		c.conn, err = amqp.Dial(c.config.RabbitMQURL)
		if err == nil {
			break
		}

		c.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	c.logger.Info("Connected to RabbitMQ successfully")

	c.channel, err = c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err = c.channel.Qos(10, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	err = c.channel.ExchangeDeclare(
		c.config.RabbitMQExchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := c.channel.QueueDeclare(
		c.config.RabbitMQQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		queue.Name,
		c.config.RabbitMQQueue,
		c.config.RabbitMQExchange,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	// MQTT plugin publishes through amq.topic; the routing key is the MQTT
	// topic with slashes replaced by dots.
	err = c.channel.QueueBind(
		queue.Name,
		c.config.RabbitMQRoutingKey,
		"amq.topic",
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue to MQTT exchange: %w", err)
	}

	c.logger.Info("Queue bound",
		zap.String("queue", queue.Name),
		zap.String("exchange", c.config.RabbitMQExchange),
		zap.String("mqtt_routing_key", c.config.RabbitMQRoutingKey))

	return nil
}

func (c *AMQPConsumer) handleReconnect() {
	for {
		closeErr := <-c.conn.NotifyClose(make(chan *amqp.Error))
		if c.isClosing {
			c.logger.Info("RabbitMQ connection closed gracefully")
			return
		}

		c.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

		for {
			c.logger.Info("Attempting to reconnect to RabbitMQ...")
			if err := c.connect(); err == nil {
				c.logger.Info("Successfully reconnected to RabbitMQ")
				c.reconnect <- true
				break
			} else {
				c.logger.Error("Failed to reconnect", zap.Error(err))
				time.Sleep(5 * time.Second)
			}
		}
	}
}

// Consume blocks delivering payloads to the handler until ctx is cancelled.
// Deliveries are acked after the handler returns; the handler owns all
// decode errors, so nothing is requeued.
func (c *AMQPConsumer) Consume(ctx context.Context) error {
	for {
		msgs, err := c.channel.Consume(
			c.config.RabbitMQQueue,
			"atmos", // consumer tag
			false,   // manual ack
			false,   // exclusive
			false,   // no-local
			false,   // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to register consumer: %w", err)
		}

		c.logger.Info("Started consuming messages from RabbitMQ",
			zap.String("queue", c.config.RabbitMQQueue))

	consumeLoop:
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Stopping RabbitMQ consumer")
				return nil

			case <-c.reconnect:
				c.logger.Info("Reconnection detected, restarting consumer")
				break consumeLoop

			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("Message channel closed")
					time.Sleep(1 * time.Second)
					break consumeLoop
				}

				c.logger.Debug("Received AMQP message",
					zap.String("routing_key", msg.RoutingKey),
					zap.Int("bytes", len(msg.Body)))
				c.handler(msg.Body)
				msg.Ack(false)
			}
		}
	}
}

// IsConnected reports the broker connection state for the health endpoint.
func (c *AMQPConsumer) IsConnected() bool {
	return c.conn != nil && !c.conn.IsClosed()
}

// Close gracefully closes the channel and connection.
func (c *AMQPConsumer) Close() error {
	c.isClosing = true

	c.logger.Info("Closing RabbitMQ connection")

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	return nil
}
