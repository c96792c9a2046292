package services

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"atmos/config"
)

// MQTTConsumer subscribes to the sensor topic and hands every raw payload to
// the handler. The handler is expected to be fail-soft; errors and panics
// never reach the paho client loop.
type MQTTConsumer struct {
	client  mqtt.Client
	config  *config.Config
	logger  *zap.Logger
	handler func(payload []byte)
}

// NewMQTTConsumer connects to the broker and subscribes. The subscription is
// re-established from the OnConnect hook so it survives reconnects.
func NewMQTTConsumer(cfg *config.Config, logger *zap.Logger, handler func([]byte)) (*MQTTConsumer, error) {
	c := &MQTTConsumer{
		config:  cfg,
		logger:  logger,
		handler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.MQTTBroker))
	opts.SetClientID(fmt.Sprintf("atmos-%s", uuid.NewString()[:8]))
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker",
			zap.String("broker", cfg.MQTTBroker))
		c.subscribe(client)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return c, nil
}

func (c *MQTTConsumer) subscribe(client mqtt.Client) {
	token := client.Subscribe(c.config.MQTTTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		c.logger.Debug("Received MQTT message",
			zap.String("topic", msg.Topic()),
			zap.Int("bytes", len(msg.Payload())))
		c.handler(msg.Payload())
	})

	if token.Wait() && token.Error() != nil {
		c.logger.Error("Failed to subscribe to sensor topic",
			zap.String("topic", c.config.MQTTTopic),
			zap.Error(token.Error()))
		return
	}
	c.logger.Info("Subscribed to sensor topic", zap.String("topic", c.config.MQTTTopic))
}

// IsConnected reports the broker connection state for the health endpoint.
func (c *MQTTConsumer) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker, allowing in-flight work to finish.
func (c *MQTTConsumer) Close() {
	c.client.Disconnect(250)
	c.logger.Info("MQTT client disconnected")
}
