package ingest

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler processes one inbound MQTT message.
type MessageHandler func(topic string, payload []byte) error

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// MQTTClient wraps the paho client for the vehicle bus: vehicle telemetry
// in, cabin alarms out.
type MQTTClient struct {
	client mqtt.Client
	logger *zap.Logger
}

// NewMQTTClient connects to the broker. The connection auto-reconnects;
// subscriptions are re-established by paho on reconnect.
func NewMQTTClient(cfg MQTTConfig, logger *zap.Logger) (*MQTTClient, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.Info("connected to MQTT broker", zap.String("broker", cfg.Broker))
	return &MQTTClient{client: client, logger: logger}, nil
}

// Subscribe registers a handler for a topic.
func (c *MQTTClient) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if token := c.client.Subscribe(topic, qos, func(client mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Error("failed to handle MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err))
		}
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Publish sends a message and waits for broker acknowledgement.
func (c *MQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Disconnect closes the broker connection.
func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(250)
}

// IsConnected reports connection status.
func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnected()
}
