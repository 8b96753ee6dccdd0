// Package mqttbus provides the MQTT connection shared by the fence engine
// and the recorder, with subscription tracking that survives reconnects.
package mqttbus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler receives the raw payload of a message on a subscribed topic.
type Handler func(topic string, payload []byte)

// Config configures the broker connection.
type Config struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string

	// OnConnect fires on every successful CONNACK, including reconnects.
	OnConnect func()
}

type subscription struct {
	qos     byte
	handler Handler
}

// Client wraps a paho MQTT client with logging and automatic resubscription.
type Client struct {
	conn   mqtt.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]subscription
}

// Connect dials the broker and blocks until the first CONNACK or a connect
// failure. The client auto-reconnects afterwards and restores every
// registered subscription on each reconnect.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	c := &Client{
		logger: logger.With("component", "mqtt"),
		subs:   make(map[string]subscription),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(conn mqtt.Client) {
		c.logger.Info("Connected to MQTT broker", "host", cfg.Host, "port", cfg.Port)
		c.resubscribe()
		if cfg.OnConnect != nil {
			cfg.OnConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("MQTT connection lost, client will auto-reconnect", "error", err)
	})

	c.conn = mqtt.NewClient(opts)
	token := c.conn.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s:%d", cfg.Host, cfg.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return c, nil
}

// Subscribe registers a handler for a topic filter. The subscription is
// re-established automatically after a reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler Handler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.conn.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	c.logger.Info("Subscribed to MQTT topic", "topic", topic, "qos", qos)
	return nil
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	c.mu.Unlock()

	for topic, sub := range subs {
		handler := sub.handler
		token := c.conn.Subscribe(topic, sub.qos, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Topic(), msg.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Error("Failed to restore subscription", "topic", topic, "error", err)
		}
	}
}

// Publish sends a payload to a topic without retention.
func (c *Client) Publish(topic string, qos byte, payload []byte) error {
	token := c.conn.Publish(topic, qos, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Disconnect flushes in-flight messages and closes the connection.
func (c *Client) Disconnect() {
	c.conn.Disconnect(250)
	c.logger.Info("Disconnected from MQTT broker")
}
