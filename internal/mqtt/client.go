// Package mqtt publishes inference run notifications to an MQTT broker.
package mqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/irdetect/autoannotate/internal/conf"
	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
	"github.com/irdetect/autoannotate/internal/observability/metrics"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultPublishTimeout = 10 * time.Second
	disconnectQuiesceMs   = 250
)

// Client is the subset of broker operations the publisher needs.
type Client interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
	Disconnect()
}

// Config holds the broker connection parameters.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// ConfigFromSettings builds a client config from application settings.
func ConfigFromSettings(s conf.MQTTSettings) Config {
	return Config{
		Broker:         s.Broker,
		ClientID:       s.ClientID,
		Username:       s.Username,
		Password:       s.Password,
		ConnectTimeout: defaultConnectTimeout,
		PublishTimeout: defaultPublishTimeout,
	}
}

type client struct {
	config   Config
	mu       sync.Mutex
	internal paho.Client
	metrics  *metrics.MQTTMetrics
	log      logger.Logger
}

// NewClient returns a paho backed client. m may be nil.
func NewClient(cfg Config, m *metrics.MQTTMetrics, log logger.Logger) (Client, error) {
	if cfg.Broker == "" {
		return nil, mqttError(fmt.Errorf("no broker configured"), errors.CategoryConfiguration, "new_client")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if log == nil {
		log = logger.Global().Module("mqtt")
	}
	return &client{config: cfg, metrics: m, log: log}, nil
}

func mqttError(err error, category errors.ErrorCategory, operation string) error {
	return errors.New(err).
		Component("mqtt").
		Category(category).
		Context("operation", operation).
		Build()
}

// Connect resolves the broker host and connects. paho reconnects on its own
// after a successful first connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return mqttError(fmt.Errorf("invalid broker URL: %w", err), errors.CategoryConfiguration, "connect")
	}

	host := u.Hostname()
	if host != "" && net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return mqttError(fmt.Errorf("failed to resolve hostname %s: %w", host, err), errors.CategoryMQTTConnection, "connect")
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internal = paho.NewClient(opts)

	token := c.internal.Connect()
	if !waitToken(ctx, token, c.config.ConnectTimeout) {
		return mqttError(fmt.Errorf("connection timeout"), errors.CategoryMQTTConnection, "connect")
	}
	if err := token.Error(); err != nil {
		return mqttError(fmt.Errorf("connection error: %w", err), errors.CategoryMQTTConnection, "connect")
	}

	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
	return nil
}

// Publish sends payload with QoS 0.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected() {
		return mqttError(fmt.Errorf("not connected to MQTT broker"), errors.CategoryMQTTPublish, "publish")
	}

	start := time.Now()
	token := c.internal.Publish(topic, 0, false, payload)
	var err error
	switch {
	case !waitToken(ctx, token, c.config.PublishTimeout):
		err = mqttError(fmt.Errorf("publish timeout for topic %s", topic), errors.CategoryMQTTPublish, "publish")
	case token.Error() != nil:
		err = mqttError(token.Error(), errors.CategoryMQTTPublish, "publish")
	}

	if c.metrics != nil {
		c.metrics.RecordPublish(time.Since(start), err)
	}
	return err
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected()
}

func (c *client) isConnected() bool {
	return c.internal != nil && c.internal.IsConnected()
}

func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isConnected() {
		c.internal.Disconnect(disconnectQuiesceMs)
		if c.metrics != nil {
			c.metrics.UpdateConnectionStatus(false)
		}
	}
}

func (c *client) onConnect(paho.Client) {
	c.log.Info("Connected to MQTT broker", logger.String("broker", c.config.Broker))
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("Connection to MQTT broker lost", logger.String("broker", c.config.Broker), logger.Error(err))
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(false)
	}
}

// waitToken waits for token until timeout or ctx ends. It reports whether
// the token completed.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
