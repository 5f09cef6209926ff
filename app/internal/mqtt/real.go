package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// PingHandler receives the device key of an MQTT heartbeat.
type PingHandler func(key string)

// RealClient publishes to and subscribes on an actual MQTT broker.
type RealClient struct {
	client paho.Client
	prefix string
	log    *zap.Logger
}

// NewRealClient connects to broker. When onPing is set, ping topics are
// (re)subscribed on every connect.
func NewRealClient(broker, clientID, prefix string, onPing PingHandler, log *zap.Logger) (*RealClient, error) {
	c := &RealClient{prefix: prefix, log: log}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(client paho.Client) {
			log.Info("mqtt connected", zap.String("broker", broker))
			if onPing != nil {
				c.subscribe(client, onPing)
			}
		})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

func (c *RealClient) subscribe(client paho.Client, onPing PingHandler) {
	filter := PingFilter(c.prefix)
	token := client.Subscribe(filter, 1, func(_ paho.Client, msg paho.Message) {
		key := KeyFromTopic(c.prefix, msg.Topic())
		if key == "" {
			return
		}
		onPing(key)
	})
	if !token.WaitTimeout(5 * time.Second) {
		c.log.Warn("mqtt subscribe timeout", zap.String("filter", filter))
		return
	}
	if err := token.Error(); err != nil {
		c.log.Warn("mqtt subscribe failed", zap.String("filter", filter), zap.Error(err))
	}
}

// Publish sends a status event, retained so late subscribers see the current state.
func (c *RealClient) Publish(event StatusEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	token := c.client.Publish(StatusTopic(c.prefix, event.DeviceID), 1, true, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// IsConnected reports whether the client currently has a broker connection.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000)
	return nil
}
