package mqtt3

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnstapir/telemetry-dashboard/shared"

	paho "github.com/eclipse/paho.mqtt.golang"
)

/*
 * MQTT 3.1.1 transport, for brokers that do not speak v5. Reconnection is
 * left to the paho client.
 */

type Conf struct {
	Log            shared.LoggerIF
	ClientID       string
	MqttCaCert     string
	ConnectTimeout time.Duration
	EventBuffer    int
}

type mqtt3client struct {
	log            shared.LoggerIF
	clientID       string
	tlsCfg         *tls.Config
	connectTimeout time.Duration
	eventBuffer    int

	mu      sync.Mutex
	client  paho.Client
	eventCh chan shared.TransportEvent
	stopCh  chan struct{}

	connected atomic.Bool
	ups       atomic.Int64
}

const cDEFAULT_CONNECT_TIMEOUT = 10 * time.Second
const cDEFAULT_EVENT_BUFFER = 1024
const cQUIESCE_MS = 250
const cSUBACK_FAILURE = 0x80

func Create(conf Conf) (*mqtt3client, error) {
	newClient := new(mqtt3client)

	if conf.Log == nil {
		return nil, errors.New("nil logger when creating mqtt3 client")
	}
	newClient.log = conf.Log

	newClient.clientID = conf.ClientID

	newClient.connectTimeout = conf.ConnectTimeout
	if newClient.connectTimeout <= 0 {
		newClient.connectTimeout = cDEFAULT_CONNECT_TIMEOUT
	}

	newClient.eventBuffer = conf.EventBuffer
	if newClient.eventBuffer <= 0 {
		newClient.eventBuffer = cDEFAULT_EVENT_BUFFER
	}

	if conf.MqttCaCert != "" {
		caCertPool := x509.NewCertPool()
		cert, err := os.ReadFile(conf.MqttCaCert)
		if err != nil {
			return nil, errors.New("error reading mqtt ca cert")
		}
		ok := caCertPool.AppendCertsFromPEM(cert)
		if !ok {
			return nil, errors.New("error adding ca cert")
		}
		newClient.tlsCfg = &tls.Config{
			RootCAs:    caCertPool,
			MinVersion: tls.VersionTLS12,
		}
	}

	return newClient, nil
}

func (c *mqtt3client) Connect(ctx context.Context, brokerUrl string) (<-chan shared.TransportEvent, error) {
	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return nil, errors.New("mqtt3 client already connected")
	}
	c.mu.Unlock()

	eventCh := make(chan shared.TransportEvent, c.eventBuffer)
	stopCh := make(chan struct{})
	c.ups.Store(0)

	opts := paho.NewClientOptions().
		AddBroker(brokerUrl).
		SetClientID(c.clientID).
		SetConnectTimeout(c.connectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetOnConnectHandler(c.onConnect(eventCh, stopCh)).
		SetConnectionLostHandler(c.onConnectionLost(eventCh, stopCh)).
		SetDefaultPublishHandler(c.onMessage(eventCh, stopCh))

	if c.tlsCfg != nil {
		opts.SetTLSConfig(c.tlsCfg)
	}

	client := paho.NewClient(opts)

	err := wait(ctx, client.Connect())
	if err != nil {
		client.Disconnect(0)
		return nil, err
	}

	c.mu.Lock()
	c.client = client
	c.eventCh = eventCh
	c.stopCh = stopCh
	c.mu.Unlock()

	c.connected.Store(true)

	return eventCh, nil
}

func (c *mqtt3client) Subscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return errors.New("mqtt3 client not connected")
	}

	/* nil callback routes messages through the default publish handler */
	token := client.Subscribe(topic, 0, nil)
	err := wait(ctx, token)
	if err != nil {
		return err
	}

	subToken, ok := token.(*paho.SubscribeToken)
	if ok {
		for t, code := range subToken.Result() {
			if code >= cSUBACK_FAILURE {
				return fmt.Errorf("broker refused subscription to '%s'", t)
			}
		}
	}

	return nil
}

func (c *mqtt3client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil {
		return errors.New("mqtt3 client not connected")
	}

	err := wait(ctx, client.Publish(topic, 0, false, payload))
	if err != nil {
		c.log.Error("Failed to publish message on topic '%s'", topic)
		return err
	}

	return nil
}

func (c *mqtt3client) CheckConnection() bool {
	return c.connected.Load()
}

func (c *mqtt3client) Stop() {
	c.mu.Lock()
	client := c.client
	stopCh := c.stopCh
	c.client = nil
	c.stopCh = nil
	c.eventCh = nil
	c.mu.Unlock()

	if client == nil {
		return
	}

	close(stopCh)
	c.connected.Store(false)
	client.Disconnect(cQUIESCE_MS)

	c.log.Info("MQTT3 client stopped")
}

func (c *mqtt3client) onMessage(eventCh chan<- shared.TransportEvent, stopCh <-chan struct{}) paho.MessageHandler {
	return func(client paho.Client, msg paho.Message) {
		ev := shared.TransportEvent{
			Type:    shared.TRANSPORT_MESSAGE,
			Topic:   msg.Topic(),
			Payload: msg.Payload(),
		}

		select {
		case eventCh <- ev:
		case <-stopCh:
		}
	}
}

func (c *mqtt3client) onConnect(eventCh chan<- shared.TransportEvent, stopCh <-chan struct{}) paho.OnConnectHandler {
	return func(client paho.Client) {
		c.log.Info("connection up")

		if c.ups.Add(1) == 1 {
			return
		}

		c.connected.Store(true)
		go func() {
			select {
			case eventCh <- shared.TransportEvent{Type: shared.TRANSPORT_RECONNECTED}:
			case <-stopCh:
			}
		}()
	}
}

func (c *mqtt3client) onConnectionLost(eventCh chan<- shared.TransportEvent, stopCh <-chan struct{}) paho.ConnectionLostHandler {
	return func(client paho.Client, err error) {
		c.log.Error("connection lost: %s", err)

		if !c.connected.Swap(false) {
			return
		}

		select {
		case eventCh <- shared.TransportEvent{Type: shared.TRANSPORT_DISCONNECTED, Err: err}:
		case <-stopCh:
		}
	}
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
