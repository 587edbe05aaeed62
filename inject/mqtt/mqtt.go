package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnstapir/telemetry-dashboard/shared"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

type Conf struct {
	Log            shared.LoggerIF
	ClientID       string
	MqttCaCert     string
	MqttClientCert string
	MqttClientKey  string
	ConnectTimeout time.Duration
	EventBuffer    int
}

type mqttclient struct {
	log            shared.LoggerIF
	clientID       string
	tlsCfg         *tls.Config
	connectTimeout time.Duration
	eventBuffer    int

	mu      sync.Mutex
	connMan *autopaho.ConnectionManager
	cancel  context.CancelFunc
	eventCh chan shared.TransportEvent
	stopCh  chan struct{}

	connected atomic.Bool
	ups       atomic.Int64
}

const cSCHEME_MQTTS = "mqtts"
const cSCHEME_TLS = "tls"
const cSCHEME_SSL = "ssl"

const cDEFAULT_CONNECT_TIMEOUT = 10 * time.Second
const cDEFAULT_EVENT_BUFFER = 1024
const cDISCONNECT_TIMEOUT = 2 * time.Second

func Create(conf Conf) (*mqttclient, error) {
	newClient := new(mqttclient)

	if conf.Log == nil {
		return nil, errors.New("nil logger when creating mqtt client")
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

	/* Client certs are optional, public brokers typically only do server auth */
	if conf.MqttCaCert != "" || conf.MqttClientCert != "" {
		tlsCfg, err := loadTLS(conf)
		if err != nil {
			return nil, err
		}
		newClient.tlsCfg = tlsCfg
	}

	return newClient, nil
}

func loadTLS(conf Conf) (*tls.Config, error) {
	tlsCfg := tls.Config{
		MinVersion: tls.VersionTLS12,
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
		tlsCfg.RootCAs = caCertPool
	}

	if conf.MqttClientCert != "" {
		clientKeypair, err := tls.LoadX509KeyPair(conf.MqttClientCert, conf.MqttClientKey)
		if err != nil {
			return nil, errors.New("error setting up client certs")
		}
		tlsCfg.Certificates = []tls.Certificate{clientKeypair}
	}

	return &tlsCfg, nil
}

func (c *mqttclient) Connect(ctx context.Context, brokerUrl string) (<-chan shared.TransportEvent, error) {
	mqttUrl, err := url.Parse(brokerUrl)
	if err != nil {
		return nil, errors.New("invalid mqtt url")
	}

	c.mu.Lock()
	if c.connMan != nil {
		c.mu.Unlock()
		return nil, errors.New("mqtt client already connected")
	}
	c.mu.Unlock()

	eventCh := make(chan shared.TransportEvent, c.eventBuffer)
	stopCh := make(chan struct{})
	c.ups.Store(0)

	pahoCfg := paho.ClientConfig{
		ClientID:           c.clientID,
		OnClientError:      c.onClientError(eventCh, stopCh),
		OnServerDisconnect: c.onServerDisconnect(eventCh, stopCh),
	}

	autopahoConf := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{mqttUrl},
		KeepAlive:                     20,
		CleanStartOnInitialConnection: false,
		SessionExpiryInterval:         60,
		OnConnectionUp:                c.onConnectionUp(eventCh, stopCh),
		OnConnectError:                c.onConnectError,
		ClientConfig:                  pahoCfg,
	}

	switch mqttUrl.Scheme {
	case cSCHEME_MQTTS, cSCHEME_TLS, cSCHEME_SSL:
		if c.tlsCfg != nil {
			autopahoConf.TlsCfg = c.tlsCfg
		} else {
			autopahoConf.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	/* The connection manager outlives the ctx of Connect, Stop tears it down */
	cmCtx, cancel := context.WithCancel(context.Background())

	connMan, err := autopaho.NewConnection(cmCtx, autopahoConf)
	if err != nil {
		cancel()
		return nil, err
	}

	connMan.AddOnPublishReceived(c.onPublishReceived(eventCh, stopCh))

	awaitCtx, awaitCancel := context.WithTimeout(ctx, c.connectTimeout)
	defer awaitCancel()

	err = connMan.AwaitConnection(awaitCtx)
	if err != nil {
		cancel()
		<-connMan.Done()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("no connection within %s: %w", c.connectTimeout, err)
	}

	c.mu.Lock()
	c.connMan = connMan
	c.cancel = cancel
	c.eventCh = eventCh
	c.stopCh = stopCh
	c.mu.Unlock()

	c.connected.Store(true)

	return eventCh, nil
}

func (c *mqttclient) Subscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	connMan := c.connMan
	c.mu.Unlock()

	if connMan == nil {
		return errors.New("mqtt client not connected")
	}

	sub := paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{
				Topic: topic,
				QoS:   0,
			},
		},
	}

	ack, err := connMan.Subscribe(ctx, &sub)
	if err != nil {
		return err
	}

	for _, reason := range ack.Reasons {
		if reason >= 0x80 {
			return fmt.Errorf("broker refused subscription, reason code %d", reason)
		}
	}

	c.log.Debug("Subscribed: %+v", ack)

	return nil
}

func (c *mqttclient) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	connMan := c.connMan
	c.mu.Unlock()

	if connMan == nil {
		return errors.New("mqtt client not connected")
	}

	mqttMsg := paho.Publish{
		QoS:     0,
		Topic:   topic,
		Payload: payload,
		Retain:  false,
	}

	c.log.Debug("Attempting to publish on topic '%s'", topic)
	_, err := connMan.Publish(ctx, &mqttMsg)
	if err != nil {
		c.log.Error("Failed to publish message on topic '%s'", topic)
		return err
	}

	return nil
}

func (c *mqttclient) CheckConnection() bool {
	return c.connected.Load()
}

func (c *mqttclient) Stop() {
	c.mu.Lock()
	connMan := c.connMan
	cancel := c.cancel
	stopCh := c.stopCh
	c.connMan = nil
	c.cancel = nil
	c.stopCh = nil
	c.eventCh = nil
	c.mu.Unlock()

	if connMan == nil {
		return
	}

	close(stopCh)
	c.connected.Store(false)

	ctx, ctxCancel := context.WithTimeout(context.Background(), cDISCONNECT_TIMEOUT)
	defer ctxCancel()

	err := connMan.Disconnect(ctx)
	if err != nil {
		c.log.Debug("Error disconnecting from broker: %s", err)
	}

	cancel()
	<-connMan.Done()

	c.log.Info("MQTT client stopped")
}

func (c *mqttclient) onPublishReceived(eventCh chan<- shared.TransportEvent, stopCh <-chan struct{}) func(autopaho.PublishReceived) (bool, error) {
	return func(pr autopaho.PublishReceived) (bool, error) {
		for _, e := range pr.Errs {
			if e != nil {
				c.log.Error("Error while receiving MQTT message: '%s'", e)
			}
		}

		if pr.AlreadyHandled {
			return true, nil
		}

		ev := shared.TransportEvent{
			Type:    shared.TRANSPORT_MESSAGE,
			Topic:   pr.Packet.Topic,
			Payload: pr.Packet.Payload,
		}

		select {
		case eventCh <- ev:
		case <-stopCh:
		}

		return true, nil
	}
}

func (c *mqttclient) onClientError(eventCh chan<- shared.TransportEvent, stopCh <-chan struct{}) func(error) {
	return func(err error) {
		c.log.Error("client error: %s", err)
		c.down(eventCh, stopCh, err)
	}
}

func (c *mqttclient) onServerDisconnect(eventCh chan<- shared.TransportEvent, stopCh <-chan struct{}) func(*paho.Disconnect) {
	return func(d *paho.Disconnect) {
		var err error
		if d.Properties != nil && d.Properties.ReasonString != "" {
			err = fmt.Errorf("server requested disconnect: %s", d.Properties.ReasonString)
		} else {
			err = fmt.Errorf("server requested disconnect; reason code: %d", d.ReasonCode)
		}
		c.log.Error("%s", err)
		c.down(eventCh, stopCh, err)
	}
}

func (c *mqttclient) onConnectionUp(eventCh chan<- shared.TransportEvent, stopCh <-chan struct{}) func(*autopaho.ConnectionManager, *paho.Connack) {
	return func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
		c.log.Info("connection up")

		/* The first connection is reported by Connect returning */
		if c.ups.Add(1) == 1 {
			return
		}

		c.connected.Store(true)
		send(eventCh, stopCh, shared.TransportEvent{Type: shared.TRANSPORT_RECONNECTED})
	}
}

func (c *mqttclient) onConnectError(err error) {
	c.log.Warning("error whilst attempting connection: %s", err)
}

func (c *mqttclient) down(eventCh chan<- shared.TransportEvent, stopCh <-chan struct{}, err error) {
	if !c.connected.Swap(false) {
		return
	}

	send(eventCh, stopCh, shared.TransportEvent{Type: shared.TRANSPORT_DISCONNECTED, Err: err})
}

func send(eventCh chan<- shared.TransportEvent, stopCh <-chan struct{}, ev shared.TransportEvent) {
	select {
	case eventCh <- ev:
	case <-stopCh:
	}
}
