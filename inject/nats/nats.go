package nats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnstapir/telemetry-dashboard/shared"
	"github.com/nats-io/nats.go"
)

type Conf struct {
	Log            shared.LoggerIF
	ClientID       string
	ConnectTimeout time.Duration
	EventBuffer    int
}

type natsclient struct {
	log            shared.LoggerIF
	clientID       string
	connectTimeout time.Duration
	eventBuffer    int

	mu      sync.Mutex
	conn    *nats.Conn
	subs    map[string]*nats.Subscription
	eventCh chan shared.TransportEvent
	stopCh  chan struct{}

	connected atomic.Bool
}

const cDEFAULT_CONNECT_TIMEOUT = 10 * time.Second
const cDEFAULT_EVENT_BUFFER = 1024

func Create(conf Conf) (*natsclient, error) {
	newClient := new(natsclient)

	if conf.Log == nil {
		return nil, errors.New("nil logger when creating nats client")
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

	return newClient, nil
}

func (c *natsclient) Connect(ctx context.Context, url string) (<-chan shared.TransportEvent, error) {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil, errors.New("already has connection")
	}
	c.mu.Unlock()

	eventCh := make(chan shared.TransportEvent, c.eventBuffer)
	stopCh := make(chan struct{})

	opts := []nats.Option{
		nats.Name(c.clientID),
		nats.Timeout(c.connectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.log.Warning("NATS disconnected: %v", err)
			if c.connected.Swap(false) {
				send(eventCh, stopCh, shared.TransportEvent{Type: shared.TRANSPORT_DISCONNECTED, Err: err})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.log.Info("NATS reconnected to '%s'", nc.ConnectedUrl())
			if !c.connected.Swap(true) {
				send(eventCh, stopCh, shared.TransportEvent{Type: shared.TRANSPORT_RECONNECTED})
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			c.log.Error("NATS async error: %s", err)
			send(eventCh, stopCh, shared.TransportEvent{Type: shared.TRANSPORT_ERROR, Err: err})
		}),
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	resCh := make(chan result, 1)

	/* nats.Connect takes no context, so race it against ctx */
	go func() {
		conn, err := nats.Connect(url, opts...)
		resCh <- result{conn: conn, err: err}
	}()

	var res result
	select {
	case res = <-resCh:
	case <-ctx.Done():
		go func() {
			late := <-resCh
			if late.conn != nil {
				late.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}

	if res.err != nil {
		return nil, res.err
	}

	c.mu.Lock()
	c.conn = res.conn
	c.subs = make(map[string]*nats.Subscription)
	c.eventCh = eventCh
	c.stopCh = stopCh
	c.mu.Unlock()

	c.connected.Store(true)

	return eventCh, nil
}

/*
 * The NATS client restores its own subscriptions after a reconnect, so a
 * repeated Subscribe for the same subject is a no-op.
 */
func (c *natsclient) Subscribe(ctx context.Context, subject string) error {
	c.mu.Lock()
	conn := c.conn
	eventCh := c.eventCh
	stopCh := c.stopCh
	if conn == nil {
		c.mu.Unlock()
		return errors.New("nats client not connected")
	}

	_, ok := c.subs[subject]
	if ok {
		c.mu.Unlock()
		return nil
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		c.log.Debug("Received message on '%s'", msg.Subject)
		send(eventCh, stopCh, shared.TransportEvent{
			Type:    shared.TRANSPORT_MESSAGE,
			Topic:   msg.Subject,
			Payload: msg.Data,
		})
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.subs[subject] = sub
	c.mu.Unlock()

	/* Round trip to the server so permission errors surface here */
	err = conn.FlushWithContext(ctx)
	if err != nil {
		c.mu.Lock()
		delete(c.subs, subject)
		c.mu.Unlock()
		_ = sub.Unsubscribe()
		return err
	}

	err = conn.LastError()
	if err != nil && errors.Is(err, nats.ErrPermissionViolation) {
		c.mu.Lock()
		delete(c.subs, subject)
		c.mu.Unlock()
		_ = sub.Unsubscribe()
		return err
	}

	return nil
}

func (c *natsclient) Publish(ctx context.Context, subject string, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errors.New("nats client not connected")
	}

	return conn.Publish(subject, payload)
}

func (c *natsclient) CheckConnection() bool {
	return c.connected.Load()
}

func (c *natsclient) Stop() {
	c.mu.Lock()
	conn := c.conn
	stopCh := c.stopCh
	c.conn = nil
	c.subs = nil
	c.eventCh = nil
	c.stopCh = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}

	close(stopCh)
	c.connected.Store(false)

	err := conn.Drain()
	if err != nil {
		c.log.Debug("Error draining nats connection: %s", err)
		conn.Close()
	}

	c.log.Info("NATS client stopped")
}

func send(eventCh chan<- shared.TransportEvent, stopCh <-chan struct{}, ev shared.TransportEvent) {
	select {
	case eventCh <- ev:
	case <-stopCh:
	}
}
