package fake

import (
	"context"
	"errors"
	"sync"

	"github.com/dnstapir/telemetry-dashboard/shared"
)

type transport struct {
	mu            sync.Mutex
	eventCh       chan shared.TransportEvent
	pubCh         chan shared.TransportEvent
	connected     bool
	connectErr    error
	blockConnect  bool
	failTopics    map[string]error
	subscriptions []string
	urls          []string
	stops         int
}

func Transport() *transport {
	t := new(transport)
	t.pubCh = make(chan shared.TransportEvent, 100)
	t.failTopics = make(map[string]error)
	return t
}

/* Make the next calls to Connect fail with err, nil restores normal behavior */
func (t *transport) FailConnect(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

/* Make Connect block until its context is cancelled */
func (t *transport) BlockConnect(block bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blockConnect = block
}

func (t *transport) FailSubscribe(topic string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failTopics[topic] = err
}

func (t *transport) Connect(ctx context.Context, url string) (<-chan shared.TransportEvent, error) {
	t.mu.Lock()
	t.urls = append(t.urls, url)
	connectErr := t.connectErr
	block := t.blockConnect
	t.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if connectErr != nil {
		return nil, connectErr
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil, errors.New("already connected")
	}

	t.eventCh = make(chan shared.TransportEvent, 100)
	t.connected = true

	return t.eventCh, nil
}

func (t *transport) Subscribe(ctx context.Context, topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return errors.New("not connected")
	}

	err, ok := t.failTopics[topic]
	if ok {
		return err
	}

	t.subscriptions = append(t.subscriptions, topic)
	return nil
}

func (t *transport) Publish(ctx context.Context, topic string, payload []byte) error {
	if !t.CheckConnection() {
		return errors.New("not connected")
	}

	t.pubCh <- shared.TransportEvent{
		Type:    shared.TRANSPORT_MESSAGE,
		Topic:   topic,
		Payload: payload,
	}
	return nil
}

func (t *transport) CheckConnection() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stops++
	if t.connected {
		close(t.eventCh)
		t.connected = false
	}
}

/* Deliver a message as if it arrived from the broker */
func (t *transport) Inject(topic string, payload []byte) {
	t.InjectEvent(shared.TransportEvent{
		Type:    shared.TRANSPORT_MESSAGE,
		Topic:   topic,
		Payload: payload,
	})
}

func (t *transport) InjectEvent(ev shared.TransportEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		panic("inject on disconnected fake transport")
	}

	t.eventCh <- ev
}

func (t *transport) Eavesdrop() shared.TransportEvent {
	return <-t.pubCh
}

func (t *transport) Subscriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, len(t.subscriptions))
	copy(out, t.subscriptions)
	return out
}

func (t *transport) Urls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, len(t.urls))
	copy(out, t.urls)
	return out
}

func (t *transport) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}
