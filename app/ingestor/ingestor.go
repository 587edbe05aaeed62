package ingestor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnstapir/telemetry-dashboard/app/decode"
	"github.com/dnstapir/telemetry-dashboard/shared"
)

const cDEFAULT_EVENT_BUFFER = 64

type Conf struct {
	Log         shared.LoggerIF
	Transport   shared.TransportIF
	BrokerUrl   string
	Topics      []Topic
	Decoder     decode.Func
	MaxSamples  int
	EventBuffer int
}

type Ingestor struct {
	log         shared.LoggerIF
	transport   shared.TransportIF
	brokerUrl   string
	topics      []Topic
	store       *store
	eventBuffer int
	state       atomic.Int32

	lifeMu  sync.Mutex
	running bool
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}

	obsMu     sync.Mutex
	observers map[int]chan Event
	nextObsID int
}

func Create(conf Conf) (*Ingestor, error) {
	newIngestor := new(Ingestor)

	if conf.Log == nil {
		return nil, errors.New("nil logger when creating ingestor")
	}
	newIngestor.log = conf.Log

	if conf.Transport == nil {
		return nil, errors.New("no transport object")
	}
	newIngestor.transport = conf.Transport

	if len(conf.Topics) == 0 {
		return nil, errors.New("no topics configured")
	}

	seen := make(map[string]bool)
	for _, t := range conf.Topics {
		if t.Name == "" {
			return nil, errors.New("empty topic name")
		}

		/* State is kept per literal topic, so filters cannot be used */
		if strings.ContainsAny(t.Name, "+#") {
			return nil, fmt.Errorf("wildcard topic '%s' not allowed", t.Name)
		}

		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate topic '%s'", t.Name)
		}
		seen[t.Name] = true
	}
	newIngestor.topics = append([]Topic(nil), conf.Topics...)

	if conf.MaxSamples < 0 {
		return nil, errors.New("negative sample limit")
	}

	decoder := conf.Decoder
	if decoder == nil {
		decoder = decode.Float
	}

	newIngestor.eventBuffer = conf.EventBuffer
	if newIngestor.eventBuffer <= 0 {
		newIngestor.eventBuffer = cDEFAULT_EVENT_BUFFER
	}

	newIngestor.brokerUrl = conf.BrokerUrl
	newIngestor.store = newStore(newIngestor.topics, decoder, conf.MaxSamples)
	newIngestor.observers = make(map[int]chan Event)
	newIngestor.state.Store(int32(DISCONNECTED))

	return newIngestor, nil
}

/*
 * Start connects the transport and subscribes to every configured topic. A
 * failed connection leaves the ingestor in ERRORED and Start may be called
 * again. Subscription failures are reported per topic and do not fail Start.
 */
func (i *Ingestor) Start(ctx context.Context) error {
	i.lifeMu.Lock()
	if i.running {
		i.lifeMu.Unlock()
		return &ConnectionError{Url: i.brokerUrl, Err: ErrAlreadyStarted}
	}

	runCtx, cancel := context.WithCancel(ctx)
	i.running = true
	i.gen++
	gen := i.gen
	i.cancel = cancel
	i.setState(CONNECTING)
	i.lifeMu.Unlock()

	i.log.Info("Connecting to '%s'", i.brokerUrl)
	eventCh, err := i.transport.Connect(runCtx, i.brokerUrl)

	i.lifeMu.Lock()
	if i.gen != gen {
		/* Stop was called while connecting */
		i.lifeMu.Unlock()
		cancel()
		if err == nil {
			i.transport.Stop()
		}
		return &ConnectionError{Url: i.brokerUrl, Err: ErrStopped}
	}

	if err != nil {
		i.running = false
		i.cancel = nil
		i.setState(ERRORED)
		i.lifeMu.Unlock()
		cancel()

		cerr := &ConnectionError{Url: i.brokerUrl, Err: err}
		i.log.Error("%s", cerr)
		i.emit(Event{Type: EVENT_CONNECT_FAILED, Err: cerr, Time: time.Now()})
		return cerr
	}

	done := make(chan struct{})
	i.done = done
	i.setState(CONNECTED)
	i.lifeMu.Unlock()

	i.log.Info("Connected to '%s'", i.brokerUrl)
	i.emit(Event{Type: EVENT_CONNECTED, Time: time.Now()})

	go i.loop(runCtx, eventCh, done)

	i.subscribeAll(runCtx)

	return nil
}

/* Stop is safe to call any number of times, also while Start is connecting */
func (i *Ingestor) Stop() {
	i.lifeMu.Lock()
	if !i.running {
		i.lifeMu.Unlock()
		return
	}

	cancel := i.cancel
	done := i.done
	i.running = false
	i.gen++
	i.cancel = nil
	i.done = nil
	i.lifeMu.Unlock()

	i.log.Info("Stopping ingestor")

	cancel()

	if done != nil {
		i.transport.Stop()
		<-done
	}

	i.store.unsubscribeAll()
	i.setState(DISCONNECTED)
	i.emit(Event{Type: EVENT_DISCONNECTED, Time: time.Now()})

	i.log.Info("Ingestor stopped")
}

func (i *Ingestor) Snapshot() Snapshot {
	return i.store.snapshot(i.State())
}

func (i *Ingestor) State() ConnectionState {
	return ConnectionState(i.state.Load())
}

func (i *Ingestor) Topics() []Topic {
	return append([]Topic(nil), i.topics...)
}

/*
 * Subscribe registers an observer. Events are dropped for observers that
 * do not keep up. The returned function unregisters the observer and
 * closes its channel.
 */
func (i *Ingestor) Subscribe() (<-chan Event, func()) {
	i.obsMu.Lock()
	defer i.obsMu.Unlock()

	id := i.nextObsID
	i.nextObsID++

	ch := make(chan Event, i.eventBuffer)
	i.observers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			i.obsMu.Lock()
			defer i.obsMu.Unlock()
			delete(i.observers, id)
			close(ch)
		})
	}

	return ch, cancel
}

func (i *Ingestor) loop(ctx context.Context, eventCh <-chan shared.TransportEvent, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			i.log.Debug("Ingestor loop cancelled")
			return
		case ev, ok := <-eventCh:
			if !ok {
				i.log.Debug("Transport event channel closed")
				return
			}
			i.handle(ctx, ev)
		}
	}
}

func (i *Ingestor) handle(ctx context.Context, ev shared.TransportEvent) {
	switch ev.Type {
	case shared.TRANSPORT_MESSAGE:
		i.handleMessage(ev.Topic, ev.Payload)
	case shared.TRANSPORT_DISCONNECTED:
		i.log.Warning("Transport disconnected: %v", ev.Err)
		i.store.unsubscribeAll()
		i.setState(DISCONNECTED)
		i.emit(Event{Type: EVENT_DISCONNECTED, Err: ev.Err, Time: time.Now()})
	case shared.TRANSPORT_RECONNECTED:
		i.log.Info("Transport reconnected, renewing subscriptions")
		i.setState(CONNECTED)
		i.emit(Event{Type: EVENT_CONNECTED, Time: time.Now()})

		/* Not inline, a transport may block on acks while we hold its events */
		go i.subscribeAll(ctx)
	case shared.TRANSPORT_ERROR:
		i.log.Error("Transport error: %v", ev.Err)
	default:
		i.log.Warning("Unknown transport event '%s'", ev.Type)
	}
}

func (i *Ingestor) handleMessage(topic string, payload []byte) {
	ev, err := i.store.apply(topic, payload)
	if errors.Is(err, errUnknownTopic) {
		i.log.Debug("Ignoring message on unknown topic '%s'", topic)
		return
	}

	if err != nil {
		derr := &DecodeError{Topic: topic, Payload: payload, Err: err}
		i.log.Warning("%s, discarding...", derr)
		i.emit(Event{Type: EVENT_DECODE_FAILED, Topic: topic, Err: derr, Time: time.Now()})
		return
	}

	i.log.Debug("Received %v on topic '%s'", ev.Value, topic)
	i.emit(ev)
}

func (i *Ingestor) subscribeAll(ctx context.Context) {
	for _, t := range i.topics {
		if ctx.Err() != nil {
			return
		}

		err := i.transport.Subscribe(ctx, t.Name)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			serr := &SubscriptionError{Topic: t.Name, Err: err}
			i.log.Error("%s", serr)
			i.store.setSubscribed(t.Name, false)
			i.emit(Event{Type: EVENT_SUBSCRIBE_FAILED, Topic: t.Name, Err: serr, Time: time.Now()})
			continue
		}

		i.store.setSubscribed(t.Name, true)
		i.log.Info("Subscribed to topic '%s'", t.Name)
	}
}

func (i *Ingestor) setState(s ConnectionState) {
	i.state.Store(int32(s))
}

func (i *Ingestor) emit(ev Event) {
	i.obsMu.Lock()
	defer i.obsMu.Unlock()

	for id, ch := range i.observers {
		out := ev
		if ev.Series != nil {
			out.Series = slices.Clone(ev.Series)
		}

		select {
		case ch <- out:
		default:
			i.log.Warning("Observer %d not keeping up, dropping '%s' event", id, ev.Type)
		}
	}
}
