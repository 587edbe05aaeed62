package ingestor

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dnstapir/telemetry-dashboard/app/decode"
)

var errUnknownTopic = errors.New("unknown topic")

type Topic struct {
	Name  string `toml:"Name"`
	Label string `toml:"Label"`
}

type TopicSnapshot struct {
	Topic      string    `json:"topic"`
	Label      string    `json:"label"`
	Latest     float64   `json:"latest"`
	Series     []float64 `json:"series"`
	Count      uint64    `json:"count"`
	Rejected   uint64    `json:"rejected"`
	Updated    time.Time `json:"updated"`
	Subscribed bool      `json:"subscribed"`
}

type Snapshot struct {
	State  ConnectionState          `json:"state"`
	Taken  time.Time                `json:"taken"`
	Topics map[string]TopicSnapshot `json:"topics"`
}

type series struct {
	label      string
	samples    []float64
	latest     float64
	count      uint64
	rejected   uint64
	updated    time.Time
	subscribed bool
}

/*
 * store holds the per-topic state. The topic set is fixed at creation, so
 * membership checks need no locking; series contents are guarded by mu.
 */
type store struct {
	mu         sync.RWMutex
	decoder    decode.Func
	maxSamples int
	topics     map[string]*series
	now        func() time.Time
}

func newStore(topics []Topic, decoder decode.Func, maxSamples int) *store {
	s := new(store)
	s.decoder = decoder
	s.maxSamples = maxSamples
	s.now = time.Now
	s.topics = make(map[string]*series, len(topics))

	for _, t := range topics {
		s.topics[t.Name] = &series{
			label:   t.Label,
			samples: make([]float64, 0),
		}
	}

	return s
}

/*
 * apply decodes payload and, on success, appends the value to the topic's
 * series and makes it the latest value. Unknown topics and undecodable
 * payloads leave every series untouched.
 */
func (s *store) apply(topic string, payload []byte) (Event, error) {
	ser, ok := s.topics[topic]
	if !ok {
		return Event{}, errUnknownTopic
	}

	val, err := s.decoder(payload)
	if err != nil {
		s.mu.Lock()
		ser.rejected++
		s.mu.Unlock()
		return Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxSamples > 0 && len(ser.samples) >= s.maxSamples {
		drop := len(ser.samples) - s.maxSamples + 1
		n := copy(ser.samples, ser.samples[drop:])
		ser.samples = ser.samples[:n]
	}

	ser.samples = append(ser.samples, val)
	ser.latest = val
	ser.count++
	ser.updated = s.now()

	ev := Event{
		Type:   EVENT_MESSAGE,
		Topic:  topic,
		Value:  val,
		Count:  ser.count,
		Series: slices.Clone(ser.samples),
		Time:   ser.updated,
	}

	return ev, nil
}

func (s *store) setSubscribed(topic string, subscribed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ser, ok := s.topics[topic]
	if ok {
		ser.subscribed = subscribed
	}
}

func (s *store) unsubscribeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ser := range s.topics {
		ser.subscribed = false
	}
}

func (s *store) snapshot(state ConnectionState) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		State:  state,
		Taken:  s.now(),
		Topics: make(map[string]TopicSnapshot, len(s.topics)),
	}

	for name, ser := range s.topics {
		snap.Topics[name] = TopicSnapshot{
			Topic:      name,
			Label:      ser.label,
			Latest:     ser.latest,
			Series:     slices.Clone(ser.samples),
			Count:      ser.count,
			Rejected:   ser.rejected,
			Updated:    ser.updated,
			Subscribed: ser.subscribed,
		}
	}

	return snap
}

/* Positions 1..n of the longest series, for use as a chart axis */
func (s Snapshot) Index() []int {
	longest := 0
	for _, t := range s.Topics {
		longest = max(longest, len(t.Series))
	}

	index := make([]int, longest)
	for i := range index {
		index[i] = i + 1
	}

	return index
}
