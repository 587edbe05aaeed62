package nats

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dnstapir/telemetry-dashboard/shared"
	"github.com/nats-io/nats.go"
)

const cPUBLISHER_NAME = "nats"
const cEVENT_SAMPLE = "sample"

type PublisherConf struct {
	Log     shared.LoggerIF
	NatsUrl string
	Subject string
}

/* Publishes every accepted sample on a NATS subject, one subject per topic */
type publisher struct {
	log     shared.LoggerIF
	subject string
	conn    *nats.Conn
}

type sampleMsg struct {
	Topic   string    `json:"topic"`
	Label   string    `json:"label,omitempty"`
	Value   float64   `json:"value"`
	Count   uint64    `json:"count"`
	Updated time.Time `json:"updated"`
}

func CreatePublisher(conf PublisherConf) (*publisher, error) {
	newPublisher := new(publisher)

	if conf.Log == nil {
		return nil, errors.New("nil logger when creating nats publisher")
	}
	newPublisher.log = conf.Log

	if conf.Subject == "" {
		return nil, errors.New("no subject for nats publisher")
	}
	newPublisher.subject = conf.Subject

	conn, err := nats.Connect(conf.NatsUrl, nats.Name("telemetry-dashboard-events"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	newPublisher.conn = conn

	return newPublisher, nil
}

func (p *publisher) Name() string {
	return cPUBLISHER_NAME
}

func (p *publisher) Put(ctx context.Context, data shared.SinkData) error {
	payload, err := json.Marshal(sampleMsg{
		Topic:   data.Topic,
		Label:   data.Label,
		Value:   data.Value,
		Count:   data.Count,
		Updated: data.Updated,
	})
	if err != nil {
		return err
	}

	msg := nats.NewMsg(SubjectFor(p.subject, data.Topic))
	msg.Data = payload
	msg.Header.Set(shared.NATSHEADER_TELEMETRY_TOPIC, data.Topic)
	msg.Header.Set(shared.NATSHEADER_TELEMETRY_EVENT, cEVENT_SAMPLE)
	if data.Label != "" {
		msg.Header.Set(shared.NATSHEADER_TELEMETRY_LABEL, data.Label)
	}

	err = p.conn.PublishMsg(msg)
	if err != nil {
		return err
	}

	p.log.Debug("Published sample for '%s' on '%s'", data.Topic, msg.Subject)

	return nil
}

func (p *publisher) Close() error {
	return p.conn.Drain()
}

/*
 * SubjectFor maps a topic onto a subject below prefix. MQTT level
 * separators become NATS tokens, e.g. ESI/ICS/CARS -> prefix.ESI.ICS.CARS
 */
func SubjectFor(prefix string, topic string) string {
	tokens := topicTokens(topic)
	if len(tokens) == 0 {
		return prefix
	}

	return prefix + "." + strings.Join(tokens, ".")
}

func topicTokens(topic string) []string {
	return strings.FieldsFunc(topic, func(r rune) bool {
		return r == '/' || r == '.' || r == ' '
	})
}
