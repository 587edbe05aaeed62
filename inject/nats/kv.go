package nats

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dnstapir/telemetry-dashboard/shared"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const cKV_NAME = "nats-kv"
const cKV_SETUP_TIMEOUT = 10 * time.Second

type KvConf struct {
	Log     shared.LoggerIF
	NatsUrl string
	Bucket  string
	TTL     time.Duration
}

/* Keeps the latest value per topic in a JetStream key/value bucket */
type kvStore struct {
	log  shared.LoggerIF
	conn *nats.Conn
	kv   jetstream.KeyValue
}

func CreateKv(conf KvConf) (*kvStore, error) {
	newStore := new(kvStore)

	if conf.Log == nil {
		return nil, errors.New("nil logger when creating nats kv store")
	}
	newStore.log = conf.Log

	if conf.Bucket == "" {
		return nil, errors.New("no bucket for nats kv store")
	}

	conn, err := nats.Connect(conf.NatsUrl, nats.Name("telemetry-dashboard-kv"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cKV_SETUP_TIMEOUT)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      conf.Bucket,
		Description: "latest telemetry value per topic",
		TTL:         conf.TTL,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}

	newStore.conn = conn
	newStore.kv = kv

	conf.Log.Info("Mirroring latest values into bucket '%s'", conf.Bucket)

	return newStore, nil
}

func (s *kvStore) Name() string {
	return cKV_NAME
}

func (s *kvStore) Put(ctx context.Context, data shared.SinkData) error {
	key := KeyFor(data.Topic)
	if key == "" {
		return errors.New("topic not usable as kv key")
	}

	rev, err := s.kv.Put(ctx, key, []byte(strconv.FormatFloat(data.Value, 'f', -1, 64)))
	if err != nil {
		return err
	}

	s.log.Debug("Stored %v for '%s' at revision %d", data.Value, key, rev)

	return nil
}

func (s *kvStore) Close() error {
	return s.conn.Drain()
}

/* KV keys are subject tokens, so topic levels become dot separated */
func KeyFor(topic string) string {
	return strings.Join(topicTokens(topic), ".")
}
