package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dnstapir/telemetry-dashboard/shared"
	"github.com/redis/go-redis/v9"
)

type Conf struct {
	Log      shared.LoggerIF
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

/*
 * Mirrors the latest value of each topic into redis so other processes can
 * read it without talking to the broker.
 */
type mirror struct {
	log    shared.LoggerIF
	client *redis.Client
	ttl    time.Duration
}

const cSINK_NAME = "redis"
const cKEY_LATEST_FMT = "telemetry:last:%s"
const cKEY_COUNT_FMT = "telemetry:count:%s"
const cDEFAULT_TTL = 24 * time.Hour
const cPING_TIMEOUT = 5 * time.Second

func Create(conf Conf) (*mirror, error) {
	newMirror := new(mirror)

	if conf.Log == nil {
		return nil, errors.New("nil logger when creating redis mirror")
	}
	newMirror.log = conf.Log

	if conf.Addr == "" {
		return nil, errors.New("no redis address")
	}

	newMirror.ttl = conf.TTL
	if newMirror.ttl <= 0 {
		newMirror.ttl = cDEFAULT_TTL
	}

	newMirror.client = redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cPING_TIMEOUT)
	defer cancel()

	err := newMirror.client.Ping(ctx).Err()
	if err != nil {
		newMirror.client.Close()
		return nil, fmt.Errorf("redis at '%s' not reachable: %w", conf.Addr, err)
	}

	return newMirror, nil
}

func (m *mirror) Name() string {
	return cSINK_NAME
}

func (m *mirror) Put(ctx context.Context, data shared.SinkData) error {
	pipe := m.client.TxPipeline()
	pipe.Set(ctx, LatestKey(data.Topic), strconv.FormatFloat(data.Value, 'f', -1, 64), m.ttl)
	pipe.Set(ctx, fmt.Sprintf(cKEY_COUNT_FMT, data.Topic), data.Count, m.ttl)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return err
	}

	m.log.Debug("Mirrored %v for '%s'", data.Value, data.Topic)

	return nil
}

func (m *mirror) Close() error {
	return m.client.Close()
}

func LatestKey(topic string) string {
	return fmt.Sprintf(cKEY_LATEST_FMT, topic)
}
