package setup

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dnstapir/telemetry-dashboard/app"
	"github.com/dnstapir/telemetry-dashboard/app/api"
	"github.com/dnstapir/telemetry-dashboard/app/decode"
	"github.com/dnstapir/telemetry-dashboard/app/ingestor"
	"github.com/dnstapir/telemetry-dashboard/inject/logging"
	"github.com/dnstapir/telemetry-dashboard/inject/mqtt"
	"github.com/dnstapir/telemetry-dashboard/inject/mqtt3"
	"github.com/dnstapir/telemetry-dashboard/inject/nats"
	"github.com/dnstapir/telemetry-dashboard/inject/nodeman"
	"github.com/dnstapir/telemetry-dashboard/inject/redis"
	"github.com/dnstapir/telemetry-dashboard/shared"
)

const (
	TRANSPORT_MQTT  = "mqtt"
	TRANSPORT_MQTT3 = "mqtt3"
	TRANSPORT_NATS  = "nats"
)

const ENVVAR_OVERRIDE_BROKER_URL = "TELEMETRY_DASHBOARD_BROKER_URL"
const ENVVAR_OVERRIDE_HTTP_ADDR = "TELEMETRY_DASHBOARD_HTTP_ADDR"
const ENVVAR_OVERRIDE_REDIS_ADDR = "TELEMETRY_DASHBOARD_REDIS_ADDR"

type AppConf struct {
	Debug             bool             `toml:"Debug"`
	Quiet             bool             `toml:"Quiet"`
	Transport         string           `toml:"Transport"`
	BrokerUrl         string           `toml:"BrokerUrl"`
	ClientID          string           `toml:"ClientID"`
	MqttCaCert        string           `toml:"MqttCaCert"`
	MqttClientCert    string           `toml:"MqttClientCert"`
	MqttClientKey     string           `toml:"MqttClientKey"`
	Decoder           string           `toml:"Decoder"`
	InnerDecoder      string           `toml:"InnerDecoder"`
	Schema            string           `toml:"Schema"`
	ValueField        string           `toml:"ValueField"`
	Key               string           `toml:"Key"`
	NodemanApiUrl     string           `toml:"NodemanApiUrl"`
	MaxSamples        int              `toml:"MaxSamples"`
	EventBuffer       int              `toml:"EventBuffer"`
	RetryInterval     string           `toml:"RetryInterval"`
	HttpAddr          string           `toml:"HttpAddr"`
	RedisAddr         string           `toml:"RedisAddr"`
	RedisTTL          string           `toml:"RedisTTL"`
	NatsEventsUrl     string           `toml:"NatsEventsUrl"`
	NatsEventsSubject string           `toml:"NatsEventsSubject"`
	NatsKvBucket      string           `toml:"NatsKvBucket"`
	NatsKvTTL         string           `toml:"NatsKvTTL"`
	Topics            []ingestor.Topic `toml:"Topics"`
}

/* The public mosquitto broker and the three vehicle count topics */
func DefaultConf() AppConf {
	return AppConf{
		Transport:     TRANSPORT_MQTT3,
		BrokerUrl:     "mqtt://test.mosquitto.org:1883",
		ClientID:      "telemetry-dashboard",
		Decoder:       decode.DECODER_FLOAT,
		RetryInterval: "5s",
		HttpAddr:      ":8080",
		Topics: []ingestor.Topic{
			{Name: "ESI/ICS/CARS", Label: "Cars"},
			{Name: "ESI/ICS/TRUCKS", Label: "Trucks"},
			{Name: "ESI/ICS/BUSES", Label: "Buses"},
		},
	}
}

/*
 * LoadConf reads a TOML file on top of DefaultConf. Keys missing from the
 * file keep their defaults, a Topics table replaces the default topics.
 */
func LoadConf(filename string) (AppConf, error) {
	conf := DefaultConf()

	file, err := os.ReadFile(filename)
	if err != nil {
		return conf, err
	}

	var fileConf AppConf
	err = toml.Unmarshal(file, &fileConf)
	if err != nil {
		return conf, fmt.Errorf("error parsing '%s': %w", filename, err)
	}

	/* Decode again over the defaults so only present keys override */
	err = toml.Unmarshal(file, &conf)
	if err != nil {
		return conf, err
	}

	if fileConf.Topics != nil {
		conf.Topics = fileConf.Topics
	}

	ApplyEnv(&conf)

	return conf, nil
}

func ApplyEnv(conf *AppConf) {
	envBrokerUrl, overrideBrokerUrl := os.LookupEnv(ENVVAR_OVERRIDE_BROKER_URL)
	if overrideBrokerUrl {
		conf.BrokerUrl = envBrokerUrl
	}

	envHttpAddr, overrideHttpAddr := os.LookupEnv(ENVVAR_OVERRIDE_HTTP_ADDR)
	if overrideHttpAddr {
		conf.HttpAddr = envHttpAddr
	}

	envRedisAddr, overrideRedisAddr := os.LookupEnv(ENVVAR_OVERRIDE_REDIS_ADDR)
	if overrideRedisAddr {
		conf.RedisAddr = envRedisAddr
	}
}

func BuildApp(conf AppConf) (*app.App, error) {
	log := logging.Create(conf.Debug, conf.Quiet)

	return BuildAppWithLogger(conf, log)
}

func BuildAppWithLogger(conf AppConf, log shared.LoggerIF) (*app.App, error) {
	if conf.BrokerUrl == "" {
		return nil, errors.New("no broker url")
	}

	retryInterval, err := parseDuration(conf.RetryInterval)
	if err != nil {
		log.Error("Bad retry interval '%s'", conf.RetryInterval)
		return nil, err
	}

	transport, err := BuildTransport(conf, log)
	if err != nil {
		log.Error("Error creating transport")
		return nil, err
	}

	var nodemanClient shared.NodemanIF
	if conf.NodemanApiUrl != "" {
		nodemanConf := nodeman.Conf{
			Log:           log,
			NodemanApiUrl: conf.NodemanApiUrl,
		}
		nodemanClient, err = nodeman.Create(nodemanConf)
		if err != nil {
			log.Error("Error creating nodeman client")
			return nil, err
		}
	}

	decodeConf := decode.Conf{
		Log:        log,
		Nodeman:    nodemanClient,
		Decoder:    conf.Decoder,
		Inner:      conf.InnerDecoder,
		Schema:     conf.Schema,
		ValueField: conf.ValueField,
		Key:        conf.Key,
	}
	decoder, err := decode.Create(decodeConf)
	if err != nil {
		log.Error("Error creating decoder")
		return nil, err
	}

	ingestorConf := ingestor.Conf{
		Log:         log,
		Transport:   transport,
		BrokerUrl:   conf.BrokerUrl,
		Topics:      conf.Topics,
		Decoder:     decoder,
		MaxSamples:  conf.MaxSamples,
		EventBuffer: conf.EventBuffer,
	}
	ing, err := ingestor.Create(ingestorConf)
	if err != nil {
		log.Error("Error creating ingestor")
		return nil, err
	}

	sinks, err := BuildSinks(conf, log)
	if err != nil {
		return nil, err
	}

	a := new(app.App)
	a.Log = log
	a.Ingestor = ing
	a.Sinks = sinks
	a.RetryInterval = retryInterval

	if conf.HttpAddr != "" {
		apiConf := api.Conf{
			Log:    log,
			Addr:   conf.HttpAddr,
			Source: ing,
		}
		apiServer, err := api.Create(apiConf)
		if err != nil {
			log.Error("Error creating api server")
			return nil, err
		}
		a.Api = apiServer
	}

	return a, nil
}

func BuildTransport(conf AppConf, log shared.LoggerIF) (shared.TransportIF, error) {
	switch conf.Transport {
	case "", TRANSPORT_MQTT:
		mqttConf := mqtt.Conf{
			Log:            log,
			ClientID:       conf.ClientID,
			MqttCaCert:     conf.MqttCaCert,
			MqttClientCert: conf.MqttClientCert,
			MqttClientKey:  conf.MqttClientKey,
		}
		mqttClient, err := mqtt.Create(mqttConf)
		if err != nil {
			return nil, err
		}
		return mqttClient, nil
	case TRANSPORT_MQTT3:
		mqtt3Conf := mqtt3.Conf{
			Log:        log,
			ClientID:   conf.ClientID,
			MqttCaCert: conf.MqttCaCert,
		}
		mqtt3Client, err := mqtt3.Create(mqtt3Conf)
		if err != nil {
			return nil, err
		}
		return mqtt3Client, nil
	case TRANSPORT_NATS:
		natsConf := nats.Conf{
			Log:      log,
			ClientID: conf.ClientID,
		}
		natsClient, err := nats.Create(natsConf)
		if err != nil {
			return nil, err
		}
		return natsClient, nil
	default:
		return nil, fmt.Errorf("unsupported transport '%s'", conf.Transport)
	}
}

func BuildSinks(conf AppConf, log shared.LoggerIF) ([]shared.SinkIF, error) {
	sinks := make([]shared.SinkIF, 0)

	fail := func(msg string, err error) ([]shared.SinkIF, error) {
		log.Error("%s: %s", msg, err)
		for _, sink := range sinks {
			sink.Close()
		}
		return nil, err
	}

	if conf.RedisAddr != "" {
		ttl, err := parseDuration(conf.RedisTTL)
		if err != nil {
			return fail("Bad redis ttl", err)
		}

		redisConf := redis.Conf{
			Log:  log,
			Addr: conf.RedisAddr,
			TTL:  ttl,
		}
		mirror, err := redis.Create(redisConf)
		if err != nil {
			return fail("Error creating redis mirror", err)
		}
		sinks = append(sinks, mirror)
	}

	if conf.NatsEventsUrl != "" && conf.NatsEventsSubject != "" {
		publisherConf := nats.PublisherConf{
			Log:     log,
			NatsUrl: conf.NatsEventsUrl,
			Subject: conf.NatsEventsSubject,
		}
		publisher, err := nats.CreatePublisher(publisherConf)
		if err != nil {
			return fail("Error creating nats event publisher", err)
		}
		sinks = append(sinks, publisher)
	}

	if conf.NatsEventsUrl != "" && conf.NatsKvBucket != "" {
		ttl, err := parseDuration(conf.NatsKvTTL)
		if err != nil {
			return fail("Bad nats kv ttl", err)
		}

		kvConf := nats.KvConf{
			Log:     log,
			NatsUrl: conf.NatsEventsUrl,
			Bucket:  conf.NatsKvBucket,
			TTL:     ttl,
		}
		kv, err := nats.CreateKv(kvConf)
		if err != nil {
			return fail("Error creating nats kv store", err)
		}
		sinks = append(sinks, kv)
	}

	return sinks, nil
}

/* Empty means "use the default" */
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	return time.ParseDuration(s)
}
