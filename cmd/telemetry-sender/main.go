package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dnstapir/telemetry-dashboard/app/keys"
	"github.com/dnstapir/telemetry-dashboard/inject/logging"
	"github.com/dnstapir/telemetry-dashboard/setup"
	"github.com/dnstapir/telemetry-dashboard/shared"
)

/* Publishes random vehicle counts, for demos and for exercising the dashboard */

type sample struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conf := setup.DefaultConf()

	var topics string
	var interval time.Duration
	var maxCount int
	var messages int
	var format string
	var signKeyFile string
	var genKeyID string

	flag.BoolVar(&conf.Debug, "debug", false, "Enable debug logs")
	flag.StringVar(&conf.Transport, "transport", conf.Transport, "'mqtt', 'mqtt3' or 'nats'")
	flag.StringVar(&conf.BrokerUrl, "broker-url", conf.BrokerUrl, "URL of broker")
	flag.StringVar(&conf.ClientID, "client-id", "telemetry-sender", "Client identifier")
	flag.StringVar(&conf.MqttCaCert, "mqtt-ca-cert", "", "CA cert for MQTT broker")
	flag.StringVar(&topics, "topics", "ESI/ICS/CARS,ESI/ICS/TRUCKS,ESI/ICS/BUSES", "Comma separated topics")
	flag.DurationVar(&interval, "interval", time.Second, "Time between rounds")
	flag.IntVar(&maxCount, "max", 50, "Largest count to send")
	flag.IntVar(&messages, "rounds", 0, "Rounds to send, 0 means until interrupted")
	flag.StringVar(&format, "format", "float", "'float' or 'json'")
	flag.StringVar(&signKeyFile, "sign-key", "", "JWK for signing payloads (jws)")
	flag.StringVar(&genKeyID, "generate-key", "", "Generate a signing key with this id into -sign-key and exit")

	flag.Parse()

	log := logging.Create(conf.Debug, false)

	if genKeyID != "" {
		err := generateKeys(signKeyFile, genKeyID)
		if err != nil {
			log.Error("Error generating keys: %s", err)
			os.Exit(1)
		}
		return
	}

	var signKey keys.SignKey
	if signKeyFile != "" {
		var err error
		signKey, err = keys.GetSignKey(signKeyFile)
		if err != nil {
			log.Error("Error reading signing key: %s", err)
			os.Exit(1)
		}
	}

	transport, err := setup.BuildTransport(conf, log)
	if err != nil {
		log.Error("Error creating transport: %s", err)
		os.Exit(1)
	}

	_, err = transport.Connect(ctx, conf.BrokerUrl)
	if err != nil {
		log.Error("Error connecting to '%s': %s", conf.BrokerUrl, err)
		os.Exit(1)
	}
	defer transport.Stop()

	err = run(ctx, log, transport, sendConf{
		topics:   strings.Split(topics, ","),
		interval: interval,
		maxCount: maxCount,
		rounds:   messages,
		format:   format,
		signKey:  signKey,
	})
	if err != nil && ctx.Err() == nil {
		log.Error("Sender stopped: %s", err)
		os.Exit(1)
	}
}

type sendConf struct {
	topics   []string
	interval time.Duration
	maxCount int
	rounds   int
	format   string
	signKey  keys.SignKey
}

func run(ctx context.Context, log shared.LoggerIF, transport shared.TransportIF, sc sendConf) error {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for round := 1; sc.rounds == 0 || round <= sc.rounds; round++ {
		for _, topic := range sc.topics {
			value := float64(rand.IntN(sc.maxCount + 1))

			payload, err := encode(value, sc.format, sc.signKey)
			if err != nil {
				return err
			}

			err = transport.Publish(ctx, topic, payload)
			if err != nil {
				log.Warning("Error publishing on '%s': %s", topic, err)
				continue
			}
			log.Debug("Sent %v on '%s'", value, topic)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

func encode(value float64, format string, signKey keys.SignKey) ([]byte, error) {
	var payload []byte

	switch format {
	case "float":
		payload = []byte(strconv.FormatFloat(value, 'f', -1, 64))
	case "json":
		var err error
		payload, err = json.Marshal(sample{Value: value, Timestamp: time.Now().UTC()})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported format '%s'", format)
	}

	if signKey == nil {
		return payload, nil
	}

	return keys.Sign(payload, signKey)
}

/* Writes the signing key to filename and the matching public key next to it */
func generateKeys(filename string, keyID string) error {
	if filename == "" {
		return fmt.Errorf("no -sign-key file given")
	}

	signKey, err := keys.GenerateSignKey(filename, keyID)
	if err != nil {
		return err
	}

	valKey, err := keys.ToValkey(signKey)
	if err != nil {
		return err
	}

	pub, err := json.Marshal(valKey)
	if err != nil {
		return err
	}

	return os.WriteFile(strings.TrimSuffix(filename, ".json")+".pub.json", pub, 0644)
}
