//go:build itests

package itests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	goredis "github.com/redis/go-redis/v9"

	"github.com/dnstapir/telemetry-dashboard/inject/redis"
	"github.com/dnstapir/telemetry-dashboard/setup"
	"github.com/dnstapir/telemetry-dashboard/shared"
)

func TestIntegrationRedisMirror(t *testing.T) {
	it := new(iTest)
	it.tester = t
	it.setup(true, setup.TRANSPORT_MQTT, c_MQTT_URL)
	defer it.teardown()

	it.conf.RedisAddr = c_REDIS_ADDR
	it.conf.RedisTTL = "1m"

	it.startApp()
	it.startSender()

	it.publish("ESI/ICS/TRUCKS", "21")
	it.waitForSeries("ESI/ICS/TRUCKS", []float64{21})

	rdb := goredis.NewClient(&goredis.Options{Addr: c_REDIS_ADDR})
	defer rdb.Close()

	deadline := time.Now().Add(c_WAIT_TIMEOUT)
	for {
		val, err := rdb.Get(context.Background(), redis.LatestKey("ESI/ICS/TRUCKS")).Result()
		if err == nil && val == "21" {
			break
		}

		if time.Now().After(deadline) {
			t.Fatalf("Latest value not mirrored, got '%s' (%v)", val, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestIntegrationNatsEvents(t *testing.T) {
	it := new(iTest)
	it.tester = t
	it.setup(true, setup.TRANSPORT_MQTT, c_MQTT_URL)
	defer it.teardown()

	it.conf.NatsEventsUrl = c_NATS_URL
	it.conf.NatsEventsSubject = "telemetry"

	nc, err := nats.Connect(c_NATS_URL)
	if err != nil {
		t.Fatalf("Error connecting to nats: %s", err)
	}
	defer nc.Close()

	msgCh := make(chan *nats.Msg, 10)
	_, err = nc.ChanSubscribe("telemetry.>", msgCh)
	if err != nil {
		t.Fatalf("Error subscribing: %s", err)
	}

	it.startApp()
	it.startSender()

	it.publish("ESI/ICS/CARS", "5")

	select {
	case msg := <-msgCh:
		if msg.Subject != "telemetry.ESI.ICS.CARS" {
			t.Fatalf("Unexpected subject '%s'", msg.Subject)
		}

		if msg.Header.Get(shared.NATSHEADER_TELEMETRY_TOPIC) != "ESI/ICS/CARS" {
			t.Fatalf("Missing topic header %v", msg.Header)
		}

		if msg.Header.Get(shared.NATSHEADER_TELEMETRY_LABEL) != "Cars" {
			t.Fatalf("Missing label header %v", msg.Header)
		}

		var got struct {
			Value float64 `json:"value"`
			Count uint64  `json:"count"`
		}
		err := json.Unmarshal(msg.Data, &got)
		if err != nil {
			t.Fatalf("Error decoding event: %s", err)
		}

		if got.Value != 5 || got.Count != 1 {
			t.Fatalf("Unexpected event %+v", got)
		}
	case <-time.After(c_WAIT_TIMEOUT):
		t.Fatalf("No event published on nats")
	}
}

func TestIntegrationNatsKv(t *testing.T) {
	it := new(iTest)
	it.tester = t
	it.setup(true, setup.TRANSPORT_MQTT3, c_MQTT_URL)
	defer it.teardown()

	it.conf.NatsEventsUrl = c_NATS_URL
	it.conf.NatsKvBucket = "telemetry-latest"

	it.startApp()
	it.startSender()

	it.publish("ESI/ICS/BUSES", "9")
	it.waitForSeries("ESI/ICS/BUSES", []float64{9})

	nc, err := nats.Connect(c_NATS_URL)
	if err != nil {
		t.Fatalf("Error connecting to nats: %s", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("Error creating jetstream context: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c_WAIT_TIMEOUT)
	defer cancel()

	kv, err := js.KeyValue(ctx, "telemetry-latest")
	if err != nil {
		t.Fatalf("Error opening bucket: %s", err)
	}

	deadline := time.Now().Add(c_WAIT_TIMEOUT)
	for {
		entry, err := kv.Get(ctx, "ESI.ICS.BUSES")
		if err == nil && string(entry.Value()) == "9" {
			break
		}

		if time.Now().After(deadline) {
			t.Fatalf("Latest value not stored in bucket (%v)", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
