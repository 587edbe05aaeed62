//go:build itests

package itests

import (
	"context"
	"path/filepath"
	"slices"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/compose"

	"github.com/dnstapir/telemetry-dashboard/app"
	"github.com/dnstapir/telemetry-dashboard/app/ingestor"
	"github.com/dnstapir/telemetry-dashboard/inject/logging"
	"github.com/dnstapir/telemetry-dashboard/setup"
	"github.com/dnstapir/telemetry-dashboard/shared"
)

type tester interface {
	Logf(format string, args ...any)
	Fatalf(format string, args ...any)
	TempDir() string
}

type bencher interface {
	ResetTimer()
}

type iTest struct {
	tester
	bencher
	log       shared.LoggerIF
	conf      setup.AppConf
	app       *app.App
	sender    shared.TransportIF
	stack     *compose.DockerCompose
	stackFile string
}

const c_DIR_BASE = "sut/"
const c_FILE_COMPOSE = "docker-compose.yaml"
const c_MQTT_URL = "mqtt://localhost:1883"
const c_NATS_URL = "nats://localhost:4222"
const c_REDIS_ADDR = "localhost:6379"
const c_MAX_CONNECTION_CHECKS = 10
const c_WAIT_TIMEOUT = 30 * time.Second

/* Same topics as the public dashboard, against the local brokers */
func (t *iTest) setup(debug bool, transport string, brokerUrl string) {
	t.log = logging.Create(debug, false)

	t.setupContainers()

	t.conf = setup.DefaultConf()
	t.conf.Debug = debug
	t.conf.Transport = transport
	t.conf.BrokerUrl = brokerUrl
	t.conf.ClientID = "itest-dashboard"
	t.conf.HttpAddr = ""
	t.conf.RetryInterval = "1s"
}

func (t *iTest) startApp() {
	a, err := setup.BuildAppWithLogger(t.conf, t.log)
	if err != nil {
		t.Fatalf("Error building app: %s", err)
	}

	err = a.Initialize()
	if err != nil {
		t.Fatalf("Error initializing app: %s", err)
	}

	a.Run()
	t.app = a

	t.waitForState(ingestor.CONNECTED)
	t.waitForSubscriptions()
}

func (t *iTest) startSender() {
	senderConf := t.conf
	senderConf.ClientID = "itest-sender"

	sender, err := setup.BuildTransport(senderConf, t.log)
	if err != nil {
		t.Fatalf("Error creating sender: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c_WAIT_TIMEOUT)
	defer cancel()

	_, err = sender.Connect(ctx, t.conf.BrokerUrl)
	if err != nil {
		t.Fatalf("Error connecting sender: %s", err)
	}

	t.sender = sender
}

func (t *iTest) publish(topic string, payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), c_WAIT_TIMEOUT)
	defer cancel()

	err := t.sender.Publish(ctx, topic, []byte(payload))
	if err != nil {
		t.Fatalf("Error publishing on '%s': %s", topic, err)
	}
}

func (t *iTest) setupContainers() {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	t.stackFile = filepath.Join(c_DIR_BASE, c_FILE_COMPOSE)

	stack, err := compose.NewDockerCompose(t.stackFile)
	if err != nil {
		t.Fatalf("Error creating compose stack: %s", err)
	}

	err = stack.Up(ctx,
		compose.Wait(true),
		compose.WithRecreate("nats"),
		compose.WithRecreate("mosquitto"),
		compose.WithRecreate("redis"))
	if err != nil {
		t.Fatalf("Error starting compose stack: %s", err)
	}

	t.stack = stack
}

func (t *iTest) teardown() {
	if t.app != nil {
		t.app.Stop()
		t.app = nil
	}

	if t.sender != nil {
		t.sender.Stop()
		t.sender = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	err := t.stack.Down(
		ctx,
		compose.RemoveOrphans(true),
		compose.RemoveVolumes(true),
	)
	if err != nil {
		t.Fatalf("Error tearing down compose stack: %s", err)
	}
}

func (t *iTest) restartService(service string) {
	t.Logf("Restarting service '%s'", service)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	container, err := t.stack.ServiceContainer(ctx, service)
	if err != nil {
		t.Fatalf("Error finding service '%s': %s", service, err)
	}

	err = container.Stop(ctx, nil)
	if err != nil {
		t.Fatalf("Error stopping service '%s': %s", service, err)
	}

	err = container.Start(ctx)
	if err != nil {
		t.Fatalf("Error starting service '%s': %s", service, err)
	}

	for i := range c_MAX_CONNECTION_CHECKS {
		if t.sender.CheckConnection() && t.app.Ingestor.State() == ingestor.CONNECTED {
			break
		}

		if i == c_MAX_CONNECTION_CHECKS-1 {
			t.Fatalf("Max connection checks reached after restarting service")
		}
		time.Sleep(3 * time.Second)
	}

	t.waitForSubscriptions()

	t.Logf("Done restarting '%s'!", service)
}

func (t *iTest) waitForState(state ingestor.ConnectionState) {
	deadline := time.Now().Add(c_WAIT_TIMEOUT)
	for t.app.Ingestor.State() != state {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for state %s", state)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (t *iTest) waitForSubscriptions() {
	deadline := time.Now().Add(c_WAIT_TIMEOUT)
	for {
		all := true
		for _, ts := range t.app.Ingestor.Snapshot().Topics {
			all = all && ts.Subscribed
		}

		if all {
			return
		}

		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for subscriptions")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

/* Poll until topic has exactly the wanted series */
func (t *iTest) waitForSeries(topic string, want []float64) ingestor.Snapshot {
	deadline := time.Now().Add(c_WAIT_TIMEOUT)
	for {
		snap := t.app.Ingestor.Snapshot()
		if slices.Equal(snap.Topics[topic].Series, want) {
			return snap
		}

		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for '%s' series %v, have %v", topic, want, snap.Topics[topic].Series)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
