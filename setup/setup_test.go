package setup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dnstapir/telemetry-dashboard/inject/fake"
)

func writeConf(t *testing.T, content string) string {
	filename := filepath.Join(t.TempDir(), "config.toml")
	err := os.WriteFile(filename, []byte(content), 0600)
	if err != nil {
		t.Fatalf("Error writing config: %s", err)
	}

	return filename
}

func TestDefaultConf(t *testing.T) {
	conf := DefaultConf()

	if conf.BrokerUrl != "mqtt://test.mosquitto.org:1883" {
		t.Fatalf("Unexpected default broker '%s'", conf.BrokerUrl)
	}

	if len(conf.Topics) != 3 || conf.Topics[0].Name != "ESI/ICS/CARS" {
		t.Fatalf("Unexpected default topics %+v", conf.Topics)
	}
}

func TestLoadConf(t *testing.T) {
	filename := writeConf(t, `
Debug = true
BrokerUrl = "mqtt://127.0.0.1:1883"
Transport = "mqtt"
MaxSamples = 100

[[Topics]]
Name = "site/a/count"
Label = "A"

[[Topics]]
Name = "site/b/count"
`)

	conf, err := LoadConf(filename)
	if err != nil {
		t.Fatalf("Error loading config: %s", err)
	}

	if !conf.Debug || conf.MaxSamples != 100 || conf.Transport != TRANSPORT_MQTT {
		t.Fatalf("Values from file not applied: %+v", conf)
	}

	if conf.RetryInterval != "5s" || conf.HttpAddr != ":8080" {
		t.Fatalf("Defaults not kept: %+v", conf)
	}

	if len(conf.Topics) != 2 || conf.Topics[0].Label != "A" || conf.Topics[1].Name != "site/b/count" {
		t.Fatalf("Unexpected topics %+v", conf.Topics)
	}
}

func TestLoadConfEnvOverride(t *testing.T) {
	filename := writeConf(t, `BrokerUrl = "mqtt://127.0.0.1:1883"`)

	t.Setenv(ENVVAR_OVERRIDE_BROKER_URL, "mqtt://broker.example:1883")
	t.Setenv(ENVVAR_OVERRIDE_HTTP_ADDR, "127.0.0.1:9999")

	conf, err := LoadConf(filename)
	if err != nil {
		t.Fatalf("Error loading config: %s", err)
	}

	if conf.BrokerUrl != "mqtt://broker.example:1883" {
		t.Fatalf("Broker url not overridden: '%s'", conf.BrokerUrl)
	}

	if conf.HttpAddr != "127.0.0.1:9999" {
		t.Fatalf("Http addr not overridden: '%s'", conf.HttpAddr)
	}
}

func TestLoadConfBadFile(t *testing.T) {
	_, err := LoadConf(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatalf("Expected error on missing file")
	}

	_, err = LoadConf(writeConf(t, `BrokerUrl = `))
	if err == nil {
		t.Fatalf("Expected error on malformed file")
	}
}

func TestBuildAppDefaults(t *testing.T) {
	conf := DefaultConf()
	conf.HttpAddr = ""

	a, err := BuildAppWithLogger(conf, fake.Logger())
	if err != nil {
		t.Fatalf("Error building app: %s", err)
	}

	if a.Ingestor == nil || a.Api != nil || len(a.Sinks) != 0 {
		t.Fatalf("Unexpected app wiring %+v", a)
	}

	if a.RetryInterval != 5*time.Second {
		t.Fatalf("Unexpected retry interval %s", a.RetryInterval)
	}

	if len(a.Ingestor.Topics()) != 3 {
		t.Fatalf("Unexpected topics %+v", a.Ingestor.Topics())
	}
}

func TestBuildAppTransports(t *testing.T) {
	for _, tr := range []string{TRANSPORT_MQTT, TRANSPORT_MQTT3, TRANSPORT_NATS} {
		conf := DefaultConf()
		conf.Transport = tr

		_, err := BuildAppWithLogger(conf, fake.Logger())
		if err != nil {
			t.Fatalf("Error building app with transport '%s': %s", tr, err)
		}
	}
}

func TestBuildAppBadConf(t *testing.T) {
	bad := []func(*AppConf){
		func(c *AppConf) { c.Transport = "carrier-pigeon" },
		func(c *AppConf) { c.Decoder = "yaml" },
		func(c *AppConf) { c.Decoder = "jws" },
		func(c *AppConf) { c.RetryInterval = "soon" },
		func(c *AppConf) { c.BrokerUrl = "" },
		func(c *AppConf) { c.Topics = nil },
		func(c *AppConf) { c.Topics[0].Name = "ESI/ICS/#" },
		func(c *AppConf) { c.MaxSamples = -1 },
	}

	for n, mod := range bad {
		conf := DefaultConf()
		mod(&conf)

		_, err := BuildAppWithLogger(conf, fake.Logger())
		if err == nil {
			t.Fatalf("Expected error for bad conf %d", n)
		}
	}
}
