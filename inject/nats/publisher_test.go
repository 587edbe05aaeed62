package nats

import (
	"testing"

	"github.com/dnstapir/telemetry-dashboard/inject/fake"
)

func TestSubjectFor(t *testing.T) {
	cases := map[string]string{
		"ESI/ICS/CARS":   "telemetry.ESI.ICS.CARS",
		"/ESI//BUSES/":   "telemetry.ESI.BUSES",
		"a.b":            "telemetry.a.b",
		"":               "telemetry",
		"with space/top": "telemetry.with.space.top",
	}

	for topic, want := range cases {
		got := SubjectFor("telemetry", topic)
		if got != want {
			t.Fatalf("SubjectFor('%s'), want: '%s', got: '%s'", topic, want, got)
		}
	}
}

func TestCreatePublisherBadConf(t *testing.T) {
	_, err := CreatePublisher(PublisherConf{Subject: "telemetry"})
	if err == nil {
		t.Fatalf("Expected error on nil logger")
	}

	_, err = CreatePublisher(PublisherConf{Log: fake.Logger()})
	if err == nil {
		t.Fatalf("Expected error on empty subject")
	}
}

func TestCreateClient(t *testing.T) {
	_, err := Create(Conf{})
	if err == nil {
		t.Fatalf("Expected error on nil logger")
	}

	c, err := Create(Conf{Log: fake.Logger()})
	if err != nil {
		t.Fatalf("Error creating nats client: %s", err)
	}

	if c.CheckConnection() {
		t.Fatalf("New client reports connection")
	}

	/* Stop on a never connected client is a no-op */
	c.Stop()
}

func TestKeyFor(t *testing.T) {
	if KeyFor("ESI/ICS/CARS") != "ESI.ICS.CARS" {
		t.Fatalf("Unexpected key '%s'", KeyFor("ESI/ICS/CARS"))
	}

	if KeyFor("//") != "" {
		t.Fatalf("Expected empty key for topic without levels")
	}
}

func TestCreateKvBadConf(t *testing.T) {
	_, err := CreateKv(KvConf{Bucket: "telemetry"})
	if err == nil {
		t.Fatalf("Expected error on nil logger")
	}

	_, err = CreateKv(KvConf{Log: fake.Logger()})
	if err == nil {
		t.Fatalf("Expected error on empty bucket")
	}
}
