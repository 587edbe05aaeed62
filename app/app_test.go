package app

import (
	"errors"
	"testing"
	"time"

	"github.com/dnstapir/telemetry-dashboard/app/ingestor"
	"github.com/dnstapir/telemetry-dashboard/inject/fake"
	"github.com/dnstapir/telemetry-dashboard/shared"
)

var testTopics = []ingestor.Topic{
	{Name: "ESI/ICS/CARS", Label: "Cars"},
	{Name: "ESI/ICS/TRUCKS", Label: "Trucks"},
	{Name: "ESI/ICS/BUSES", Label: "Buses"},
}

func createTestIngestor(t *testing.T, tr shared.TransportIF) *ingestor.Ingestor {
	conf := ingestor.Conf{
		Log:       fake.Logger(),
		Transport: tr,
		BrokerUrl: "mqtt://localhost:1883",
		Topics:    testTopics,
	}

	ing, err := ingestor.Create(conf)
	if err != nil {
		t.Fatalf("Error creating ingestor: %s", err)
	}

	return ing
}

func waitForState(t *testing.T, ing *ingestor.Ingestor, state ingestor.ConnectionState) {
	deadline := time.Now().Add(5 * time.Second)
	for ing.State() != state {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for state %s, have %s", state, ing.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAppSamplesReachSinks(t *testing.T) {
	fakeTransport := fake.Transport()
	fakeSink := fake.Sink("test")
	ing := createTestIngestor(t, fakeTransport)

	application := App{
		Log:      fake.Logger(),
		Ingestor: ing,
		Sinks:    []shared.SinkIF{fakeSink},
	}

	err := application.Initialize()
	if err != nil {
		t.Fatalf("Error initializing app: %s", err)
	}

	application.Run()
	waitForState(t, ing, ingestor.CONNECTED)

	fakeTransport.Inject("ESI/ICS/TRUCKS", []byte("not a number"))
	fakeTransport.Inject("ESI/ICS/BUSES", []byte("7.5"))
	out := fakeSink.Eavesdrop()

	err = application.Stop()
	if err != nil {
		t.Fatalf("Error stopping application: %s", err)
	}

	if out.Topic != "ESI/ICS/BUSES" || out.Label != "Buses" || out.Value != 7.5 || out.Count != 1 {
		t.Fatalf("Unexpected sink data %+v", out)
	}

	if ing.State() != ingestor.DISCONNECTED {
		t.Fatalf("Ingestor not stopped, state %s", ing.State())
	}
}

func TestAppRetriesConnect(t *testing.T) {
	fakeTransport := fake.Transport()
	fakeTransport.FailConnect(errors.New("connection refused"))
	ing := createTestIngestor(t, fakeTransport)

	application := App{
		Log:           fake.Logger(),
		Ingestor:      ing,
		RetryInterval: 10 * time.Millisecond,
	}

	err := application.Initialize()
	if err != nil {
		t.Fatalf("Error initializing app: %s", err)
	}

	application.Run()

	deadline := time.Now().Add(5 * time.Second)
	for len(fakeTransport.Urls()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("App did not retry connecting")
		}
		time.Sleep(time.Millisecond)
	}

	fakeTransport.FailConnect(nil)
	waitForState(t, ing, ingestor.CONNECTED)

	err = application.Stop()
	if err != nil {
		t.Fatalf("Error stopping application: %s", err)
	}
}

func TestAppStopWhileRetrying(t *testing.T) {
	fakeTransport := fake.Transport()
	fakeTransport.FailConnect(errors.New("connection refused"))
	ing := createTestIngestor(t, fakeTransport)

	application := App{
		Log:           fake.Logger(),
		Ingestor:      ing,
		RetryInterval: time.Hour,
	}

	err := application.Initialize()
	if err != nil {
		t.Fatalf("Error initializing app: %s", err)
	}

	doneCh := application.Run()
	waitForState(t, ing, ingestor.ERRORED)

	stopped := make(chan struct{})
	go func() {
		application.Stop()
		application.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatalf("Stop blocked on retry wait")
	}

	_, ok := <-doneCh
	if ok {
		t.Fatalf("Expected done channel to be closed")
	}
}

func TestAppInitializeValidation(t *testing.T) {
	application := App{Ingestor: createTestIngestor(t, fake.Transport())}
	err := application.Initialize()
	if err == nil {
		t.Fatalf("Expected error on missing logger")
	}

	application = App{Log: fake.Logger()}
	err = application.Initialize()
	if err == nil {
		t.Fatalf("Expected error on missing ingestor")
	}
}
