//go:build itests

package itests

import (
	"strconv"
	"testing"
	"time"

	"github.com/dnstapir/telemetry-dashboard/setup"
)

func BenchmarkIngestMqtt(b *testing.B) {
	it := new(iTest)
	it.tester = b
	it.bencher = b
	it.setup(false, setup.TRANSPORT_MQTT, c_MQTT_URL)
	defer it.teardown()

	it.startApp()
	it.startSender()

	it.ResetTimer()

	for n := range b.N {
		it.publish("ESI/ICS/CARS", strconv.Itoa(n))
	}

	deadline := time.Now().Add(c_WAIT_TIMEOUT)
	for it.app.Ingestor.Snapshot().Topics["ESI/ICS/CARS"].Count < uint64(b.N) {
		if time.Now().After(deadline) {
			b.Fatalf("Only %d of %d samples ingested", it.app.Ingestor.Snapshot().Topics["ESI/ICS/CARS"].Count, b.N)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
