package shared

import (
	"context"
	"time"
)

const NATSHEADER_TELEMETRY_TOPIC = "Telemetry-Topic"
const NATSHEADER_TELEMETRY_EVENT = "Telemetry-Event"
const NATSHEADER_TELEMETRY_LABEL = "Telemetry-Label"

var NATSHEADERS_TELEMETRY_ALL = []string{
	NATSHEADER_TELEMETRY_TOPIC,
	NATSHEADER_TELEMETRY_EVENT,
	NATSHEADER_TELEMETRY_LABEL,
}

/*
 * Sinks receive accepted samples after the ingestor has applied them. They
 * only ever see copies, never the ingestor's own state.
 */
type SinkIF interface {
	Name() string
	Put(context.Context, SinkData) error
	Close() error
}

type SinkData struct {
	Topic   string
	Label   string
	Value   float64
	Count   uint64
	Updated time.Time
}
