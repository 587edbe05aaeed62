package ingestor

import (
	"time"
)

type EventType int

const (
	EVENT_CONNECTED EventType = iota
	EVENT_DISCONNECTED
	EVENT_CONNECT_FAILED
	EVENT_SUBSCRIBE_FAILED
	EVENT_MESSAGE
	EVENT_DECODE_FAILED
)

/*
 * Event is handed to observers by value. Series is a private copy, so
 * observers may keep or modify it freely.
 */
type Event struct {
	Type   EventType
	Topic  string
	Value  float64
	Count  uint64
	Series []float64
	Err    error
	Time   time.Time
}

func (t EventType) String() string {
	switch t {
	case EVENT_CONNECTED:
		return "connected"
	case EVENT_DISCONNECTED:
		return "disconnected"
	case EVENT_CONNECT_FAILED:
		return "connect_failed"
	case EVENT_SUBSCRIBE_FAILED:
		return "subscribe_failed"
	case EVENT_MESSAGE:
		return "message"
	case EVENT_DECODE_FAILED:
		return "decode_failed"
	default:
		return "unknown"
	}
}
