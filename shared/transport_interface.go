package shared

import (
	"context"
)

type TransportEventType int

const (
	TRANSPORT_MESSAGE TransportEventType = iota
	TRANSPORT_DISCONNECTED
	TRANSPORT_RECONNECTED
	TRANSPORT_ERROR
)

type TransportIF interface {
	Connect(context.Context, string) (<-chan TransportEvent, error)
	Subscribe(context.Context, string) error
	Publish(context.Context, string, []byte) error
	CheckConnection() bool
	Stop()
}

type TransportEvent struct {
	Type    TransportEventType
	Topic   string
	Payload []byte
	Err     error
}

func (t TransportEventType) String() string {
	switch t {
	case TRANSPORT_MESSAGE:
		return "message"
	case TRANSPORT_DISCONNECTED:
		return "disconnected"
	case TRANSPORT_RECONNECTED:
		return "reconnected"
	case TRANSPORT_ERROR:
		return "error"
	default:
		return "unknown"
	}
}
