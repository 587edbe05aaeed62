package ingestor

type ConnectionState int32

const (
	DISCONNECTED ConnectionState = iota
	CONNECTING
	CONNECTED
	ERRORED
)

func (s ConnectionState) String() string {
	switch s {
	case DISCONNECTED:
		return "disconnected"
	case CONNECTING:
		return "connecting"
	case CONNECTED:
		return "connected"
	case ERRORED:
		return "errored"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
