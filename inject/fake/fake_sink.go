package fake

import (
	"context"
	"errors"

	"github.com/dnstapir/telemetry-dashboard/shared"
)

type sink struct {
	name   string
	dataCh chan shared.SinkData
	closed bool
}

func Sink(name string) *sink {
	s := new(sink)
	s.name = name
	s.dataCh = make(chan shared.SinkData, 100)
	return s
}

func (s *sink) Name() string {
	return s.name
}

func (s *sink) Put(ctx context.Context, data shared.SinkData) error {
	if s.closed {
		return errors.New("sink closed")
	}

	s.dataCh <- data
	return nil
}

func (s *sink) Close() error {
	s.closed = true
	return nil
}

func (s *sink) Eavesdrop() shared.SinkData {
	return <-s.dataCh
}
