package ingestor

import (
	"errors"
	"fmt"
)

var ErrAlreadyStarted = errors.New("ingestor already started")
var ErrStopped = errors.New("ingestor stopped")

type ConnectionError struct {
	Url string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to '%s' failed: %s", e.Url, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type SubscriptionError struct {
	Topic string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription to '%s' failed: %s", e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

type DecodeError struct {
	Topic   string
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("could not decode payload on '%s': %s", e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
