package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dnstapir/telemetry-dashboard/app/ingestor"
	"github.com/dnstapir/telemetry-dashboard/shared"
)

const cDEFAULT_RETRY_INTERVAL = 5 * time.Second
const cSINK_TIMEOUT = 2 * time.Second
const cSHUTDOWN_TIMEOUT = 5 * time.Second

/* The HTTP api, or anything else started and stopped with the app */
type ServerIF interface {
	Start() error
	Stop(context.Context) error
}

type App struct {
	Log           shared.LoggerIF
	Ingestor      *ingestor.Ingestor
	Sinks         []shared.SinkIF
	Api           ServerIF
	RetryInterval time.Duration

	isInitialized bool
	labels        map[string]string
	doneChan      chan error
	runCtx        context.Context
	cancel        context.CancelFunc
	retryDone     chan struct{}
	pumpDone      chan struct{}
	obsCancel     func()
	stopOnce      sync.Once
}

func (a *App) Initialize() error {
	if a.Log == nil {
		return errors.New("no logger object")
	}

	if a.Ingestor == nil {
		return errors.New("no ingestor object")
	}

	if a.RetryInterval <= 0 {
		a.RetryInterval = cDEFAULT_RETRY_INTERVAL
	}

	a.labels = make(map[string]string)
	for _, t := range a.Ingestor.Topics() {
		a.labels[t.Name] = t.Label
	}

	a.doneChan = make(chan error, 10)
	a.retryDone = make(chan struct{})
	a.pumpDone = make(chan struct{})

	a.isInitialized = true
	return nil
}

/*
 * Run starts the api, the sink pump and the connection loop. Errors that
 * end the application are delivered on the returned channel.
 */
func (a *App) Run() <-chan error {
	if !a.isInitialized {
		panic("app not initialized")
	}

	a.Log.Info("Starting main loop")

	a.runCtx, a.cancel = context.WithCancel(context.Background())

	if a.Api != nil {
		err := a.Api.Start()
		if err != nil {
			a.Log.Error("Error starting api: %s", err)
			a.doneChan <- err
		}
	}

	events, obsCancel := a.Ingestor.Subscribe()
	a.obsCancel = obsCancel
	go a.pump(events)

	go a.connectLoop()

	a.Log.Info("Application is now up and running")
	return a.doneChan
}

func (a *App) Stop() error {
	if !a.isInitialized {
		a.Log.Info("Stop() called but application was not initialized")
		return nil
	}

	a.stopOnce.Do(a.stop)

	return nil
}

func (a *App) stop() {
	a.Log.Info("Stopping application")

	if a.cancel == nil {
		/* Never ran */
		close(a.doneChan)
		return
	}

	a.cancel()
	<-a.retryDone

	a.Ingestor.Stop()

	a.obsCancel()
	<-a.pumpDone

	for _, sink := range a.Sinks {
		err := sink.Close()
		if err != nil {
			a.Log.Warning("Error closing sink '%s': %s", sink.Name(), err)
		}
	}

	if a.Api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cSHUTDOWN_TIMEOUT)
		defer cancel()

		err := a.Api.Stop(ctx)
		if err != nil {
			a.Log.Warning("Error stopping api: %s", err)
		}
	}

	close(a.doneChan)

	a.Log.Info("Application stopped")
}

/* Retry policy lives here, the ingestor only reports the failure */
func (a *App) connectLoop() {
	defer close(a.retryDone)

	for {
		err := a.Ingestor.Start(a.runCtx)
		if err == nil {
			return
		}

		if a.runCtx.Err() != nil {
			return
		}

		if errors.Is(err, ingestor.ErrAlreadyStarted) {
			return
		}

		a.Log.Warning("Connection attempt failed, retrying in %s", a.RetryInterval)

		select {
		case <-a.runCtx.Done():
			return
		case <-time.After(a.RetryInterval):
		}
	}
}

func (a *App) pump(events <-chan ingestor.Event) {
	defer close(a.pumpDone)

	for ev := range events {
		if ev.Type != ingestor.EVENT_MESSAGE {
			continue
		}

		data := shared.SinkData{
			Topic:   ev.Topic,
			Label:   a.labels[ev.Topic],
			Value:   ev.Value,
			Count:   ev.Count,
			Updated: ev.Time,
		}

		for _, sink := range a.Sinks {
			ctx, cancel := context.WithTimeout(context.Background(), cSINK_TIMEOUT)
			err := sink.Put(ctx, data)
			cancel()

			if err != nil {
				a.Log.Warning("Sink '%s' rejected sample for '%s': %s", sink.Name(), ev.Topic, err)
			}
		}
	}

	a.Log.Debug("Sink pump done")
}
