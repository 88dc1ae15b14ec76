package main

import (
	"github.com/cuemby/cloner/pkg/events"
	"github.com/cuemby/cloner/pkg/log"
)

// startEventLog starts a broker whose events are written to the log.
// The returned function stops the broker and drains the subscriber.
func startEventLog() (*events.Broker, func()) {
	broker := events.NewBroker()
	broker.Start()

	sub := broker.Subscribe()
	done := make(chan struct{})
	logger := log.WithComponent("events")

	go func() {
		defer close(done)
		for ev := range sub {
			entry := logger.Info()
			if ev.Type == events.EventSnapshotFailed {
				entry = logger.Warn()
			}
			for k, v := range ev.Metadata {
				entry = entry.Str(k, v)
			}
			entry.Str("event", string(ev.Type)).Str("event_id", ev.ID).Msg(ev.Message)
		}
	}()

	return broker, func() {
		broker.Stop()
		broker.Unsubscribe(sub)
		<-done
	}
}
