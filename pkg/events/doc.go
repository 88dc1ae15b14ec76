/*
Package events provides an in-process publish/subscribe broker for cloner
lifecycle events.

The supervisor publishes process events (started, terminating, escalated,
exited), HAProxy monitors publish snapshot events (loaded, failed) and the
reconciler publishes one host.flagged event per host recommended for
rotation. Components depend only on the Publisher interface; the cloner
binary wires a Broker and logs every event it receives.

Delivery is best effort. Each subscriber has a 50 event buffer and events
are dropped for subscribers that fall behind, so a slow consumer never stalls
the supervisor's termination path.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.Message)
		}
	}()
*/
package events
