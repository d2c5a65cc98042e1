/*
Package events is an in-memory pub/sub broker for manager-observed
lifecycle events (task ready/dispatched/done/failed, worker joined/gone,
cache materialized/invalid). Publish is non-blocking and best-effort: a
slow subscriber's full buffer just skips the event rather than blocking
the dispatcher goroutine that published it.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for event := range sub {
			fmt.Println(event.Type, event.Message)
		}
	}()

	broker.Publish(&events.Event{Type: events.EventTaskDone, Message: "task 42 done"})
*/
package events
