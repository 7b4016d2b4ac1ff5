/*
Package events provides an in-memory event broker for the restore engine's
pub/sub notifications.

The events package implements a lightweight event bus for broadcasting
restore lifecycle events to interested subscribers. It supports
topic-agnostic subscriptions with asynchronous, non-blocking delivery,
enabling loose coupling between the restore driver and whatever observes
it (CLI status streams, metrics, audit logs).

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Publisher → Event Channel (buffer: 100)                  │
	│       ↓                                                     │
	│  Broadcast Loop                                            │
	│       ↓                                                     │
	│  Subscriber Channels (buffer: 50 each)                     │
	│                                                            │
	│  Event Types:                                              │
	│    - restore.started                                       │
	│    - restore.finished                                      │
	│    - restore.failed                                        │
	└────────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Event:
  - ID: unique event identifier
  - Type: restore.started, restore.finished, restore.failed
  - Timestamp: when the event occurred
  - Message: human-readable description
  - Metadata: key-value pairs (requestId, snapshotName)

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe(), closed via broker.Unsubscribe()

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("[%s] %s: %s\n", event.Timestamp.Format(time.RFC3339), event.Type, event.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.RestoreStarted,
		Message: "restore of snapshot-2026-07-30 started",
		Metadata: map[string]string{
			"requestId":    "a1b2c3",
			"snapshotName": "snapshot-2026-07-30",
		},
	})

# Event Catalog

RestoreStarted:
  - Published when: a restore driver begins phase Prepare for a request
  - Metadata: requestId, snapshotName

RestoreFinished:
  - Published when: all phases complete and every partition set is activated
  - Metadata: requestId, snapshotName

RestoreFailed:
  - Published when: the restore context's error latch is armed and rollback runs
  - Metadata: requestId, snapshotName; the error text is the event's Message

# Design Patterns

Non-Blocking Publish:
  - Publish sends to a buffered channel and returns immediately
  - Events may be dropped if the buffer is full (throughput over guaranteed delivery)

Fan-Out:
  - One event is broadcast to every subscriber channel independently
  - A full subscriber buffer is skipped, never blocked on

# Limitations

In-memory only, no persistence, no replay, no ordering guarantee across
subscribers. Callers needing a durable audit trail should subscribe and
write events to the attempt ledger in pkg/storage themselves.
*/
package events
