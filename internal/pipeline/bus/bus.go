// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus fans session snapshots out to in-process observers.
package bus

import "context"

// Message is an opaque event payload.
type Message interface{}

type Subscriber interface {
	// C returns a read-only message channel.
	C() <-chan Message
	// Close unsubscribes.
	Close() error
}

// Bus is the event transport abstraction.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	TryPublish(topic string, msg Message) int
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}
