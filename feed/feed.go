// Package feed delivers message lifecycle events to chat sessions.
//
// Two adapters implement the same contract: an in-process fanout for
// single-node deployments and a NATS-backed feed for everything else.
// Sessions depend only on the interfaces here; neither adapter leaks its
// transport's message identity into the events it delivers.
package feed

import (
	"context"

	"herdchat/domain"
	"herdchat/domain/event"
)

// Status signals transport-level connectivity changes. A session that sees
// Down must treat its buffer as stale and re-run its connect sequence once
// Up arrives.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// Subscription is a live stream of change events for a single channel.
// Close is idempotent and releases the underlying transport resources.
type Subscription interface {
	Events() <-chan event.ChangeEvent
	Status() <-chan Status
	Close()
}

// Feed publishes change events and hands out per-channel subscriptions.
type Feed interface {
	Publish(ctx context.Context, e event.ChangeEvent) error
	Subscribe(channelID domain.ChannelID) (Subscription, error)
	Close() error
}
