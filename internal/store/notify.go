// Copyright 2025 James Ross
package store

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// wakeChannel is the pub/sub channel dispatchers subscribe to for a hint
// that new work may be available. It is purely a latency optimization: the
// Store and its Postgres tables remain the sole source of truth for claims
// (spec §5, §9). A dispatcher that never receives a wake message still
// finds the same work on its next adaptive-backoff poll.
const wakeChannel = "hook0:dispatch:wake"

// Notifier publishes wake hints on a Redis pub/sub channel. It is optional:
// a Store with no Notifier configured simply never shortcuts the adaptive
// sleep.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier wraps an existing Redis client for wake-channel publishing.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// NotifyNewWork publishes a hint that new work may be claimable. Insertion
// collaborators call this after inserting a request_attempt row; the
// dispatcher's own retry path calls it too, since a successor attempt is
// new claimable work.
func (n *Notifier) NotifyNewWork(ctx context.Context) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, wakeChannel, "1").Err()
}

// Subscribe returns a channel that receives a value each time a wake hint
// is published. Callers select on it alongside their adaptive-sleep timer
// and ignore receives that race with their own polling.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan *redis.Message, func()) {
	sub := n.rdb.Subscribe(ctx, wakeChannel)
	return sub.Channel(), func() { _ = sub.Close() }
}
