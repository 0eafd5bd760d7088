// Copyright 2025 James Ross

// Package notify publishes ops-facing events to NATS: a request attempt
// giving up permanently, or a subscription crossing the auto-disable
// threshold. It is a fan-out, not part of the delivery path — a failed
// publish never affects the outcome already recorded in the Store.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hook0/dispatcher/internal/config"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// GiveUp describes a request attempt that was given up for good: its failure
// was classified permanent or it exhausted its retry schedule.
type GiveUp struct {
	SubscriptionID string    `json:"subscription_id"`
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	AttemptID      string    `json:"attempt_id"`
	AttemptNumber  int       `json:"attempt_number"`
	TargetURL      string    `json:"target_url"`
	At             time.Time `json:"at"`
}

// AutoDisable describes a subscription whose consecutive-failure streak
// crossed the configured threshold and was disabled.
type AutoDisable struct {
	SubscriptionID      string    `json:"subscription_id"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	FirstFailureAt      time.Time `json:"first_failure_at"`
	At                  time.Time `json:"at"`
}

// Notifier publishes ops events to a single NATS subject. A nil *Notifier
// is valid and every method on it is a no-op, so callers can construct one
// unconditionally and skip the "is this configured" check at every call
// site.
type Notifier struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	log     *zap.Logger
}

// New connects to NATS and returns a Notifier, or (nil, nil) if cfg.NATSURL
// is empty — the fan-out is optional per spec §6.
func New(cfg config.Notify, log *zap.Logger) (*Notifier, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}

	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "hook0.dispatch.giveup"
	}

	return &Notifier{conn: conn, js: js, subject: subject, log: log}, nil
}

// GiveUp publishes a GiveUp event. Publish failures are logged, not
// returned: the dispatcher has already committed the outcome to the Store
// and must not retry delivery just because the ops fan-out is down.
func (n *Notifier) GiveUp(ctx context.Context, ev GiveUp) {
	if n == nil {
		return
	}
	n.publish(ctx, n.subject, ev)
}

// AutoDisable publishes an AutoDisable event on subject+".auto_disable".
func (n *Notifier) AutoDisable(ctx context.Context, ev AutoDisable) {
	if n == nil {
		return
	}
	n.publish(ctx, n.subject+".auto_disable", ev)
}

func (n *Notifier) publish(_ context.Context, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.log.Warn("notify marshal failed", zap.String("subject", subject), zap.Error(err))
		return
	}

	if _, err := n.js.Publish(subject, data); err != nil {
		n.log.Warn("notify publish failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	n.log.Debug("notify publish ok", zap.String("subject", subject))
}

// Close shuts down the NATS connection. Safe to call on a nil Notifier.
func (n *Notifier) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	n.conn.Close()
	return nil
}
