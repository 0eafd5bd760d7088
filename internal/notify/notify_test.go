// Copyright 2025 James Ross
package notify

import (
	"context"
	"testing"
	"time"

	"github.com/hook0/dispatcher/internal/config"
	"go.uber.org/zap"
)

func TestNew_NoURLReturnsNilNotifier(t *testing.T) {
	n, err := New(config.Notify{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if n != nil {
		t.Fatalf("expected nil Notifier when NATSURL is empty, got %v", n)
	}
}

func TestNilNotifier_MethodsAreNoOps(t *testing.T) {
	var n *Notifier

	n.GiveUp(context.Background(), GiveUp{SubscriptionID: "sub-1", At: time.Now()})
	n.AutoDisable(context.Background(), AutoDisable{SubscriptionID: "sub-1", At: time.Now()})

	if err := n.Close(); err != nil {
		t.Fatalf("Close() on nil Notifier error = %v", err)
	}
}

func TestNew_InvalidURLErrors(t *testing.T) {
	_, err := New(config.Notify{NATSURL: "nats://127.0.0.1:1"}, zap.NewNop())
	if err == nil {
		t.Fatal("expected connection error for unreachable NATS URL")
	}
}
