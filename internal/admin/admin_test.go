// Copyright 2025 James Ross
package admin

import (
	"context"
	"testing"
)

func TestPeek_InvalidSubscriptionID(t *testing.T) {
	if _, err := Peek(context.Background(), nil, "not-a-uuid", 10); err == nil {
		t.Fatal("expected error for malformed subscription id")
	}
}

func TestGiveUp_InvalidAttemptID(t *testing.T) {
	if err := GiveUp(context.Background(), nil, "not-a-uuid"); err == nil {
		t.Fatal("expected error for malformed attempt id")
	}
}

func TestReplay_InvalidAttemptID(t *testing.T) {
	if _, err := Replay(context.Background(), nil, "not-a-uuid"); err == nil {
		t.Fatal("expected error for malformed attempt id")
	}
}
