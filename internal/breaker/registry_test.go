// Copyright 2025 James Ross
package breaker

import (
	"testing"
	"time"
)

func TestRegistry_PerHostIsolation(t *testing.T) {
	r := NewRegistry(2*time.Second, 200*time.Millisecond, 0.5, 2)

	a := r.For("https://a.example.com/hook")
	a.Record(false)
	a.Record(false)
	time.Sleep(10 * time.Millisecond)
	if a.State() != Open {
		t.Fatal("expected host a's breaker to trip open")
	}

	b := r.For("https://b.example.com/hook")
	if b.State() != Closed {
		t.Fatal("host b's breaker must be unaffected by host a's failures")
	}
}

func TestRegistry_SameHostReturnsSameBreaker(t *testing.T) {
	r := NewRegistry(time.Second, time.Second, 0.5, 2)
	a := r.For("https://x.example.com/one")
	b := r.For("https://x.example.com/two")
	if a != b {
		t.Fatal("expected breakers for the same host to be identical regardless of path")
	}
}
