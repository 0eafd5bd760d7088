// Copyright 2025 James Ross
package reaper

import (
	"testing"
	"time"
)

func TestNew_AppliesDefaults(t *testing.T) {
	r := New(nil, nil, 0, 0)
	if r.interval != 5*time.Second {
		t.Errorf("default interval = %v, want 5s", r.interval)
	}
	if r.horizon != 10*time.Minute {
		t.Errorf("default horizon = %v, want 10m", r.horizon)
	}
}

func TestNew_HonorsExplicitValues(t *testing.T) {
	r := New(nil, nil, 30*time.Second, time.Hour)
	if r.interval != 30*time.Second {
		t.Errorf("interval = %v, want 30s", r.interval)
	}
	if r.horizon != time.Hour {
		t.Errorf("horizon = %v, want 1h", r.horizon)
	}
}
