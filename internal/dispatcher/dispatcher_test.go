// Copyright 2025 James Ross
package dispatcher

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hook0/dispatcher/internal/model"
	"github.com/hook0/dispatcher/internal/retrypolicy"
	"github.com/hook0/dispatcher/internal/store"
	"golang.org/x/time/rate"
)

func TestBackoffLadder(t *testing.T) {
	cases := []struct {
		empty int
		want  time.Duration
	}{
		{0, 1 * time.Second},
		{1, 5500 * time.Millisecond},
		{2, 5500 * time.Millisecond},
		{3, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, c := range cases {
		if got := backoffLadder(c.empty); got != c.want {
			t.Errorf("backoffLadder(%d) = %v, want %v", c.empty, got, c.want)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Concurrency != 10 {
		t.Errorf("default concurrency = %d, want 10", cfg.Concurrency)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("default connect timeout = %v, want 5s", cfg.ConnectTimeout)
	}
	if cfg.Timeout != 15*time.Second {
		t.Errorf("default timeout = %v, want 15s", cfg.Timeout)
	}
	if cfg.ShutdownGrace != cfg.Timeout {
		t.Errorf("default shutdown grace = %v, want %v", cfg.ShutdownGrace, cfg.Timeout)
	}
}

func TestBuildHeaders_SignatureCoversContentTypeAndEventType(t *testing.T) {
	secret := [16]byte{1, 2, 3}
	claimed := store.ClaimedAttempt{
		Attempt: model.RequestAttempt{AttemptNumber: 2},
		Event: model.Event{
			ID:                 uuid.New(),
			EventType:          "order.created",
			Payload:            []byte(`{"ok":true}`),
			PayloadContentType: model.ContentTypeJSON,
		},
		Subscription: model.Subscription{
			ID:     uuid.New(),
			Secret: secret,
		},
	}

	t1 := int64(1765443663)
	headers := buildHeaders(claimed, t1)

	if headers["Hook0-Event-Id"] != claimed.Event.ID.String() {
		t.Errorf("Hook0-Event-Id mismatch")
	}
	if headers["Hook0-Event-Type"] != "order.created" {
		t.Errorf("Hook0-Event-Type = %q", headers["Hook0-Event-Type"])
	}
	if headers["Hook0-Delivery-Attempt"] != "2" {
		t.Errorf("Hook0-Delivery-Attempt = %q, want 2", headers["Hook0-Delivery-Attempt"])
	}
	if headers["User-Agent"] != UserAgent {
		t.Errorf("User-Agent = %q", headers["User-Agent"])
	}

	again := buildHeaders(claimed, t1)
	if headers["Hook0-Signature"] != again["Hook0-Signature"] {
		t.Errorf("signature is not deterministic for identical inputs")
	}

	claimed.Event.EventType = "order.shipped"
	changed := buildHeaders(claimed, t1)
	if changed["Hook0-Signature"] == headers["Hook0-Signature"] {
		t.Errorf("signature did not change when a signed field changed")
	}
}

func TestLimiterFor_NilWhenUnlimited(t *testing.T) {
	d := &Dispatcher{limiters: make(map[string]*rate.Limiter)}
	sub := model.Subscription{ID: uuid.New(), RateLimitPerSecond: 0}
	if l := d.limiterFor(sub); l != nil {
		t.Errorf("limiterFor with RateLimitPerSecond=0 should be nil, got %v", l)
	}
}

func TestLimiterFor_SameSubscriptionReusesLimiter(t *testing.T) {
	d := &Dispatcher{limiters: make(map[string]*rate.Limiter)}
	sub := model.Subscription{ID: uuid.New(), RateLimitPerSecond: 5}
	first := d.limiterFor(sub)
	second := d.limiterFor(sub)
	if first == nil || first != second {
		t.Errorf("limiterFor did not reuse the limiter across calls for the same subscription")
	}
}

func TestRequireTLSForNonLoopback(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https public host", "https://example.com/hook", false},
		{"http public host rejected", "http://example.com/hook", true},
		{"http localhost allowed", "http://localhost:8080/hook", false},
		{"http loopback IP allowed", "http://127.0.0.1:8080/hook", false},
		{"http link-local allowed", "http://169.254.1.1/hook", false},
		{"http private-network IP rejected", "http://10.0.0.5/hook", true},
		{"malformed URL left to NewRequest", "://bad-url", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := requireTLSForNonLoopback(c.url)
			if c.wantErr && err == nil {
				t.Errorf("requireTLSForNonLoopback(%q) = nil, want error", c.url)
			}
			if !c.wantErr && err != nil {
				t.Errorf("requireTLSForNonLoopback(%q) = %v, want nil", c.url, err)
			}
		})
	}
}

func TestClassify_InsecureTargetIsPermanent(t *testing.T) {
	d := &Dispatcher{}
	label := model.TransportErrorInsecureTarget
	resp := model.Response{TransportError: &label}
	if got := d.classify(resp); got != retrypolicy.ClassificationPermanent {
		t.Errorf("classify(insecure target) = %v, want ClassificationPermanent", got)
	}
}

func TestIsLoopbackOrLinkLocalHost(t *testing.T) {
	cases := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"169.254.0.1", true},
		{"10.0.0.1", false},
		{"example.com", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isLoopbackOrLinkLocalHost(c.host); got != c.want {
			t.Errorf("isLoopbackOrLinkLocalHost(%q) = %v, want %v", c.host, got, c.want)
		}
	}
}
