// Copyright 2025 James Ross
// Package model defines the data entities shared by the Store, Dispatcher,
// Retry Policy, Signer and FIFO Coordinator components.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ContentType enumerates how Event.Payload should be interpreted on the wire.
type ContentType string

const (
	ContentTypePlainText     ContentType = "text/plain"
	ContentTypeJSON          ContentType = "application/json"
	ContentTypeBase64Binary  ContentType = "application/octet-stream"
)

// Labels is a string->string map used for both event labels and subscription
// label filters. A subscription matches an event when every (k, v) in the
// subscription's Labels is also present in the event's Labels.
type Labels map[string]string

// Subset reports whether every key/value pair in l is present in other.
func (l Labels) Subset(other Labels) bool {
	for k, v := range l {
		if other[k] != v {
			return false
		}
	}
	return true
}

// Event is an immutable fact produced by the ingestion collaborator.
type Event struct {
	ID                uuid.UUID
	ApplicationID     uuid.UUID
	EventType         string
	Labels            Labels
	Metadata          Labels
	Payload           []byte
	PayloadContentType ContentType
	OccurredAt        time.Time
	ReceivedAt        time.Time
	SourceIP          string
}

// TargetKind identifies the variant of a Subscription's delivery target.
// Only HTTP is modeled today; the tagged union leaves room for future kinds
// without widening every call site.
type TargetKind string

const TargetKindHTTP TargetKind = "http"

// Target is the destination of a subscription.
type Target struct {
	Kind    TargetKind
	Method  string
	URL     string
	Headers map[string]string
}

// Scope partitions dispatcher instances. Private dispatchers only claim
// subscriptions that name them in DedicatedWorkers; public dispatchers
// refuse any subscription that names a dedicated worker at all.
type Scope string

const (
	ScopePublic  Scope = "public"
	ScopePrivate Scope = "private"
)

// Subscription is mutable configuration describing where and how matching
// events are delivered.
type Subscription struct {
	ID                 uuid.UUID
	ApplicationID      uuid.UUID
	Enabled            bool
	EventTypes         map[string]struct{}
	Labels             Labels
	Target             Target
	Secret             [16]byte
	PreviousSecret      *[16]byte
	SecretRotatedAt     *time.Time
	RetryScheduleID    *uuid.UUID
	FIFOMode           bool
	DedicatedWorkers   []string
	ConsecutiveFailures int
	FirstFailureAt     *time.Time
	AutoDisabledAt     *time.Time
	RateLimitPerSecond float64
}

// Matches reports whether the subscription is eligible to receive ev,
// per the ingestion match condition of spec §6.
func (s Subscription) Matches(ev Event) bool {
	if !s.Enabled {
		return false
	}
	if _, ok := s.EventTypes[ev.EventType]; !ok {
		return false
	}
	return s.Labels.Subset(ev.Labels)
}

// IsDedicatedTo reports whether workerID appears in DedicatedWorkers.
func (s Subscription) IsDedicatedTo(workerID string) bool {
	for _, w := range s.DedicatedWorkers {
		if w == workerID {
			return true
		}
	}
	return false
}

// Strategy is the fallback rule applied once attempt_number runs past the
// schedule's explicit interval list.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyCustom      Strategy = "custom"
)

// RetrySchedule governs how many retries a subscription gets and how the
// delay between them grows.
type RetrySchedule struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Strategy       Strategy
	IntervalsSec   []int
	MaxAttempts    int
}

// DefaultRetrySchedule is used whenever a subscription carries no
// RetryScheduleID, per spec §4.B.
func DefaultRetrySchedule() RetrySchedule {
	return RetrySchedule{
		Strategy:     StrategyExponential,
		IntervalsSec: []int{5, 300, 1800, 7200, 18000, 36000, 36000, 36000},
		MaxAttempts:  8,
	}
}

// RequestAttempt is a single planned or executed HTTP delivery for one
// (event, subscription) pair.
type RequestAttempt struct {
	ID             uuid.UUID
	EventID        uuid.UUID
	SubscriptionID uuid.UUID
	AttemptNumber  int
	ScheduledAt    time.Time
	PickedAt       *time.Time
	WorkerID       *string
	SucceededAt    *time.Time
	FailedAt       *time.Time
	ResponseID     *uuid.UUID
}

// IsTerminal reports whether the attempt has reached success or failure.
func (a RequestAttempt) IsTerminal() bool {
	return a.SucceededAt != nil || a.FailedAt != nil
}

// IsInFlight reports whether the attempt is currently claimed by a worker
// and has not yet reached a terminal state.
func (a RequestAttempt) IsInFlight() bool {
	return a.PickedAt != nil && !a.IsTerminal()
}

// TransportErrorLabel enumerates the non-HTTP failure modes a dispatcher can
// record against a Response when the transport layer itself fails.
type TransportErrorLabel string

const (
	TransportErrorConnectTimeout TransportErrorLabel = "connect_timeout"
	TransportErrorReadTimeout    TransportErrorLabel = "read_timeout"
	TransportErrorDNSFailure     TransportErrorLabel = "dns_failure"
	TransportErrorTLSFailure     TransportErrorLabel = "tls_failure"
	TransportErrorRefused        TransportErrorLabel = "connection_refused"
	TransportErrorOther          TransportErrorLabel = "other"
	// TransportErrorInsecureTarget marks a target rejected before any network
	// call because it is neither https nor loopback/link-local, per spec
	// §4.D step c ("TLS required for non-loopback targets").
	TransportErrorInsecureTarget TransportErrorLabel = "insecure_target"
)

// Response records the outcome of one HTTP delivery attempt, whether it
// completed with a status code or failed in the transport layer.
type Response struct {
	ID              uuid.UUID
	HTTPStatus      *int
	Headers         map[string]string
	Body            []byte
	TransportError  *TransportErrorLabel
	ElapsedMillis   int64
}

// Succeeded reports whether the response represents a 2xx outcome.
func (r Response) Succeeded() bool {
	return r.HTTPStatus != nil && *r.HTTPStatus >= 200 && *r.HTTPStatus < 300
}

// FIFOSubscriptionState is the single-in-flight-slot coordination row owned
// by a FIFO-mode subscription.
type FIFOSubscriptionState struct {
	SubscriptionID           uuid.UUID
	CurrentRequestAttemptID  *uuid.UUID
	LastCompletedEventOccurredAt *time.Time
	UpdatedAt                time.Time
}

// Blocked reports whether the state currently holds an in-flight attempt
// other than candidateAttemptID.
func (f FIFOSubscriptionState) Blocked(candidateAttemptID uuid.UUID) bool {
	if f.CurrentRequestAttemptID == nil {
		return false
	}
	return *f.CurrentRequestAttemptID != candidateAttemptID
}
