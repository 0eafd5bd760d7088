// Copyright 2025 James Ross
package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hook0/dispatcher/internal/model"
	"github.com/lib/pq"
)

// subscriptionRow mirrors the subscription table for sqlx scanning. Go maps
// and slices don't implement database/sql.Scanner directly, so JSON/array
// columns are staged here and converted in toModel.
type subscriptionRow struct {
	ID                  uuid.UUID      `db:"id"`
	ApplicationID       uuid.UUID      `db:"application_id"`
	Enabled             bool           `db:"enabled"`
	EventTypes          pq.StringArray `db:"event_types"`
	Labels              []byte         `db:"labels"`
	TargetMethod        string         `db:"target_method"`
	TargetURL           string         `db:"target_url"`
	TargetHeaders       []byte         `db:"target_headers"`
	Secret              []byte         `db:"secret"`
	PreviousSecret      []byte         `db:"previous_secret"`
	SecretRotatedAt     sql.NullTime   `db:"secret_rotated_at"`
	RetryScheduleID     uuid.NullUUID  `db:"retry_schedule_id"`
	FIFOMode            bool           `db:"fifo_mode"`
	DedicatedWorkers    pq.StringArray `db:"dedicated_workers"`
	ConsecutiveFailures int            `db:"consecutive_failures"`
	FirstFailureAt      sql.NullTime   `db:"first_failure_at"`
	AutoDisabledAt      sql.NullTime   `db:"auto_disabled_at"`
	RateLimitPerSecond  float64        `db:"rate_limit_per_second"`
}

func (r subscriptionRow) toModel() (model.Subscription, error) {
	var labels, headers map[string]string
	if err := json.Unmarshal(nullOrEmpty(r.Labels), &labels); err != nil {
		return model.Subscription{}, err
	}
	if err := json.Unmarshal(nullOrEmpty(r.TargetHeaders), &headers); err != nil {
		return model.Subscription{}, err
	}

	eventTypes := make(map[string]struct{}, len(r.EventTypes))
	for _, et := range r.EventTypes {
		eventTypes[et] = struct{}{}
	}

	var secret [16]byte
	copy(secret[:], r.Secret)

	var previous *[16]byte
	if len(r.PreviousSecret) > 0 {
		var p [16]byte
		copy(p[:], r.PreviousSecret)
		previous = &p
	}

	sub := model.Subscription{
		ID:                  r.ID,
		ApplicationID:       r.ApplicationID,
		Enabled:             r.Enabled,
		EventTypes:          eventTypes,
		Labels:              labels,
		Target: model.Target{
			Kind:    model.TargetKindHTTP,
			Method:  r.TargetMethod,
			URL:     r.TargetURL,
			Headers: headers,
		},
		Secret:              secret,
		PreviousSecret:      previous,
		FIFOMode:            r.FIFOMode,
		DedicatedWorkers:    r.DedicatedWorkers,
		ConsecutiveFailures: r.ConsecutiveFailures,
		RateLimitPerSecond:  r.RateLimitPerSecond,
	}
	if r.SecretRotatedAt.Valid {
		t := r.SecretRotatedAt.Time
		sub.SecretRotatedAt = &t
	}
	if r.RetryScheduleID.Valid {
		id := r.RetryScheduleID.UUID
		sub.RetryScheduleID = &id
	}
	if r.FirstFailureAt.Valid {
		t := r.FirstFailureAt.Time
		sub.FirstFailureAt = &t
	}
	if r.AutoDisabledAt.Valid {
		t := r.AutoDisabledAt.Time
		sub.AutoDisabledAt = &t
	}
	return sub, nil
}

func nullOrEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}

type eventRow struct {
	ID                 uuid.UUID `db:"id"`
	ApplicationID      uuid.UUID `db:"application_id"`
	EventType          string    `db:"event_type"`
	Labels             []byte    `db:"labels"`
	Metadata           []byte    `db:"metadata"`
	Payload            []byte    `db:"payload"`
	PayloadContentType string    `db:"payload_content_type"`
	OccurredAt         time.Time `db:"occurred_at"`
	ReceivedAt         time.Time `db:"received_at"`
	SourceIP           string    `db:"source_ip"`
}

func (r eventRow) toModel() (model.Event, error) {
	var labels, metadata map[string]string
	if err := json.Unmarshal(nullOrEmpty(r.Labels), &labels); err != nil {
		return model.Event{}, err
	}
	if err := json.Unmarshal(nullOrEmpty(r.Metadata), &metadata); err != nil {
		return model.Event{}, err
	}
	return model.Event{
		ID:                 r.ID,
		ApplicationID:      r.ApplicationID,
		EventType:          r.EventType,
		Labels:             labels,
		Metadata:           metadata,
		Payload:            r.Payload,
		PayloadContentType: model.ContentType(r.PayloadContentType),
		OccurredAt:         r.OccurredAt,
		ReceivedAt:         r.ReceivedAt,
		SourceIP:           r.SourceIP,
	}, nil
}

type requestAttemptRow struct {
	ID             uuid.UUID      `db:"id"`
	EventID        uuid.UUID      `db:"event_id"`
	SubscriptionID uuid.UUID      `db:"subscription_id"`
	AttemptNumber  int            `db:"attempt_number"`
	ScheduledAt    time.Time      `db:"scheduled_at"`
	PickedAt       sql.NullTime   `db:"picked_at"`
	WorkerID       sql.NullString `db:"worker_id"`
	SucceededAt    sql.NullTime   `db:"succeeded_at"`
	FailedAt       sql.NullTime   `db:"failed_at"`
	ResponseID     uuid.NullUUID  `db:"response_id"`
}

func (r requestAttemptRow) toModel() model.RequestAttempt {
	a := model.RequestAttempt{
		ID:             r.ID,
		EventID:        r.EventID,
		SubscriptionID: r.SubscriptionID,
		AttemptNumber:  r.AttemptNumber,
		ScheduledAt:    r.ScheduledAt,
	}
	if r.PickedAt.Valid {
		t := r.PickedAt.Time
		a.PickedAt = &t
	}
	if r.WorkerID.Valid {
		w := r.WorkerID.String
		a.WorkerID = &w
	}
	if r.SucceededAt.Valid {
		t := r.SucceededAt.Time
		a.SucceededAt = &t
	}
	if r.FailedAt.Valid {
		t := r.FailedAt.Time
		a.FailedAt = &t
	}
	if r.ResponseID.Valid {
		id := r.ResponseID.UUID
		a.ResponseID = &id
	}
	return a
}

// ClaimedAttempt bundles a newly-claimed request attempt together with the
// event and subscription it needs to be dispatched, sparing the Dispatcher
// a round trip per row.
type ClaimedAttempt struct {
	Attempt      model.RequestAttempt
	Event        model.Event
	Subscription model.Subscription
	Schedule     model.RetrySchedule
}

type retryScheduleRow struct {
	ID             uuid.UUID     `db:"id"`
	OrganizationID uuid.UUID     `db:"organization_id"`
	Strategy       string        `db:"strategy"`
	IntervalsSec   pq.Int64Array `db:"intervals_sec"`
	MaxAttempts    int           `db:"max_attempts"`
}

func (r retryScheduleRow) toModel() model.RetrySchedule {
	intervals := make([]int, len(r.IntervalsSec))
	for i, v := range r.IntervalsSec {
		intervals[i] = int(v)
	}
	return model.RetrySchedule{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Strategy:       model.Strategy(r.Strategy),
		IntervalsSec:   intervals,
		MaxAttempts:    r.MaxAttempts,
	}
}
