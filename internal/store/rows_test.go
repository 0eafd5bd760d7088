// Copyright 2025 James Ross
package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hook0/dispatcher/internal/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionRowToModel(t *testing.T) {
	t.Run("full row", func(t *testing.T) {
		rotatedAt := time.Now().UTC().Truncate(time.Second)
		scheduleID := uuid.New()
		firstFailure := rotatedAt.Add(-time.Hour)
		autoDisabled := rotatedAt.Add(-time.Minute)

		row := subscriptionRow{
			ID:                  uuid.New(),
			ApplicationID:       uuid.New(),
			Enabled:             true,
			EventTypes:          pq.StringArray{"order.created", "order.paid"},
			Labels:              []byte(`{"env":"prod"}`),
			TargetMethod:        "POST",
			TargetURL:           "https://example.com/hook",
			TargetHeaders:       []byte(`{"X-Custom":"1"}`),
			Secret:              []byte("0123456789abcdef"),
			PreviousSecret:      []byte("fedcba9876543210"),
			SecretRotatedAt:     sql.NullTime{Time: rotatedAt, Valid: true},
			RetryScheduleID:     uuid.NullUUID{UUID: scheduleID, Valid: true},
			FIFOMode:            true,
			DedicatedWorkers:    pq.StringArray{"worker-a"},
			ConsecutiveFailures: 3,
			FirstFailureAt:      sql.NullTime{Time: firstFailure, Valid: true},
			AutoDisabledAt:      sql.NullTime{Time: autoDisabled, Valid: true},
			RateLimitPerSecond:  10.5,
		}

		sub, err := row.toModel()
		require.NoError(t, err)

		assert.Equal(t, row.ID, sub.ID)
		assert.Equal(t, row.ApplicationID, sub.ApplicationID)
		assert.True(t, sub.Enabled)
		assert.Contains(t, sub.EventTypes, "order.created")
		assert.Contains(t, sub.EventTypes, "order.paid")
		assert.Equal(t, "prod", sub.Labels["env"])
		assert.Equal(t, model.TargetKindHTTP, sub.Target.Kind)
		assert.Equal(t, "POST", sub.Target.Method)
		assert.Equal(t, "https://example.com/hook", sub.Target.URL)
		assert.Equal(t, "1", sub.Target.Headers["X-Custom"])
		var wantSecret [16]byte
		copy(wantSecret[:], row.Secret)
		assert.Equal(t, wantSecret, sub.Secret)
		assert.True(t, sub.FIFOMode)
		assert.Equal(t, []string{"worker-a"}, sub.DedicatedWorkers)
		assert.Equal(t, 3, sub.ConsecutiveFailures)
		require.NotNil(t, sub.SecretRotatedAt)
		assert.True(t, sub.SecretRotatedAt.Equal(rotatedAt))
		require.NotNil(t, sub.RetryScheduleID)
		assert.Equal(t, scheduleID, *sub.RetryScheduleID)
		require.NotNil(t, sub.FirstFailureAt)
		assert.True(t, sub.FirstFailureAt.Equal(firstFailure))
		require.NotNil(t, sub.AutoDisabledAt)
		assert.True(t, sub.AutoDisabledAt.Equal(autoDisabled))
		require.NotNil(t, sub.PreviousSecret)
	})

	t.Run("nulls stay nil", func(t *testing.T) {
		row := subscriptionRow{
			ID:            uuid.New(),
			ApplicationID: uuid.New(),
			TargetMethod:  "POST",
			TargetURL:     "https://example.com/hook",
		}

		sub, err := row.toModel()
		require.NoError(t, err)

		assert.Nil(t, sub.SecretRotatedAt)
		assert.Nil(t, sub.RetryScheduleID)
		assert.Nil(t, sub.FirstFailureAt)
		assert.Nil(t, sub.AutoDisabledAt)
		assert.Nil(t, sub.PreviousSecret)
		assert.Empty(t, sub.Labels)
	})

	t.Run("invalid labels JSON errors", func(t *testing.T) {
		row := subscriptionRow{Labels: []byte("not-json")}
		_, err := row.toModel()
		assert.Error(t, err)
	})
}

func TestEventRowToModel(t *testing.T) {
	occurredAt := time.Now().UTC().Truncate(time.Second)
	receivedAt := occurredAt.Add(time.Second)

	row := eventRow{
		ID:                 uuid.New(),
		ApplicationID:      uuid.New(),
		EventType:          "order.created",
		Labels:             []byte(`{"team":"payments"}`),
		Metadata:           []byte(`{"trace_id":"abc"}`),
		Payload:            []byte(`{"amount":100}`),
		PayloadContentType: string(model.ContentTypeJSON),
		OccurredAt:         occurredAt,
		ReceivedAt:         receivedAt,
		SourceIP:           "10.0.0.1",
	}

	ev, err := row.toModel()
	require.NoError(t, err)

	assert.Equal(t, row.ID, ev.ID)
	assert.Equal(t, "order.created", ev.EventType)
	assert.Equal(t, "payments", ev.Labels["team"])
	assert.Equal(t, "abc", ev.Metadata["trace_id"])
	assert.Equal(t, model.ContentTypeJSON, ev.PayloadContentType)
	assert.True(t, ev.OccurredAt.Equal(occurredAt))
	assert.True(t, ev.ReceivedAt.Equal(receivedAt))
	assert.Equal(t, "10.0.0.1", ev.SourceIP)
}

func TestRequestAttemptRowToModel(t *testing.T) {
	t.Run("terminal row", func(t *testing.T) {
		scheduledAt := time.Now().UTC().Truncate(time.Second)
		pickedAt := scheduledAt.Add(time.Second)
		succeededAt := pickedAt.Add(time.Second)
		responseID := uuid.New()

		row := requestAttemptRow{
			ID:             uuid.New(),
			EventID:        uuid.New(),
			SubscriptionID: uuid.New(),
			AttemptNumber:  2,
			ScheduledAt:    scheduledAt,
			PickedAt:       sql.NullTime{Time: pickedAt, Valid: true},
			WorkerID:       sql.NullString{String: "worker-a", Valid: true},
			SucceededAt:    sql.NullTime{Time: succeededAt, Valid: true},
			ResponseID:     uuid.NullUUID{UUID: responseID, Valid: true},
		}

		attempt := row.toModel()

		assert.Equal(t, 2, attempt.AttemptNumber)
		require.NotNil(t, attempt.PickedAt)
		assert.True(t, attempt.PickedAt.Equal(pickedAt))
		require.NotNil(t, attempt.WorkerID)
		assert.Equal(t, "worker-a", *attempt.WorkerID)
		require.NotNil(t, attempt.SucceededAt)
		assert.True(t, attempt.SucceededAt.Equal(succeededAt))
		assert.Nil(t, attempt.FailedAt)
		require.NotNil(t, attempt.ResponseID)
		assert.Equal(t, responseID, *attempt.ResponseID)
	})

	t.Run("pending row has no optional fields", func(t *testing.T) {
		row := requestAttemptRow{AttemptNumber: 1}
		attempt := row.toModel()

		assert.Nil(t, attempt.PickedAt)
		assert.Nil(t, attempt.WorkerID)
		assert.Nil(t, attempt.SucceededAt)
		assert.Nil(t, attempt.FailedAt)
		assert.Nil(t, attempt.ResponseID)
	})
}

func TestRetryScheduleRowToModel(t *testing.T) {
	row := retryScheduleRow{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Strategy:       "exponential",
		IntervalsSec:   pq.Int64Array{5, 300, 1800},
		MaxAttempts:    5,
	}

	schedule := row.toModel()

	assert.Equal(t, model.StrategyExponential, schedule.Strategy)
	assert.Equal(t, []int{5, 300, 1800}, schedule.IntervalsSec)
	assert.Equal(t, 5, schedule.MaxAttempts)
}

func TestNullOrEmpty(t *testing.T) {
	assert.Equal(t, []byte("{}"), nullOrEmpty(nil))
	assert.Equal(t, []byte("{}"), nullOrEmpty([]byte{}))
	assert.Equal(t, []byte(`{"a":1}`), nullOrEmpty([]byte(`{"a":1}`)))
}
