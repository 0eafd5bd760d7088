// Copyright 2025 James Ross
package retrypolicy

import (
	"testing"

	"github.com/hook0/dispatcher/internal/model"
)

func TestComputeNext_GiveUpAtBudget(t *testing.T) {
	schedule := model.RetrySchedule{
		Strategy:     model.StrategyExponential,
		IntervalsSec: []int{5, 300},
		MaxAttempts:  3,
	}

	got := ComputeNext(1, schedule)
	if got.Kind != ActionRetry {
		t.Fatalf("attempt 1 of 3 should still retry, got %v", got.Kind)
	}

	got = ComputeNext(2, schedule)
	if got.Kind != ActionGiveUp {
		t.Fatalf("attempt 2 of 3 should give up, got %v", got.Kind)
	}
}

func TestComputeNext_IntervalListBeforeFallback(t *testing.T) {
	schedule := model.RetrySchedule{
		Strategy:     model.StrategyExponential,
		IntervalsSec: []int{5, 300},
		MaxAttempts:  8,
	}

	got := ComputeNext(0, schedule)
	if got.Kind != ActionRetry || got.DelaySeconds != 5 {
		t.Fatalf("expected retry at 5s, got %+v", got)
	}

	got = ComputeNext(1, schedule)
	if got.Kind != ActionRetry || got.DelaySeconds != 300 {
		t.Fatalf("expected retry at 300s, got %+v", got)
	}
}

func TestComputeNext_ExponentialFallback(t *testing.T) {
	schedule := model.RetrySchedule{
		Strategy:     model.StrategyExponential,
		IntervalsSec: []int{1},
		MaxAttempts:  5,
	}

	got := ComputeNext(1, schedule)
	if got.Kind != ActionRetry || got.DelaySeconds != 2 {
		t.Fatalf("expected min(1*2, 36000) = 2, got %+v", got)
	}

	got = ComputeNext(2, schedule)
	if got.Kind != ActionRetry || got.DelaySeconds != 4 {
		t.Fatalf("expected 4s, got %+v", got)
	}
}

func TestComputeNext_LinearFallbackRepeatsLastInterval(t *testing.T) {
	schedule := model.RetrySchedule{
		Strategy:     model.StrategyLinear,
		IntervalsSec: []int{10, 20},
		MaxAttempts:  10,
	}

	for attempt := 2; attempt < 6; attempt++ {
		got := ComputeNext(attempt, schedule)
		if got.Kind != ActionRetry || got.DelaySeconds != 20 {
			t.Fatalf("attempt %d: expected linear 20s, got %+v", attempt, got)
		}
	}
}

func TestComputeNext_CustomFallbackIsCyclic(t *testing.T) {
	schedule := model.RetrySchedule{
		Strategy:     model.StrategyCustom,
		IntervalsSec: []int{10, 20, 30},
		MaxAttempts:  10,
	}

	got := ComputeNext(3, schedule) // index 3 % 3 == 0
	if got.DelaySeconds != 10 {
		t.Fatalf("expected cyclic wrap to 10s, got %+v", got)
	}
	got = ComputeNext(4, schedule)
	if got.DelaySeconds != 20 {
		t.Fatalf("expected cyclic wrap to 20s, got %+v", got)
	}
}

func TestComputeNext_ClampsToDelayBounds(t *testing.T) {
	schedule := model.RetrySchedule{
		Strategy:     model.StrategyExponential,
		IntervalsSec: []int{36000},
		MaxAttempts:  20,
	}

	got := ComputeNext(5, schedule)
	if got.DelaySeconds != 36000 {
		t.Fatalf("expected delay clamped to 36000, got %+v", got)
	}
}

func TestComputeNext_DefaultSchedule(t *testing.T) {
	schedule := model.DefaultRetrySchedule()

	got := ComputeNext(0, schedule)
	if got.DelaySeconds != 5 {
		t.Fatalf("expected default first retry at 5s, got %+v", got)
	}

	got = ComputeNext(schedule.MaxAttempts-1, schedule)
	if got.Kind != ActionGiveUp {
		t.Fatalf("final attempt must give up, got %+v", got)
	}
}

func TestComputeNext_Deterministic(t *testing.T) {
	schedule := model.DefaultRetrySchedule()
	a := ComputeNext(2, schedule)
	b := ComputeNext(2, schedule)
	if a != b {
		t.Fatalf("ComputeNext must be deterministic, got %+v vs %+v", a, b)
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := map[int]Classification{
		200: ClassificationSuccess,
		204: ClassificationSuccess,
		299: ClassificationSuccess,
		400: ClassificationPermanent,
		404: ClassificationPermanent,
		410: ClassificationPermanent,
		408: ClassificationRetryable,
		429: ClassificationRetryable,
		500: ClassificationRetryable,
		503: ClassificationRetryable,
	}
	for status, want := range cases {
		if got := ClassifyStatus(status); got != want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestClassifyTransportError_AlwaysRetryable(t *testing.T) {
	for _, label := range []model.TransportErrorLabel{
		model.TransportErrorConnectTimeout,
		model.TransportErrorReadTimeout,
		model.TransportErrorDNSFailure,
		model.TransportErrorTLSFailure,
		model.TransportErrorRefused,
		model.TransportErrorOther,
	} {
		if got := ClassifyTransportError(label); got != ClassificationRetryable {
			t.Errorf("ClassifyTransportError(%v) = %v, want retryable", label, got)
		}
	}
}
