// Copyright 2025 James Ross
// Package retrypolicy computes the next delivery delay for a failed
// RequestAttempt, or decides that the attempt's retry budget is exhausted.
// It is a pure function package: no I/O, no clock reads, no randomness.
package retrypolicy

import (
	"math"
	"net/http"
	"time"

	"github.com/hook0/dispatcher/internal/model"
)

const (
	minDelaySeconds = 1
	maxDelaySeconds = 36000
)

// ActionKind distinguishes the two NextAction variants.
type ActionKind int

const (
	ActionRetry ActionKind = iota
	ActionGiveUp
)

// NextAction is the result of ComputeNext: either retry after DelaySeconds,
// or give up on the (event, subscription) pair entirely.
type NextAction struct {
	Kind         ActionKind
	DelaySeconds int
}

// ComputeNext maps (attemptNumber, schedule) to the next action, per spec
// §4.B. attemptNumber is 0-indexed and refers to the attempt that just
// failed; the returned delay, if any, is for the attempt that would follow
// it (attemptNumber+1).
func ComputeNext(attemptNumber int, schedule model.RetrySchedule) NextAction {
	if attemptNumber+1 >= schedule.MaxAttempts {
		return NextAction{Kind: ActionGiveUp}
	}

	n := len(schedule.IntervalsSec)
	var delay int

	switch {
	case n == 0:
		delay = minDelaySeconds
	case attemptNumber < n:
		delay = schedule.IntervalsSec[attemptNumber]
	default:
		last := schedule.IntervalsSec[n-1]
		switch schedule.Strategy {
		case model.StrategyLinear:
			delay = last
		case model.StrategyCustom:
			delay = schedule.IntervalsSec[attemptNumber%n]
		default: // exponential
			exp := attemptNumber - n + 1
			scaled := float64(last) * math.Pow(2, float64(exp))
			if scaled > maxDelaySeconds {
				delay = maxDelaySeconds
			} else {
				delay = int(scaled)
			}
		}
	}

	return NextAction{Kind: ActionRetry, DelaySeconds: clamp(delay)}
}

func clamp(d int) int {
	if d < minDelaySeconds {
		return minDelaySeconds
	}
	if d > maxDelaySeconds {
		return maxDelaySeconds
	}
	return d
}

// NextScheduledAt is a convenience wrapper returning the absolute time an
// Retry action's successor should run, given the moment the failure was
// recorded.
func (a NextAction) NextScheduledAt(now time.Time) time.Time {
	return now.Add(time.Duration(a.DelaySeconds) * time.Second)
}

// Classification is the outcome bucket an HTTP response or transport error
// falls into, per the failure-classification table in spec §4.B.
type Classification int

const (
	ClassificationSuccess Classification = iota
	ClassificationRetryable
	ClassificationPermanent
)

// ClassifyStatus maps an HTTP status code to a Classification. Safe default
// for 410 Gone and any unrecognized status in the 4xx range is permanent,
// per spec §9 open questions.
func ClassifyStatus(status int) Classification {
	switch {
	case status >= 200 && status < 300:
		return ClassificationSuccess
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return ClassificationRetryable
	case status >= 500 && status < 600:
		return ClassificationRetryable
	case status >= 400 && status < 500:
		return ClassificationPermanent
	default:
		return ClassificationPermanent
	}
}

// ClassifyTransportError always returns retryable: connect timeouts, read
// timeouts, DNS failures, TLS failures, and connection refusals are
// retryable regardless of subscription configuration (spec §4.B tie-break).
func ClassifyTransportError(model.TransportErrorLabel) Classification {
	return ClassificationRetryable
}
