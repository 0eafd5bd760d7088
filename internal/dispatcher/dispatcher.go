// Copyright 2025 James Ross
// Package dispatcher implements the per-worker delivery loop: claim a batch
// of pending request attempts from the Store, issue the outbound HTTP call
// for each one, and record the outcome. It is the component that carries
// most of the engineering weight in Hook0's delivery core (spec §2).
package dispatcher

import (
	"bytes"
	"context"
	"crypto/tls"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/hook0/dispatcher/internal/breaker"
	"github.com/hook0/dispatcher/internal/model"
	"github.com/hook0/dispatcher/internal/notify"
	"github.com/hook0/dispatcher/internal/obs"
	"github.com/hook0/dispatcher/internal/retrypolicy"
	"github.com/hook0/dispatcher/internal/signer"
	"github.com/hook0/dispatcher/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// UserAgent is the dispatcher's identity on the wire, per spec §6.
const UserAgent = "Hook0/1"

// responseBodyLimit caps how much of a target's response body is read back
// and stored, mirroring the event-hooks subscriber's bounded read.
const responseBodyLimit = 4096

// Config bounds one Dispatcher instance: the (worker-id, scope, concurrency)
// triple named by spec §4.D plus its HTTP timeouts.
type Config struct {
	WorkerID             string
	Scope                model.Scope
	Concurrency          int
	ConnectTimeout       time.Duration
	Timeout              time.Duration
	ShutdownGrace        time.Duration
	AutoDisableThreshold int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = c.Timeout
	}
	return c
}

// backoffLadder implements spec §4.D's adaptive sleep: unit 0 is 1s,
// units 1-2 are 5.5s, units 3+ are 10s. "unit" is the count of consecutive
// empty claim polls.
func backoffLadder(consecutiveEmpty int) time.Duration {
	switch {
	case consecutiveEmpty <= 0:
		return 1 * time.Second
	case consecutiveEmpty <= 2:
		return 5500 * time.Millisecond
	default:
		return 10 * time.Second
	}
}

var (
	attemptsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hook0_dispatcher_attempts_total",
		Help: "Total request attempts dispatched, labeled by outcome",
	}, []string{"outcome"})
	attemptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hook0_dispatcher_attempt_duration_seconds",
		Help:    "Time spent on the outbound HTTP call per request attempt",
		Buckets: prometheus.DefBuckets,
	})
	claimBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hook0_dispatcher_claim_batch_size",
		Help:    "Number of attempts returned by a single claim_batch call",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})
	breakerRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hook0_dispatcher_breaker_rejections_total",
		Help: "Attempts skipped this poll because their target's circuit breaker was open",
	})
)

func init() {
	prometheus.MustRegister(attemptsDispatched, attemptDuration, claimBatchSize, breakerRejections)
}

// Dispatcher drains one worker's share of the Store's pending request
// attempts and delivers them over HTTP.
type Dispatcher struct {
	cfg      Config
	store    *store.Store
	notifier *store.Notifier
	ops      *notify.Notifier
	breakers *breaker.Registry
	client   *http.Client
	log      *zap.Logger

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	wg       sync.WaitGroup
	inFlight sync.WaitGroup
}

// New builds a Dispatcher. notifier may be nil, in which case the
// Dispatcher relies entirely on its adaptive-backoff poll. ops may also be
// nil, in which case give-up/auto-disable events are never fanned out.
func New(cfg Config, st *store.Store, notifier *store.Notifier, ops *notify.Notifier, breakers *breaker.Registry, log *zap.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		ops:      ops,
		breakers: breakers,
		client:   &http.Client{Transport: transport, Timeout: cfg.Timeout},
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Run executes the dispatch loop (spec §4.D) until ctx is canceled, then
// waits up to cfg.ShutdownGrace for in-flight HTTP calls to finish recording
// their outcome before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	consecutiveEmpty := 0

	for {
		if ctx.Err() != nil {
			break
		}

		claimCtx, claimSpan := obs.StartClaimSpan(ctx, d.cfg.WorkerID, string(d.cfg.Scope))
		claimed, err := d.store.ClaimBatch(claimCtx, d.cfg.WorkerID, d.cfg.Scope, d.cfg.Concurrency)
		if err != nil {
			obs.RecordError(claimCtx, err)
			claimSpan.End()
			d.log.Warn("claim_batch failed", zap.Error(err))
			if !d.sleep(ctx, backoffLadder(consecutiveEmpty)) {
				break
			}
			consecutiveEmpty++
			continue
		}
		claimSpan.End()
		claimBatchSize.Observe(float64(len(claimed)))

		if len(claimed) == 0 {
			if !d.sleep(ctx, backoffLadder(consecutiveEmpty)) {
				break
			}
			consecutiveEmpty++
			continue
		}
		consecutiveEmpty = 0

		sem := make(chan struct{}, d.cfg.Concurrency)
		var batch sync.WaitGroup
		for _, attempt := range claimed {
			attempt := attempt
			sem <- struct{}{}
			batch.Add(1)
			d.inFlight.Add(1)
			go func() {
				defer func() { <-sem; batch.Done(); d.inFlight.Done() }()
				// Detached from ctx's cancellation so a shutdown lets the HTTP
				// call finish and its outcome be recorded; send still bounds
				// the call by cfg.Timeout.
				d.deliver(context.WithoutCancel(ctx), attempt)
			}()
		}
		batch.Wait()
	}

	done := make(chan struct{})
	go func() { d.inFlight.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(d.cfg.ShutdownGrace):
		d.log.Warn("shutdown grace window elapsed with deliveries still in flight")
	}
	return nil
}

// sleep waits for d according to the adaptive backoff ladder, or the wake
// channel if a Notifier is configured, whichever comes first. It returns
// false if ctx was canceled while waiting.
func (d *Dispatcher) sleep(ctx context.Context, wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	if d.notifier == nil {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}

	wakeCh, cancel := d.notifier.Subscribe(ctx)
	defer cancel()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-wakeCh:
		return true
	}
}

// deliver issues the outbound HTTP request for one claimed attempt and
// records its outcome, per spec §4.D steps 3a-3g.
func (d *Dispatcher) deliver(ctx context.Context, claimed store.ClaimedAttempt) {
	ctx, span := obs.StartDeliverySpan(ctx, d.cfg.WorkerID, obs.DeliveryAttempt{
		AttemptID:      claimed.Attempt.ID.String(),
		EventID:        claimed.Event.ID.String(),
		EventType:      claimed.Event.EventType,
		SubscriptionID: claimed.Subscription.ID.String(),
		AttemptNumber:  claimed.Attempt.AttemptNumber,
	})
	defer span.End()

	obs.WorkerActive.Inc()
	defer obs.WorkerActive.Dec()

	cb := d.breakers.For(claimed.Subscription.Target.URL)
	if !cb.Allow() {
		breakerRejections.Inc()
		// Leave the attempt picked; it becomes an orphan and the sweeper
		// returns it to pending, where a healthier dispatcher (or this one,
		// once the breaker cools down) can retry it.
		return
	}

	limiter := d.limiterFor(claimed.Subscription)
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
	}

	resp, elapsed := d.send(ctx, claimed)
	cb.Record(resp.Succeeded())

	outcome := "success"
	defer func() { attemptsDispatched.WithLabelValues(outcome).Inc() }()
	attemptDuration.Observe(elapsed.Seconds())

	if resp.Succeeded() {
		obs.SetSpanSuccess(ctx)
		if err := d.store.RecordOutcomeSuccess(ctx, claimed.Attempt.ID, resp, claimed.Event.OccurredAt); err != nil {
			d.log.Error("record_outcome_success failed", zap.Error(err), zap.String("attempt_id", claimed.Attempt.ID.String()))
		}
		return
	}

	classification := d.classify(resp)
	if classification == retrypolicy.ClassificationPermanent {
		outcome = "give_up"
		d.giveUp(ctx, claimed, resp)
		return
	}

	next := retrypolicy.ComputeNext(claimed.Attempt.AttemptNumber, claimed.Schedule)
	if next.Kind == retrypolicy.ActionGiveUp {
		outcome = "give_up"
		d.giveUp(ctx, claimed, resp)
		return
	}

	outcome = "retry"
	successorAt := next.NextScheduledAt(time.Now().UTC())
	if _, err := d.store.RecordOutcomeRetry(ctx, claimed.Attempt.ID, resp, successorAt, claimed.Attempt.AttemptNumber+1); err != nil {
		d.log.Error("record_outcome_retry failed", zap.Error(err), zap.String("attempt_id", claimed.Attempt.ID.String()))
		return
	}
	if err := d.notifier.NotifyNewWork(ctx); err != nil {
		d.log.Debug("wake notify failed", zap.Error(err))
	}
}

// giveUp records a permanent failure and fans it out to the ops notifier,
// along with an auto-disable event if the subscription's failure streak
// just crossed the configured threshold.
func (d *Dispatcher) giveUp(ctx context.Context, claimed store.ClaimedAttempt, resp model.Response) {
	outcome, err := d.store.RecordOutcomeGiveUp(ctx, claimed.Attempt.ID, resp, claimed.Event.OccurredAt, d.cfg.AutoDisableThreshold)
	if err != nil {
		d.log.Error("record_outcome_give_up failed", zap.Error(err), zap.String("attempt_id", claimed.Attempt.ID.String()))
		return
	}
	now := time.Now().UTC()
	d.ops.GiveUp(ctx, notify.GiveUp{
		SubscriptionID: claimed.Subscription.ID.String(),
		EventID:        claimed.Event.ID.String(),
		EventType:      claimed.Event.EventType,
		AttemptID:      claimed.Attempt.ID.String(),
		AttemptNumber:  claimed.Attempt.AttemptNumber,
		TargetURL:      claimed.Subscription.Target.URL,
		At:             now,
	})
	if outcome.AutoDisabled {
		d.ops.AutoDisable(ctx, notify.AutoDisable{
			SubscriptionID:      outcome.SubscriptionID.String(),
			ConsecutiveFailures: outcome.ConsecutiveFailures,
			FirstFailureAt:      outcome.FirstFailureAt,
			At:                  now,
		})
	}
}

func (d *Dispatcher) classify(resp model.Response) retrypolicy.Classification {
	if resp.TransportError != nil {
		// An insecure target is a configuration defect, not a transient
		// network failure: retrying it would never succeed, so it is
		// permanent rather than falling under the general transport-error
		// retryable rule.
		if *resp.TransportError == model.TransportErrorInsecureTarget {
			return retrypolicy.ClassificationPermanent
		}
		return retrypolicy.ClassifyTransportError(*resp.TransportError)
	}
	return retrypolicy.ClassifyStatus(*resp.HTTPStatus)
}

// send performs the outbound HTTP call and always returns a Response,
// recording a transport-error label instead of a status when the call
// itself failed (spec §4.D failure semantics).
func (d *Dispatcher) send(ctx context.Context, claimed store.ClaimedAttempt) (model.Response, time.Duration) {
	start := time.Now()

	method := claimed.Subscription.Target.Method
	if method == "" {
		method = http.MethodPost
	}

	if err := requireTLSForNonLoopback(claimed.Subscription.Target.URL); err != nil {
		return transportErrorResponse(model.TransportErrorInsecureTarget, start), time.Since(start)
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, claimed.Subscription.Target.URL, bytes.NewReader(claimed.Event.Payload))
	if err != nil {
		return transportErrorResponse(model.TransportErrorOther, start), time.Since(start)
	}

	t := time.Now().Unix()
	signedHeaders := buildHeaders(claimed, t)
	for name, value := range claimed.Subscription.Target.Headers {
		req.Header.Set(name, value)
	}
	for name, value := range signedHeaders {
		req.Header.Set(name, value)
	}

	httpResp, err := d.client.Do(req)
	if err != nil {
		return transportErrorResponse(classifyTransportErr(err), start), time.Since(start)
	}
	defer httpResp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, responseBodyLimit))
	headers := make(map[string]string, len(httpResp.Header))
	for name := range httpResp.Header {
		headers[name] = httpResp.Header.Get(name)
	}
	status := httpResp.StatusCode

	return model.Response{
		HTTPStatus:    &status,
		Headers:       headers,
		Body:          body,
		ElapsedMillis: time.Since(start).Milliseconds(),
	}, time.Since(start)
}

func transportErrorResponse(label model.TransportErrorLabel, start time.Time) model.Response {
	return model.Response{
		TransportError: &label,
		ElapsedMillis:  time.Since(start).Milliseconds(),
	}
}

// requireTLSForNonLoopback enforces spec §4.D step c: a target reachable
// over anything but loopback or link-local addresses must use https. A
// malformed URL is left to http.NewRequestWithContext to reject.
func requireTLSForNonLoopback(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	if u.Scheme == "https" {
		return nil
	}
	if isLoopbackOrLinkLocalHost(u.Hostname()) {
		return nil
	}
	return stderrors.New("non-loopback target requires https")
}

// isLoopbackOrLinkLocalHost reports whether host is "localhost" or resolves,
// as a literal IP, to a loopback or link-local address. Hostnames that are
// neither are treated as non-loopback, per the TLS requirement above.
func isLoopbackOrLinkLocalHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// classifyTransportErr maps a client.Do error to the closest transport-error
// label. It is a best-effort classification; anything unrecognized is
// "other", which retrypolicy still treats as retryable.
func classifyTransportErr(err error) model.TransportErrorLabel {
	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return model.TransportErrorDNSFailure
	}
	var certErr *tls.CertificateVerificationError
	if stderrors.As(err, &certErr) {
		return model.TransportErrorTLSFailure
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return model.TransportErrorRefused
		}
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return model.TransportErrorReadTimeout
	}
	return model.TransportErrorOther
}

// buildHeaders assembles the Hook0-specific headers of spec §6, including
// the Hook0-Signature computed over Content-Type and Hook0-Event-Type.
func buildHeaders(claimed store.ClaimedAttempt, t int64) map[string]string {
	contentType := string(claimed.Event.PayloadContentType)

	signed := []signer.SignedHeader{
		{Name: "content-type", Value: contentType},
		{Name: "hook0-event-type", Value: claimed.Event.EventType},
	}
	signature := signer.Sign(t, claimed.Subscription.Secret, signed, claimed.Event.Payload)

	return map[string]string{
		"Content-Type":          contentType,
		"Hook0-Signature":       signature,
		"Hook0-Event-Id":        claimed.Event.ID.String(),
		"Hook0-Event-Type":      claimed.Event.EventType,
		"Hook0-Subscription-Id": claimed.Subscription.ID.String(),
		"Hook0-Delivery-Attempt": strconv.Itoa(claimed.Attempt.AttemptNumber),
		"User-Agent":            UserAgent,
	}
}

// limiterFor returns the shared rate.Limiter for a subscription, creating it
// on first use. A subscription with RateLimitPerSecond <= 0 is unlimited.
func (d *Dispatcher) limiterFor(sub model.Subscription) *rate.Limiter {
	if sub.RateLimitPerSecond <= 0 {
		return nil
	}

	key := sub.ID.String()
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()
	l, ok := d.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(sub.RateLimitPerSecond), int(sub.RateLimitPerSecond)+1)
		d.limiters[key] = l
	}
	return l
}
