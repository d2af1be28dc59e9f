// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package failover decides which upstream provider should serve each
// outbound request. It keeps an ordered fallback chain (primary first),
// tracks per-provider health from reported outcomes, opens a circuit when
// a provider is unreliable, re-admits it for trial once a cooldown has
// elapsed, and can automatically promote a healthy backup to primary.
//
// The router never performs I/O and never retries. Callers obtain a
// target via Next, make their own request, and report the outcome with
// RecordSuccess or RecordFailure. Recovery eligibility is evaluated
// lazily against an injectable clock; there is no background sweep.
package failover

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	quillerr "github.com/quill-dev/quill/pkg/errors"
	"github.com/quill-dev/quill/pkg/health"
)

// Router owns the fallback chain and per-provider health metrics. All
// methods are safe for concurrent use; a single mutex guards the chain,
// the current pointer, and the metrics map. Events are gathered while the
// lock is held and delivered to subscribers after it is released, so a
// subscriber may call back into the Router.
type Router struct {
	mu      sync.Mutex
	cfg     Config
	chain   []string
	current int
	metrics map[string]*providerHealth

	notifier *notifier
	logger   *slog.Logger
	nowFunc  func() time.Time // for testing
}

// Option configures a Router.
type Option func(*Router)

// WithConfig sets the initial thresholds. A Config that fails validation
// is ignored and the defaults are kept.
func WithConfig(cfg Config) Option {
	return func(r *Router) {
		if cfg.Validate() == nil {
			r.cfg = cfg
		}
	}
}

// WithLogger enables transition logging.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithNowFunc overrides the time source (for testing).
func WithNowFunc(fn func() time.Time) Option {
	return func(r *Router) {
		if fn != nil {
			r.nowFunc = fn
		}
	}
}

// New creates a Router with an empty chain.
func New(opts ...Option) *Router {
	r := &Router{
		cfg:      DefaultConfig(),
		metrics:  make(map[string]*providerHealth),
		notifier: newNotifier(),
		logger:   slog.New(slog.DiscardHandler),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetNowFunc overrides the time source (for testing).
func (r *Router) SetNowFunc(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn != nil {
		r.nowFunc = fn
	}
}

// Subscribe registers fn for every published event and returns its
// unsubscribe function. Delivery is synchronous and ordered per
// triggering call.
func (r *Router) Subscribe(fn func(Event)) func() {
	return r.notifier.subscribe(fn)
}

// SetChain replaces the fallback chain with the given provider ids,
// primary first, and resets the current pointer to the primary. Metrics
// for ids already known are preserved; new ids start healthy. An empty
// list is rejected.
func (r *Router) SetChain(ids []string) error {
	if len(ids) == 0 {
		return quillerr.New(quillerr.CodeFailoverChainEmpty,
			"failover chain must contain at least one provider")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.chain = slices.Clone(ids)
	r.current = 0
	for _, id := range ids {
		if _, ok := r.metrics[id]; !ok {
			r.metrics[id] = newProviderHealth()
		}
	}
	return nil
}

// Chain returns a copy of the fallback chain.
func (r *Router) Chain() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.chain)
}

// Primary returns the provider at chain position 0, or "" when the chain
// is empty.
func (r *Router) Primary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chain) == 0 {
		return ""
	}
	return r.chain[0]
}

// Current returns the provider the current pointer refers to, or "" when
// the chain is empty.
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chain) == 0 {
		return ""
	}
	return r.chain[r.current]
}

// Next selects the provider that should serve the next request. The scan
// starts at the current pointer (or one past it when skipCurrent is set)
// and walks the chain circularly exactly once. The first healthy
// candidate wins; moving the pointer publishes a fallback event. An
// unhealthy candidate whose cooldown has elapsed is returned as a trial
// without any event. When the scan finds neither, an exhausted event is
// published and ok is false.
func (r *Router) Next(skipCurrent bool) (provider string, ok bool) {
	r.mu.Lock()

	if len(r.chain) == 0 {
		r.mu.Unlock()
		return "", false
	}

	now := r.nowFunc()
	start := r.current
	if skipCurrent {
		start = r.current + 1
	}

	var events []Event
	attempted := make([]string, 0, len(r.chain))

	for i := 0; i < len(r.chain); i++ {
		idx := (start + i) % len(r.chain)
		candidate := r.chain[idx]
		attempted = append(attempted, candidate)

		hp := r.metrics[candidate]
		if hp == nil || hp.healthy(r.cfg) {
			if idx != r.current {
				reason := ReasonHealthCheck
				if skipCurrent {
					reason = ReasonExplicitSkip
				}
				from := r.chain[r.current]
				r.current = idx
				events = append(events, Event{
					Type:   EventFallback,
					At:     now,
					From:   from,
					To:     candidate,
					Reason: reason,
				})
				r.logger.Info("falling back to provider",
					"from", from, "to", candidate, "reason", reason)
			}
			r.mu.Unlock()
			r.notifier.publish(events)
			return candidate, true
		}

		if hp.recoveryEligible(now, r.cfg) {
			// Trial pick: no event here. Recovery is announced by the
			// outcome the caller reports next.
			r.current = idx
			r.mu.Unlock()
			r.logger.Info("trialing recovering provider", "provider", candidate)
			return candidate, true
		}
	}

	events = append(events, Event{
		Type:      EventExhausted,
		At:        now,
		Attempted: attempted,
	})
	r.logger.Warn("all providers unhealthy", "attempted", attempted)
	r.mu.Unlock()
	r.notifier.publish(events)
	return "", false
}

// RecordSuccess reports a successful call to provider with its observed
// latency. Closing an open circuit publishes a recovered event after the
// success event.
func (r *Router) RecordSuccess(provider string, responseTime time.Duration) {
	r.mu.Lock()

	now := r.nowFunc()
	hp := r.ensureLocked(provider)

	events := []Event{{
		Type:         EventSuccess,
		At:           now,
		Provider:     provider,
		ResponseTime: responseTime,
	}}

	if hp.recordSuccess(now, responseTime, r.cfg) {
		events = append(events, Event{
			Type:     EventRecovered,
			At:       now,
			Provider: provider,
		})
		r.logger.Info("provider recovered", "provider", provider)
	}

	r.mu.Unlock()
	r.notifier.publish(events)
}

// RecordFailure reports a failed call to provider. cause may be nil. When
// the failure count breaches the threshold the circuit opens and an
// unhealthy event follows the failure event; if the provider was primary
// and auto-promotion is enabled, a promoted event follows in the same
// call.
func (r *Router) RecordFailure(provider string, cause error) {
	r.mu.Lock()

	now := r.nowFunc()
	hp := r.ensureLocked(provider)

	errText := ""
	if cause != nil {
		errText = cause.Error()
	}

	events := []Event{{
		Type:     EventFailure,
		At:       now,
		Provider: provider,
		Error:    errText,
	}}

	if hp.recordFailure(now, r.cfg) {
		events = append(events, Event{
			Type:         EventUnhealthy,
			At:           now,
			Provider:     provider,
			FailureCount: len(hp.failures),
			Reason:       ReasonFailureThreshold,
		})
		r.logger.Warn("provider circuit opened",
			"provider", provider, "failures", len(hp.failures), "error", errText)

		if r.cfg.AutoPromote && len(r.chain) > 0 && r.chain[0] == provider {
			if ev, ok := r.autoPromoteLocked(now); ok {
				events = append(events, ev)
			}
		}
	}

	r.mu.Unlock()
	r.notifier.publish(events)
}

// autoPromoteLocked scans positions 1..end for the first healthy provider
// and moves it to the front. Caller must hold r.mu.
func (r *Router) autoPromoteLocked(now time.Time) (Event, bool) {
	for i := 1; i < len(r.chain); i++ {
		candidate := r.chain[i]
		hp := r.metrics[candidate]
		if hp != nil && !hp.healthy(r.cfg) {
			continue
		}
		prev := r.chain[0]
		r.moveToFrontLocked(i)
		r.logger.Info("auto-promoted provider",
			"provider", candidate, "previous_primary", prev)
		return Event{
			Type:            EventPromoted,
			At:              now,
			Provider:        candidate,
			PreviousPrimary: prev,
		}, true
	}
	return Event{}, false
}

// moveToFrontLocked reorders the chain so position idx becomes primary,
// preserving the relative order of all other members, and resets the
// current pointer. Caller must hold r.mu.
func (r *Router) moveToFrontLocked(idx int) {
	id := r.chain[idx]
	r.chain = append(r.chain[:idx], r.chain[idx+1:]...)
	r.chain = append([]string{id}, r.chain...)
	r.current = 0
}

// Promote makes provider the primary. It is a no-op when provider is
// already primary and an error when provider is not in the chain.
func (r *Router) Promote(provider string) error {
	r.mu.Lock()

	idx := slices.Index(r.chain, provider)
	if idx < 0 {
		r.mu.Unlock()
		return quillerr.New(quillerr.CodeFailoverPromoteNotInChain,
			"provider not in failover chain: "+provider,
			quillerr.FieldProvider(provider))
	}
	if idx == 0 {
		r.mu.Unlock()
		return nil
	}

	prev := r.chain[0]
	r.moveToFrontLocked(idx)
	r.logger.Info("promoted provider", "provider", provider, "previous_primary", prev)

	ev := Event{
		Type:            EventPromoted,
		At:              r.nowFunc(),
		Provider:        provider,
		PreviousPrimary: prev,
	}
	r.mu.Unlock()
	r.notifier.publish([]Event{ev})
	return nil
}

// IsHealthy reports the circuit verdict for provider. Unknown providers
// default to healthy.
func (r *Router) IsHealthy(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	hp, ok := r.metrics[provider]
	if !ok {
		return true
	}
	return hp.healthy(r.cfg)
}

// ShouldAttemptRecovery reports whether provider's circuit is open and
// its cooldown has elapsed, making it eligible for a trial selection.
func (r *Router) ShouldAttemptRecovery(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	hp, ok := r.metrics[provider]
	if !ok {
		return false
	}
	return hp.recoveryEligible(r.nowFunc(), r.cfg)
}

// Health returns the snapshot for provider. Unknown providers yield a
// fresh, healthy view.
func (r *Router) Health(provider string) health.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	hp, ok := r.metrics[provider]
	if !ok {
		hp = newProviderHealth()
	}
	return hp.snapshot(provider, r.nowFunc(), r.cfg)
}

// AllHealth returns snapshots for every chain member, in chain order.
func (r *Router) AllHealth() []health.Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	out := make([]health.Status, 0, len(r.chain))
	for _, id := range r.chain {
		hp, ok := r.metrics[id]
		if !ok {
			hp = newProviderHealth()
		}
		out = append(out, hp.snapshot(id, now, r.cfg))
	}
	return out
}

// ResetProvider reinitializes provider's metrics to a fresh, healthy
// state and publishes a recovered event.
func (r *Router) ResetProvider(provider string) {
	r.mu.Lock()
	r.metrics[provider] = newProviderHealth()
	ev := Event{
		Type:     EventRecovered,
		At:       r.nowFunc(),
		Provider: provider,
	}
	r.mu.Unlock()

	r.logger.Info("provider reset", "provider", provider)
	r.notifier.publish([]Event{ev})
}

// MarkUnhealthy force-opens provider's circuit, bypassing the failure
// threshold, and publishes an unhealthy event with the given reason.
func (r *Router) MarkUnhealthy(provider, reason string) {
	r.mu.Lock()

	now := r.nowFunc()
	hp := r.ensureLocked(provider)
	hp.prune(now, r.cfg.FailureWindow)
	hp.circuitOpenedAt = now

	ev := Event{
		Type:         EventUnhealthy,
		At:           now,
		Provider:     provider,
		FailureCount: len(hp.failures),
		Reason:       reason,
	}
	r.mu.Unlock()

	r.logger.Warn("provider marked unhealthy", "provider", provider, "reason", reason)
	r.notifier.publish([]Event{ev})
}

// UpdateConfig merges the partial update into the current configuration.
// The result must validate; window data already recorded is not
// recomputed.
func (r *Router) UpdateConfig(update ConfigUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := update.merged(r.cfg)
	if err := merged.Validate(); err != nil {
		return err
	}
	r.cfg = merged
	return nil
}

// Config returns the current configuration.
func (r *Router) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Reset clears all health metrics while keeping the configured chain,
// reinitializing every known provider fresh and pointing selection back
// at the primary.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.metrics {
		r.metrics[id] = newProviderHealth()
	}
	r.current = 0
}

// Close clears the chain and metrics and detaches all subscribers. The
// Router must not be used afterwards.
func (r *Router) Close() {
	r.mu.Lock()
	r.chain = nil
	r.current = 0
	r.metrics = make(map[string]*providerHealth)
	r.mu.Unlock()

	r.notifier.close()
}

// ensureLocked returns the metrics record for provider, creating it on
// first reference. Caller must hold r.mu.
func (r *Router) ensureLocked(provider string) *providerHealth {
	hp, ok := r.metrics[provider]
	if !ok {
		hp = newProviderHealth()
		r.metrics[provider] = hp
	}
	return hp
}
