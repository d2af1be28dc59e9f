// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package dispatch is the request-dispatch layer between Quill's agent
// surfaces and the failover router. It owns the registered provider
// adapters, asks the router which provider should serve each attempt,
// performs the call, and reports exactly one outcome per attempt back to
// the router. Retry-across-providers lives here, not in the router.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quill-dev/quill/internal/failover"
	quillerr "github.com/quill-dev/quill/pkg/errors"
)

// Provider is the boundary with the per-provider network adapters. The
// adapter owns request formatting, authentication, and streaming decode;
// the dispatcher only sees an opaque completion call.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is a completion request routed to whichever provider the
// failover chain selects.
type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
	MaxTokens    int
}

// Response is a completed provider answer.
type Response struct {
	Provider string
	Text     string
	Latency  time.Duration
}

// Dispatcher routes requests through the failover router.
type Dispatcher struct {
	mu        sync.RWMutex
	providers map[string]Provider

	router  *failover.Router
	logger  *slog.Logger
	nowFunc func() time.Time // for testing
}

// New creates a Dispatcher over the given router. logger may be nil.
func New(router *failover.Router, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		providers: make(map[string]Provider),
		router:    router,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Register adds a provider adapter under its name.
func (d *Dispatcher) Register(p Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers[p.Name()] = p
}

// SetNowFunc overrides the time source (for testing).
func (d *Dispatcher) SetNowFunc(fn func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn != nil {
		d.nowFunc = fn
	}
}

// Dispatch serves one request. Each attempt asks the router for a target,
// calls it, and reports the observed outcome; a failed attempt moves on
// to the next provider, up to one full pass over the chain. Exhaustion is
// returned as a coded error, mirroring the router's exhausted event.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, error) {
	requestID := uuid.NewString()

	maxAttempts := len(d.router.Chain())
	if maxAttempts == 0 {
		return nil, quillerr.New(quillerr.CodeDispatchAllUnavailable,
			"no providers configured", quillerr.FieldRequestID(requestID))
	}

	skip := false
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, quillerr.Wrap(err, quillerr.CodeDispatchCanceled,
				"request canceled", quillerr.FieldRequestID(requestID))
		}

		target, ok := d.router.Next(skip)
		if !ok {
			break
		}

		resp, err := d.attempt(ctx, requestID, target, req)
		if err == nil {
			return resp, nil
		}

		d.logger.Warn("provider attempt failed",
			"request_id", requestID, "provider", target,
			"attempt", attempt+1, "error", err)
		skip = true
	}

	return nil, quillerr.New(quillerr.CodeDispatchAllUnavailable,
		"all providers unavailable", quillerr.FieldRequestID(requestID))
}

// attempt performs a single provider call and reports its outcome to the
// router. Exactly one of RecordSuccess/RecordFailure fires per attempt.
func (d *Dispatcher) attempt(ctx context.Context, requestID, target string, req Request) (*Response, error) {
	d.mu.RLock()
	p, registered := d.providers[target]
	now := d.nowFunc
	d.mu.RUnlock()

	if !registered {
		err := quillerr.New(quillerr.CodeProviderNotRegistered,
			"provider not registered: "+target, quillerr.FieldProvider(target))
		d.router.RecordFailure(target, err)
		return nil, err
	}

	start := now()
	resp, err := p.Complete(ctx, req)
	latency := now().Sub(start)

	if err != nil {
		d.router.RecordFailure(target, err)
		return nil, quillerr.Wrap(err, quillerr.CodeProviderUpstreamFailure,
			"provider call failed", quillerr.FieldProvider(target))
	}

	d.router.RecordSuccess(target, latency)
	d.logger.Debug("provider attempt succeeded",
		"request_id", requestID, "provider", target, "latency", latency)

	resp.Provider = target
	resp.Latency = latency
	return resp, nil
}
