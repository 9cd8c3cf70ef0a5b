// Package provider is a uniform facade over interchangeable text-generation
// backends with availability probing and ordered failover.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrNoProvider means no backend passed its availability check.
	// Distinct from ErrAllFailed so callers can tell "nothing is
	// configured" from "the configured thing broke".
	ErrNoProvider = errors.New("no generation provider available")

	// ErrAllFailed means at least one available backend was tried and
	// every attempt failed.
	ErrAllFailed = errors.New("all generation providers failed")
)

// Params are caller-supplied generation parameters.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Provider is one text-generation backend. Adding a new backend means
// implementing this pair; nothing in the router changes.
type Provider interface {
	// Generate produces text for the prompt. Blocking and cancellable via
	// ctx.
	Generate(ctx context.Context, prompt string, params Params) (string, error)

	// Available reports whether the backend can currently serve a call
	// (credentials present, server reachable). Computed on demand, never
	// cached: a key added mid-session must be picked up.
	Available() bool

	// Name identifies the backend in logs and diagnostics.
	Name() string
}

// Result is a successful generation plus the backend that produced it.
type Result struct {
	Text     string
	Provider string
}

// Router holds an ordered provider list and fails over in order.
type Router struct {
	providers []Provider
	timeout   time.Duration
	logger    *slog.Logger
}

// NewRouter creates a router over the given providers, tried in order.
// A non-zero timeout bounds each individual provider call; a timed-out call
// counts as a failure and the router advances exactly as on an explicit one.
func NewRouter(providers []Provider, timeout time.Duration, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{providers: providers, timeout: timeout, logger: logger}
}

// Generate tries each provider in order: unavailable ones are skipped with
// a log line, failed ones are not retried within the call. Returns
// ErrNoProvider when nothing was available and ErrAllFailed when every
// available backend errored.
func (r *Router) Generate(ctx context.Context, prompt string, params Params) (Result, error) {
	var lastErr error
	tried := 0

	for _, p := range r.providers {
		if !p.Available() {
			r.logger.Warn("provider unavailable, advancing", "provider", p.Name())
			continue
		}
		tried++

		text, err := r.generateOne(ctx, p, prompt, params)
		if err != nil {
			// The caller's context ending is not a provider failure; a
			// per-call timeout only cancels the child context and advances.
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			r.logger.Warn("provider failed, advancing", "provider", p.Name(), "error", err)
			lastErr = fmt.Errorf("%s: %w", p.Name(), err)
			continue
		}
		return Result{Text: text, Provider: p.Name()}, nil
	}

	if tried == 0 {
		return Result{}, ErrNoProvider
	}
	return Result{}, fmt.Errorf("%w: last error: %v", ErrAllFailed, lastErr)
}

func (r *Router) generateOne(ctx context.Context, p Provider, prompt string, params Params) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return p.Generate(ctx, prompt, params)
}

// Availability probes every provider and returns name -> available.
func (r *Router) Availability() map[string]bool {
	out := make(map[string]bool, len(r.providers))
	for _, p := range r.providers {
		out[p.Name()] = p.Available()
	}
	return out
}
