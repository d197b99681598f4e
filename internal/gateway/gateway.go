package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/observability"
	apperrors "github.com/spec-kit/ticket-agent/pkg/util/errorutil"
)

// Invoker is the call boundary stages depend on.
type Invoker interface {
	Invoke(ctx context.Context, provider, ability string, state *domain.TicketState) (Result, error)
}

// Recorder receives per-call measurements.
type Recorder interface {
	RecordCapabilityCall(provider, ability, outcome string, duration time.Duration)
}

// Options tunes call behavior.
type Options struct {
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *zap.Logger
	Recorder     Recorder
}

// Gateway routes (provider, ability) pairs to registered providers. The
// provider set is fixed at construction, so Invoke is safe for concurrent runs.
type Gateway struct {
	providers map[string]Provider
	opts      Options
	logger    *zap.Logger
}

// New builds a gateway over the given providers.
func New(opts Options, providers ...Provider) (*Gateway, error) {
	registry := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		name := p.Name()
		if name == "" {
			return nil, errors.New("provider name required")
		}
		if _, exists := registry[name]; exists {
			return nil, fmt.Errorf("duplicate provider %q", name)
		}
		registry[name] = p
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Gateway{
		providers: registry,
		opts:      opts,
		logger:    observability.OrNop(opts.Logger).Named("gateway"),
	}, nil
}

// Providers returns the registered provider names.
func (g *Gateway) Providers() []string {
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	return names
}

// Invoke calls ability on the named provider. The provider sees a copy of
// state; callers apply any mutation themselves after the call returns.
func (g *Gateway) Invoke(ctx context.Context, provider, ability string, state *domain.TicketState) (Result, error) {
	p, ok := g.providers[provider]
	if !ok {
		g.record(provider, ability, "unavailable", 0)
		return nil, apperrors.NewCapabilityUnavailable(provider, ability, errors.New("provider not registered"))
	}

	attempts := 1
	if IsReadOnly(ability) {
		attempts += g.opts.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := g.backoff(ctx); err != nil {
				return nil, err
			}
		}
		result, err := g.invokeOnce(ctx, p, ability, state)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
		g.logger.Warn("capability call failed",
			zap.String("provider", provider),
			zap.String("ability", ability),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return nil, lastErr
}

func (g *Gateway) invokeOnce(ctx context.Context, p Provider, ability string, state *domain.TicketState) (Result, error) {
	callCtx := ctx
	cancel := func() {}
	if g.opts.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
	}
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	view := state.Clone()
	start := time.Now()
	go func() {
		result, err := p.Invoke(callCtx, ability, view)
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out.err = callCtx.Err()
	}
	duration := time.Since(start)

	if out.err == nil {
		if out.result == nil {
			out.result = Result{}
		}
		g.record(p.Name(), ability, "ok", duration)
		g.logger.Debug("capability call",
			zap.String("provider", p.Name()),
			zap.String("ability", ability),
			zap.Duration("duration", duration))
		return out.result, nil
	}

	switch {
	case ctx.Err() != nil:
		g.record(p.Name(), ability, "canceled", duration)
		return nil, ctx.Err()
	case errors.Is(out.err, context.DeadlineExceeded):
		g.record(p.Name(), ability, "timeout", duration)
		return nil, apperrors.NewCapabilityTimeout(p.Name(), ability, out.err)
	default:
		g.record(p.Name(), ability, "unavailable", duration)
		var domainErr *apperrors.DomainError
		if errors.As(out.err, &domainErr) {
			return nil, out.err
		}
		return nil, apperrors.NewCapabilityUnavailable(p.Name(), ability, out.err)
	}
}

func (g *Gateway) backoff(ctx context.Context) error {
	if g.opts.RetryBackoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(g.opts.RetryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (g *Gateway) record(provider, ability, outcome string, duration time.Duration) {
	if g.opts.Recorder == nil {
		return
	}
	g.opts.Recorder.RecordCapabilityCall(provider, ability, outcome, duration)
}

func retryable(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeCapabilityUnavailable) ||
		apperrors.HasCode(err, apperrors.CodeCapabilityTimeout)
}
