package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-agent/internal/domain"
)

// HTTPProvider forwards ability calls to a remote capability service as
// POST <baseURL>/abilities/<ability> with body {"ability": ..., "state": ...}.
// The service answers with a JSON object that becomes the Result.
type HTTPProvider struct {
	name    string
	baseURL string
	timeout time.Duration
}

type abilityRequest struct {
	Ability string              `json:"ability"`
	State   *domain.TicketState `json:"state"`
}

// NewHTTPProvider builds a provider for a remote capability backend.
func NewHTTPProvider(name, baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

// Name returns the provider identity.
func (p *HTTPProvider) Name() string {
	return p.name
}

// Invoke performs the remote call. The fiber client has no context support, so
// the remaining context deadline is applied as the agent timeout.
func (p *HTTPProvider) Invoke(ctx context.Context, ability string, state *domain.TicketState) (Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	agent := fiber.Post(fmt.Sprintf("%s/abilities/%s", p.baseURL, ability))
	agent.JSON(abilityRequest{Ability: ability, State: state})
	if timeout := p.effectiveTimeout(ctx); timeout > 0 {
		agent.Timeout(timeout)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		err := errors.Join(errs...)
		if isTimeout(err) {
			return nil, fmt.Errorf("%s: %w", err.Error(), context.DeadlineExceeded)
		}
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("capability service returned status %d", status)
	}

	result := Result{}
	if len(body) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode capability result: %w", err)
	}
	return result, nil
}

func (p *HTTPProvider) effectiveTimeout(ctx context.Context) time.Duration {
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

func isTimeout(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
