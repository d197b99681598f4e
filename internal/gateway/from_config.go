package gateway

import (
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/config"
)

// NewFromConfig registers the general and specialist providers. A provider
// with a configured URL is reached over HTTP; otherwise the mock answers.
func NewFromConfig(cfg config.GatewayConfig, logger *zap.Logger, recorder Recorder) (*Gateway, error) {
	responses := MockResponses{
		DecisionScore: cfg.MockDecisionScore,
		Clarification: cfg.MockClarification,
		Answer:        cfg.MockAnswer,
		KBResults:     cfg.MockKBResults,
	}
	provider := func(name, url string) Provider {
		if url != "" {
			return NewHTTPProvider(name, url, cfg.Timeout())
		}
		return NewMockProvider(name, responses)
	}
	return New(Options{
		Timeout:      cfg.Timeout(),
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff(),
		Logger:       logger,
		Recorder:     recorder,
	},
		provider(ProviderGeneral, cfg.GeneralURL),
		provider(ProviderSpecialist, cfg.SpecialistURL),
	)
}
