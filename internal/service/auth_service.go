package service

import (
	"context"
	"fmt"

	"github.com/spec-kit/ticket-agent/internal/auth"
	"github.com/spec-kit/ticket-agent/internal/config"
	"github.com/spec-kit/ticket-agent/internal/domain"
	apperrors "github.com/spec-kit/ticket-agent/pkg/util/errorutil"
)

// AuthService exchanges API client credentials for access tokens.
type AuthService struct {
	clients  map[string]domain.APIClient
	tokenMgr *auth.TokenManager
}

// NewAuthService builds the service from the configured client list.
func NewAuthService(cfg config.AuthConfig) (*AuthService, error) {
	clients := make(map[string]domain.APIClient, len(cfg.Clients))
	for _, c := range cfg.Clients {
		role, ok := domain.ParseClientRole(c.Role)
		if !ok {
			return nil, fmt.Errorf("client %s has unknown role %q", c.ID, c.Role)
		}
		if _, exists := clients[c.ID]; exists {
			return nil, fmt.Errorf("client %s configured twice", c.ID)
		}
		clients[c.ID] = domain.APIClient{ID: c.ID, Role: role, SecretHash: c.SecretHash}
	}
	return &AuthService{
		clients:  clients,
		tokenMgr: auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
	}, nil
}

// IssueToken authenticates a client and returns a signed access token.
func (s *AuthService) IssueToken(_ context.Context, clientID, secret string) (domain.Token, error) {
	client, ok := s.clients[clientID]
	if !ok || auth.CompareSecret(client.SecretHash, secret) != nil {
		return domain.Token{}, apperrors.NewUnauthorized("invalid client credentials")
	}
	token, err := s.tokenMgr.GenerateToken(client.ID, client.Role)
	if err != nil {
		return domain.Token{}, apperrors.NewInternalError(err)
	}
	return token, nil
}

// TokenManager exposes the token manager for middleware.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
