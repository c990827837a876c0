package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"circle_go/internal/domain"
	"circle_go/internal/security"
)

// AuthService resolves bearer tokens to profiles. Sign-up and passwords live
// with the identity provider; a profile row is created the first time a
// valid token is seen.
type AuthService struct {
	profiles domain.ProfileStore
	tokens   *security.TokenService
}

func NewAuthService(profiles domain.ProfileStore, tokens *security.TokenService) *AuthService {
	return &AuthService{
		profiles: profiles,
		tokens:   tokens,
	}
}

type TokenResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	Profile     *domain.Profile `json:"profile"`
}

// Authenticate validates raw and returns the bearer's profile.
func (s *AuthService) Authenticate(ctx context.Context, raw string) (*domain.Profile, error) {
	ident, err := s.tokens.ParseIdentity(raw)
	if err != nil {
		return nil, err
	}
	p, err := s.profiles.GetByID(ctx, ident.UserID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	p = &domain.Profile{ID: ident.UserID, FullName: ident.Name}
	if err := s.profiles.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	return p, nil
}

// IssueDevToken creates a profile named fullName and a token for it. It backs
// the debug-only sign-in route.
func (s *AuthService) IssueDevToken(ctx context.Context, fullName string) (*TokenResponse, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, fmt.Errorf("%w: full_name is required", domain.ErrInvalidInput)
	}
	p := &domain.Profile{ID: uuid.New(), FullName: fullName}
	if err := s.profiles.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	token, err := s.tokens.CreateForUser(p.ID, p.FullName)
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &TokenResponse{AccessToken: token, TokenType: "bearer", Profile: p}, nil
}
