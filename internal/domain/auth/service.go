package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shutterhub/shutterhub-api/internal/domain/user"
	"github.com/shutterhub/shutterhub-api/internal/pkg/jwt"
	"github.com/shutterhub/shutterhub-api/internal/pkg/password"
)

// Service handles authentication
type Service struct {
	userRepo user.Repository
	jwt      *jwt.Service
	refresh  *RefreshStore
}

// NewService creates auth service
func NewService(userRepo user.Repository, jwtService *jwt.Service, refresh *RefreshStore) *Service {
	return &Service{userRepo: userRepo, jwt: jwtService, refresh: refresh}
}

// Register creates a new account and issues tokens
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*user.User, *TokenPair, error) {
	hash, err := password.Hash(req.Password)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	u := &user.User{
		ID:           uuid.New(),
		Email:        req.Email,
		PasswordHash: hash,
		DisplayName:  req.DisplayName,
		Role:         user.Role(req.Role),
		Rank:         user.RankGeneral,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, u); err != nil {
		return nil, nil, err
	}

	tokens, err := s.issueTokens(ctx, u)
	if err != nil {
		return nil, nil, err
	}

	log.Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("user registered")
	return u, tokens, nil
}

// Login verifies credentials and issues tokens
func (s *Service) Login(ctx context.Context, req *LoginRequest, ip string) (*user.User, *TokenPair, error) {
	u, err := s.userRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if !password.Verify(req.Password, u.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}

	tokens, err := s.issueTokens(ctx, u)
	if err != nil {
		return nil, nil, err
	}

	if err := s.userRepo.UpdateLastLogin(ctx, u.ID, ip); err != nil {
		log.Warn().Err(err).Str("user_id", u.ID.String()).Msg("failed to record last login")
	}

	return u, tokens, nil
}

// Refresh rotates a refresh token into a new token pair
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*user.User, *TokenPair, error) {
	claims, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, nil, ErrInvalidRefresh
	}

	if err := s.refresh.Consume(ctx, jwt.HashRefreshToken(refreshToken)); err != nil {
		if errors.Is(err, ErrRefreshRevoked) {
			return nil, nil, ErrRefreshRevoked
		}
		return nil, nil, err
	}

	u, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, ErrInvalidRefresh
	}

	tokens, err := s.issueTokens(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	return u, tokens, nil
}

// GetUser returns a user by id for the /auth/me endpoint
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

func (s *Service) issueTokens(ctx context.Context, u *user.User) (*TokenPair, error) {
	access, err := s.jwt.GenerateAccessToken(u.ID, string(u.Role), string(u.Rank))
	if err != nil {
		return nil, err
	}

	refreshToken, _, expiresAt, err := s.jwt.GenerateRefreshToken(u.ID)
	if err != nil {
		return nil, err
	}

	ttl := time.Until(expiresAt)
	if err := s.refresh.Save(ctx, u.ID.String(), jwt.HashRefreshToken(refreshToken), ttl); err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: refreshToken}, nil
}
