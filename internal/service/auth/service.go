package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/sisreg-api/internal/repository"
	"github.com/jwalitptl/sisreg-api/pkg/auth"
	apperrors "github.com/jwalitptl/sisreg-api/pkg/errors"
	"github.com/jwalitptl/sisreg-api/pkg/security"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type Service struct {
	userRepo repository.UserRepository
	jwtSvc   auth.JWTService
	hasher   security.PasswordHasher
	now      func() time.Time
}

func NewService(userRepo repository.UserRepository, jwtSvc auth.JWTService, hasher security.PasswordHasher) *Service {
	return &Service{
		userRepo: userRepo,
		jwtSvc:   jwtSvc,
		hasher:   hasher,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Login checks the credentials of an active user and issues a token.
// Unknown users, inactive users and wrong passwords are indistinguishable.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenResponse, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, apperrors.Validation("username and password are required")
	}

	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Unauthorized(ErrInvalidCredentials)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to load user: %w", err))
	}
	if !user.IsActive {
		return nil, apperrors.Unauthorized(ErrInvalidCredentials)
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		log.Warn().Str("user_id", user.ID.String()).Msg("login rejected: bad password")
		return nil, apperrors.Unauthorized(ErrInvalidCredentials)
	}

	if err := s.userRepo.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to update login timestamp: %w", err))
	}

	token, expiresAt, err := s.jwtSvc.GenerateAccessToken(user.ID, user.Username)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	log.Info().Str("user_id", user.ID.String()).Msg("user logged in")
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
	}, nil
}

// ValidateToken returns the user id carried by a bearer token.
func (s *Service) ValidateToken(token string) (uuid.UUID, error) {
	claims, err := s.jwtSvc.ValidateToken(token)
	if err != nil {
		return uuid.Nil, apperrors.Unauthorized(err)
	}
	id, err := claims.UserID()
	if err != nil {
		return uuid.Nil, apperrors.Unauthorized(err)
	}
	return id, nil
}
