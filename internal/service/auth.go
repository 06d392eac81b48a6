// Package service provides the business logic of the API server, delegating
// persistence to repository interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/models"
)

// DefaultTokenTTL is the lifetime of a session token.
const DefaultTokenTTL = 30 * 24 * time.Hour

// AuthRepository defines the persistence operations
// required by the authentication service.
type AuthRepository interface {
	// CreateUser stores a new user. A taken email yields apperr.ErrConflict.
	CreateUser(ctx context.Context, u models.User) error
	// GetUserByEmail returns apperr.ErrNotFound when no user has the email.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateSession(ctx context.Context, token, userID string, expiresAt time.Time) error
	// GetSessionUser returns apperr.ErrAuthentication for unknown or expired tokens.
	GetSessionUser(ctx context.Context, token string, now time.Time) (string, error)
	DeleteUser(ctx context.Context, userID string) error
}

// Service implements account and session operations.
type Service struct {
	repo     AuthRepository
	tokenTTL time.Duration
	log      *zap.Logger
	now      func() time.Time
	cost     int
}

// NewAuthService constructs a new Service using the provided repository.
// tokenTTL <= 0 selects DefaultTokenTTL.
func NewAuthService(repo AuthRepository, tokenTTL time.Duration, log *zap.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, tokenTTL: tokenTTL, log: log, now: time.Now, cost: bcrypt.DefaultCost}
}

// Register creates an account and opens its first session.
func (s *Service) Register(ctx context.Context, email, password string) (*models.AuthResult, error) {
	email = normalizeEmail(email)
	if err := models.ValidateCredentials(email, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.String("user_id", user.ID))
	return s.issue(ctx, user)
}

// Login checks the credentials and opens a session. A wrong email and a
// wrong password both yield apperr.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*models.AuthResult, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, apperr.ErrInvalidCredentials
	}
	return s.issue(ctx, *user)
}

// Authenticate resolves a bearer token to a user id.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", apperr.ErrAuthentication
	}
	return s.repo.GetSessionUser(ctx, token, s.now().UTC())
}

// RequestPasswordReset records a reset request. It reports nothing about
// whether the account exists. Delivering the reset link is left to the
// mail integration of the deployment.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		s.log.Info("password reset requested for unknown email")
	case err != nil:
		s.log.Error("password reset lookup failed", zap.Error(err))
	default:
		s.log.Info("password reset requested", zap.String("user_id", user.ID))
	}
}

// DeleteAccount removes the user with everything it owns.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.log.Info("account deleted", zap.String("user_id", userID))
	return nil
}

func (s *Service) issue(ctx context.Context, user models.User) (*models.AuthResult, error) {
	token := uuid.NewString()
	expiresAt := s.now().UTC().Add(s.tokenTTL)
	if err := s.repo.CreateSession(ctx, token, user.ID, expiresAt); err != nil {
		return nil, err
	}
	user.PasswordHash = nil
	return &models.AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
