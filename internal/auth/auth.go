// Package auth signs guards in and issues the bearer tokens the scan API requires.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"parkpeek-guard/internal/model"
	"parkpeek-guard/internal/store"
)

var (
	ErrMissingFields      = errors.New("please fill in both fields")
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

const bcryptCost = 10

// Claims carried by a guard token. Subject is the guard ID.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// GuardStore is the part of store.Store used for accounts.
type GuardStore interface {
	FindGuardByEmail(ctx context.Context, email string) (*model.Guard, error)
	FindGuardByID(ctx context.Context, id string) (*model.Guard, error)
	CreateGuard(ctx context.Context, guard *model.Guard) error
}

type Service struct {
	guards GuardStore
	secret []byte
	ttl    time.Duration
	domain string
	now    func() time.Time
}

func NewService(guards GuardStore, secret string, ttl time.Duration, emailDomain string) (*Service, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Service{
		guards: guards,
		secret: []byte(secret),
		ttl:    ttl,
		domain: emailDomain,
		now:    time.Now,
	}, nil
}

// EmailFor maps a login name to the account email. Full addresses pass through.
func (s *Service) EmailFor(username string) string {
	username = strings.ToLower(strings.TrimSpace(username))
	if strings.Contains(username, "@") {
		return username
	}
	return username + "@" + s.domain
}

// SignIn checks the password and returns a signed token.
func (s *Service) SignIn(ctx context.Context, username, password string) (string, *model.Guard, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return "", nil, ErrMissingFields
	}

	guard, err := s.guards.FindGuardByEmail(ctx, s.EmailFor(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(guard.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.issue(guard)
	if err != nil {
		return "", nil, err
	}
	return token, guard, nil
}

func (s *Service) issue(guard *model.Guard) (string, error) {
	now := s.now()
	claims := Claims{
		Email: guard.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   guard.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and checks its signature and expiry.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// CurrentUser returns the guard a token belongs to.
func (s *Service) CurrentUser(ctx context.Context, tokenString string) (*model.Guard, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	guard, err := s.guards.FindGuardByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown guard", ErrInvalidToken)
		}
		return nil, err
	}
	return guard, nil
}

// EnsureGuard creates the account for username unless it already exists. It reports whether it created one.
func (s *Service) EnsureGuard(ctx context.Context, username, password string) (*model.Guard, bool, error) {
	email := s.EmailFor(username)
	existing, err := s.guards.FindGuardByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, false, err
	}
	guard := &model.Guard{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  strings.TrimSpace(username),
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.guards.CreateGuard(ctx, guard); err != nil {
		return nil, false, err
	}
	return guard, true, nil
}

func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}
