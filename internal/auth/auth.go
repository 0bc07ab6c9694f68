// SPDX-License-Identifier: MIT

// Package auth issues and validates the control API's session tokens.
// Tokens are HS256 JWTs whose jti is a persisted session row, so logout
// revokes server-side regardless of token lifetime.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/store"
)

var (
	// ErrInvalidCredentials covers unknown users and wrong passwords
	// alike; callers must not learn which.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthorized covers missing, malformed, forged or revoked
	// tokens.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired marks a structurally valid token whose session
	// has passed its expiry.
	ErrSessionExpired = errors.New("session expired")
)

const DefaultTokenTTL = 24 * time.Hour

// Config tunes token issuance.
type Config struct {
	Secret   string
	TokenTTL time.Duration
}

// Identity is the authenticated caller attached to request contexts.
type Identity struct {
	UserID    string
	Username  string
	Role      string
	SessionID string
}

// Manager owns login, logout and token validation.
type Manager struct {
	cfg   Config
	store store.Store
}

func NewManager(cfg Config, st store.Store) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret must not be empty")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	return &Manager{cfg: cfg, store: st}, nil
}

type sessionClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Login verifies the password and issues a token bound to a fresh
// session row.
func (m *Manager) Login(ctx context.Context, username, password string) (string, *model.User, error) {
	user, err := m.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	session := &model.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: now.Add(m.cfg.TokenTTL),
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return "", nil, fmt.Errorf("create session: %w", err)
	}

	claims := sessionClaims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        session.ID,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.Secret))
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	log.FromContext(ctx).Info().Str("username", user.Username).Msg("login")
	return token, user, nil
}

// Validate checks signature, expiry and session revocation.
func (m *Manager) Validate(ctx context.Context, token string) (*Identity, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(m.cfg.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, ErrUnauthorized
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, ErrUnauthorized
	}

	session, err := m.store.GetSession(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if session.Revoked {
		return nil, ErrUnauthorized
	}
	if session.Expired(time.Now().UTC()) {
		return nil, ErrSessionExpired
	}

	return &Identity{
		UserID:    claims.Subject,
		Username:  claims.Username,
		Role:      claims.Role,
		SessionID: session.ID,
	}, nil
}

// Logout revokes the session behind the token.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	return m.store.RevokeSession(ctx, sessionID)
}

// Bootstrap ensures the initial admin user exists. It is a no-op when
// the username is already taken.
func (m *Manager) Bootstrap(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return errors.New("auth: bootstrap requires username and password")
	}
	_, err := m.store.GetUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := m.store.CreateUser(ctx, &model.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         "admin",
	}); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	log.WithComponent("auth").Info().Str("username", username).Msg("bootstrapped admin user")
	return nil
}
