package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/config"
	"github.com/temcen/recengine/pkg/models"
)

const (
	RoleRater = "rater"
	RoleAdmin = "admin"
)

var (
	ErrAuthDisabled     = errors.New("authentication is not configured")
	ErrSessionsDisabled = errors.New("token revocation requires Redis")
)

// SessionStore remembers the id of the latest token issued to each subject.
type SessionStore interface {
	Put(ctx context.Context, subject, tokenID string, ttl time.Duration) error
	// Get returns the stored token id, or "" when the subject has no session.
	Get(ctx context.Context, subject string) (string, error)
	Delete(ctx context.Context, subject string) error
}

type redisSessionStore struct {
	client redis.Cmdable
}

func NewRedisSessionStore(client redis.Cmdable) SessionStore {
	return &redisSessionStore{client: client}
}

func (r *redisSessionStore) Put(ctx context.Context, subject, tokenID string, ttl time.Duration) error {
	return r.client.Set(ctx, sessionKey(subject), tokenID, ttl).Err()
}

func (r *redisSessionStore) Get(ctx context.Context, subject string) (string, error) {
	id, err := r.client.Get(ctx, sessionKey(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (r *redisSessionStore) Delete(ctx context.Context, subject string) error {
	return r.client.Del(ctx, sessionKey(subject)).Err()
}

// AuthService issues and checks HS256 bearer tokens.
//
// With a session store, tokens issued here carry a token id (jti) that must
// match the subject's stored session; issuing a new token or revoking the
// subject invalidates older ones. Tokens without a jti were signed outside
// the service with the shared secret (for example by cmd/token) and are
// checked on signature and expiry alone.
type AuthService struct {
	config    *config.Config
	logger    *logrus.Logger
	sessions  SessionStore
	jwtSecret []byte
}

func NewAuthService(cfg *config.Config, logger *logrus.Logger, sessions SessionStore) *AuthService {
	return &AuthService{
		config:    cfg,
		logger:    logger,
		sessions:  sessions,
		jwtSecret: []byte(cfg.Auth.JWTSecret),
	}
}

// Enabled reports whether a signing secret is configured.
func (s *AuthService) Enabled() bool {
	return len(s.jwtSecret) > 0
}

// GenerateToken signs a token for subject. With a session store the token
// becomes the subject's current session.
func (s *AuthService) GenerateToken(subject, role string) (*models.AuthResponse, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("subject is required")
	}
	if role != RoleRater && role != RoleAdmin {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	now := time.Now()
	expiresAt := now.Add(s.config.Auth.TokenTTL)
	claims := &models.JWTClaims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "github.com/temcen/recengine",
		},
	}
	if s.sessions != nil {
		claims.ID = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	if s.sessions != nil {
		if err := s.sessions.Put(context.Background(), subject, claims.ID, s.config.Auth.TokenTTL); err != nil {
			return nil, fmt.Errorf("failed to store session: %w", err)
		}
	}

	return &models.AuthResponse{Token: tokenString, ExpiresAt: expiresAt, Role: role}, nil
}

func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}

	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if s.sessions != nil && claims.ID != "" {
		current, err := s.sessions.Get(context.Background(), claims.Subject)
		if err != nil {
			// Continue validation even if Redis is down
			s.logger.WithError(err).Warn("Failed to check session in Redis")
		} else if current != claims.ID {
			return nil, fmt.Errorf("session not found or expired")
		}
	}

	return claims, nil
}

// RevokeToken drops the subject's session. Tokens signed outside the service
// cannot be revoked and stay valid until they expire.
func (s *AuthService) RevokeToken(subject string) error {
	if s.sessions == nil {
		return ErrSessionsDisabled
	}
	if err := s.sessions.Delete(context.Background(), subject); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

func sessionKey(subject string) string {
	return "session:" + subject
}
