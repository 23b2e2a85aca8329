package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/openctl/ctrlgraph/internal/infrastructure/config"
)

// Identity describes the authenticated caller of a request.
type Identity struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// Validator checks a bearer token and resolves the identity behind it.
type Validator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

// sessionClaims are the JWT claims the session store issues.
type sessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// verifyToken checks signature, expiry, and required fields locally.
// Store lookup happens separately, after this passes.
func verifyToken(token, secret string) (*sessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrUnauthorized
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthorized)
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrUnauthorized)
	}
	return claims, nil
}

// RedisStore validates tokens against a Redis-backed session store.
type RedisStore struct {
	client    *redis.Client
	secret    string
	keyPrefix string
	timeout   time.Duration
}

// NewRedisStore connects a validator to the session store described by
// cfg.
func NewRedisStore(cfg config.SessionConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.StoreAddr,
		Password: cfg.StorePassword,
		DB:       cfg.StoreDB,
	})
	return &RedisStore{
		client:    client,
		secret:    cfg.JWTSecret,
		keyPrefix: cfg.KeyPrefix,
		timeout:   cfg.Timeout(),
	}
}

// Validate verifies the token locally, then confirms the session still
// exists in the store. Sessions can be revoked server-side at any
// time, so the store is consulted on every call.
func (s *RedisStore) Validate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	claims, err := verifyToken(token, s.secret)
	if err != nil {
		return Identity{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Exists(ctx, s.sessionKey(claims.SessionID)).Result()
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return Identity{}, fmt.Errorf("%w: session revoked or expired", ErrUnauthorized)
	}

	id := Identity{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// HealthCheck verifies the store connection.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the store connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) sessionKey(sid string) string {
	return s.keyPrefix + ":" + sid
}
