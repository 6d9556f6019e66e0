package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"formauth-service/internal/client"
	"formauth-service/internal/models"
	"formauth-service/internal/util"
)

const sessionPrefix = "session:"

// ErrSessionNotFound is returned when no session exists for the id.
var ErrSessionNotFound = errors.New("session not found")

// SessionCache stores active sessions in Redis with a TTL. A session
// disappearing from the cache means the ticket referencing it is no
// longer valid.
type SessionCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewSessionCache(redisClient *client.RedisClient, ttl time.Duration) *SessionCache {
	return &SessionCache{
		client: redisClient,
		ttl:    ttl,
	}
}

func (c *SessionCache) Store(ctx context.Context, session *models.Session) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := sessionPrefix + session.SessionID.String()
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		util.Error("Failed to store session",
			zap.String("session_id", session.SessionID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to store session: %w", err)
	}

	util.Debug("Session stored",
		zap.String("session_id", session.SessionID.String()),
		zap.String("login", session.Login),
		zap.Duration("ttl", c.ttl))

	return nil
}

func (c *SessionCache) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := sessionPrefix + sessionID.String()
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

func (c *SessionCache) Delete(ctx context.Context, sessionID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := sessionPrefix + sessionID.String()
	if err := c.client.Del(ctx, key); err != nil {
		util.Error("Failed to delete session",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to delete session: %w", err)
	}

	util.Debug("Session deleted", zap.String("session_id", sessionID.String()))
	return nil
}

// Touch extends a live session to a full TTL again.
func (c *SessionCache) Touch(ctx context.Context, sessionID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := sessionPrefix + sessionID.String()
	if err := c.client.Expire(ctx, key, c.ttl); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}
