package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockUnavailable signals that no distributed lock backend is configured.
var ErrLockUnavailable = errors.New("distributed lock unavailable")

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// LockRepository provides short-lived mutual exclusion keys in Redis.
type LockRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewLockRepository constructs a lock repository. A nil client makes every
// Acquire return ErrLockUnavailable.
func NewLockRepository(client *redis.Client, logger *zap.Logger) *LockRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockRepository{client: client, prefix: "lumina:lock:", logger: logger}
}

// Acquire tries to take key for ttl, retrying until wait elapses. It returns
// a token for Release and false when the key stayed held by someone else.
func (r *LockRepository) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (string, bool, error) {
	if r.client == nil {
		return "", false, ErrLockUnavailable
	}
	token, err := lockToken()
	if err != nil {
		return "", false, err
	}

	deadline := time.Now().Add(wait)
	backoff := 10 * time.Millisecond
	for {
		ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("redis setnx %s: %w", key, err)
		}
		if ok {
			return token, true, nil
		}
		if time.Now().After(deadline) {
			return "", false, nil
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", false, ctx.Err()
		case <-timer.C:
		}
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

// Release frees key if token still owns it.
func (r *LockRepository) Release(ctx context.Context, key, token string) error {
	if r.client == nil || token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Warn("release lock failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}

func lockToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
