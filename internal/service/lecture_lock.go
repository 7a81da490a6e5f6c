package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lumina-attendance-api/internal/repository"
	appErrors "github.com/noah-isme/lumina-attendance-api/pkg/errors"
)

type distributedLocker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// lectureLocks serialises session mutations per lecture. Redis is used when
// configured so that several API replicas agree; otherwise, or when Redis
// is unreachable, an in-process keyed mutex applies. The partial unique
// index on active sessions stays the final guard either way.
type lectureLocks struct {
	remote distributedLocker
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	local map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func newLectureLocks(remote distributedLocker, ttl, wait time.Duration, logger *zap.Logger) *lectureLocks {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if wait <= 0 {
		wait = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &lectureLocks{remote: remote, ttl: ttl, wait: wait, logger: logger, local: make(map[string]*localLock)}
}

// lock blocks until the lecture is held and returns its release func.
func (l *lectureLocks) lock(ctx context.Context, lectureID string) (func(), error) {
	releaseLocal, err := l.lockLocal(ctx, lectureID)
	if err != nil {
		return nil, err
	}
	if l.remote == nil {
		return releaseLocal, nil
	}

	key := "lecture:" + lectureID
	token, ok, err := l.remote.Acquire(ctx, key, l.ttl, l.wait)
	switch {
	case errors.Is(err, repository.ErrLockUnavailable):
		return releaseLocal, nil
	case err != nil:
		l.logger.Warn("distributed lock failed, using local lock only", zap.String("lecture_id", lectureID), zap.Error(err))
		return releaseLocal, nil
	case !ok:
		releaseLocal()
		return nil, appErrors.Clone(appErrors.ErrConflict, "lecture is being updated, retry shortly")
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.remote.Release(ctx, key, token)
		releaseLocal()
	}, nil
}

func (l *lectureLocks) lockLocal(ctx context.Context, lectureID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.local[lectureID]
	if !ok {
		entry = &localLock{ch: make(chan struct{}, 1)}
		l.local[lectureID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(lectureID, entry)
		return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "request cancelled")
	case <-timer.C:
		l.drop(lectureID, entry)
		return nil, appErrors.Clone(appErrors.ErrConflict, "lecture is being updated, retry shortly")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			l.drop(lectureID, entry)
		})
	}, nil
}

func (l *lectureLocks) drop(lectureID string, entry *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.local, lectureID)
	}
}
