// Package lock serializes work on a single sale across concurrent callers.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"

	"posdesk/backend/internal/store"
)

type Locker interface {
	// Acquire blocks until key is free or ctx ends. The returned func releases it.
	Acquire(ctx context.Context, key string) (func(), error)
}

func SaleKey(saleID int64) string {
	return fmt.Sprintf("lock:sale:%d", saleID)
}

// Local is an in-process keyed mutex.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.drop(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}
}

func (l *Local) drop(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Redis holds keys in Redis so several backend processes sharing one
// database also serialize on the same sale.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Redis{
		client: redislock.New(client),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(25*time.Millisecond), int(ttl/(25*time.Millisecond))),
	}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	held, err := r.client.Obtain(ctx, key, r.ttl, &redislock.Options{RetryStrategy: r.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s is busy", store.ErrConflict, key)
	}
	if err != nil {
		return nil, err
	}

	// Keep the key alive while the holder works; a lapsed key would let a
	// second process into the same sale.
	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(held, key, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := held.Release(releaseCtx); err != nil {
				slog.Default().Warn("sale lock release failed", slog.String("key", key), slog.Any("error", err))
			}
		})
	}, nil
}

func (r *Redis) keepAlive(held *redislock.Lock, key string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/2)
			err := held.Refresh(ctx, r.ttl, nil)
			cancel()
			if err != nil {
				slog.Default().Error("sale lock refresh failed", slog.String("key", key), slog.Any("error", err))
				return
			}
		}
	}
}
