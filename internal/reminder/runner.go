package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker gates a sweep run so that one replica sweeps per day.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLocker takes a day-scoped SETNX lock.
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, "1", ttl).Result()
}

// NopLocker always grants; used in single-instance deployments without Redis.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }

// Runner fires the sweep once per day at a fixed UTC wall-clock time.
type Runner struct {
	sweeper *Sweeper
	lock    Locker
	logger  *slog.Logger
	hour    int
	minute  int
}

func NewRunner(sweeper *Sweeper, lock Locker, logger *slog.Logger, hour, minute int) *Runner {
	return &Runner{
		sweeper: sweeper,
		lock:    lock,
		logger:  logger,
		hour:    hour,
		minute:  minute,
	}
}

func (r *Runner) Run(ctx context.Context) {
	for {
		now := time.Now().UTC()
		timer := time.NewTimer(nextRun(now, r.hour, r.minute).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		now = time.Now().UTC()
		key := "schedly:reminder-sweep:" + now.Format("2006-01-02")
		ok, err := r.lock.Acquire(ctx, key, 23*time.Hour)
		if err != nil {
			r.logger.Error("sweep lock acquisition failed; skipping run", "err", err)
			continue
		}
		if !ok {
			r.logger.Info("sweep already ran elsewhere today", "key", key)
			continue
		}

		if _, err := r.sweeper.Sweep(ctx, now); err != nil {
			r.logger.Error("reminder sweep failed", "err", err)
		}
	}
}

func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
