package engagement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSendInterval is the minimum gap between two outbound sends.
const DefaultSendInterval = 100 * time.Millisecond

// Pacer blocks until the next send is allowed.
type Pacer interface {
	Wait(ctx context.Context) error
}

// SleepPacer spaces sends made through this process.
type SleepPacer struct {
	gap  time.Duration
	mu   sync.Mutex
	next time.Time
}

// NewSleepPacer returns a pacer with the given minimum gap.
func NewSleepPacer(gap time.Duration) *SleepPacer {
	if gap <= 0 {
		gap = DefaultSendInterval
	}
	return &SleepPacer{gap: gap}
}

// Wait reserves the next send slot and sleeps until it arrives.
func (p *SleepPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := time.Now()
	slot := p.next
	if slot.Before(now) {
		slot = now
	}
	p.next = slot.Add(p.gap)
	p.mu.Unlock()

	return sleepCtx(ctx, slot.Sub(now))
}

// RedisPacer spaces sends across every worker process sharing one Redis.
// A send slot is a key set with NX and a PX expiry of the gap; whoever
// fails to set it waits for the remaining TTL and tries again.
type RedisPacer struct {
	client *redis.Client
	key    string
	gap    time.Duration
}

// NewRedisPacer returns a pacer keyed on key.
func NewRedisPacer(client *redis.Client, key string, gap time.Duration) *RedisPacer {
	if gap <= 0 {
		gap = DefaultSendInterval
	}
	return &RedisPacer{client: client, key: key, gap: gap}
}

// Wait blocks until this caller owns the current send slot.
func (p *RedisPacer) Wait(ctx context.Context) error {
	for {
		ok, err := p.client.SetNX(ctx, p.key, 1, p.gap).Result()
		if err != nil {
			return fmt.Errorf("pacer: %w", err)
		}
		if ok {
			return nil
		}

		ttl, err := p.client.PTTL(ctx, p.key).Result()
		if err != nil {
			return fmt.Errorf("pacer: %w", err)
		}
		if ttl <= 0 {
			// Expired between the two calls.
			ttl = time.Millisecond
		}
		if err := sleepCtx(ctx, ttl); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
