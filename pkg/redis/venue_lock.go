package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// VenueLocker takes one lock per venue id so concurrent merges sharing a venue cannot interleave.
type VenueLocker struct {
	locker *Locker
	ttl    time.Duration
	wait   time.Duration
}

func NewVenueLocker(client *Client, ttl, wait time.Duration) *VenueLocker {
	return &VenueLocker{
		locker: NewLocker(client, "clover:merge:venue:"),
		ttl:    ttl,
		wait:   wait,
	}
}

// lockOrder returns the distinct ids ascending so every caller locks in the same order.
func lockOrder(venueIDs []int64) []int64 {
	ids := slices.Clone(venueIDs)
	slices.Sort(ids)
	return slices.Compact(ids)
}

// refreshInterval is how often held locks are extended, a third of the TTL.
func refreshInterval(ttl time.Duration) time.Duration {
	return max(ttl/3, 10*time.Millisecond)
}

// LockVenues acquires every venue lock or none. Contention surfaces as models.ErrMergeInProgress.
// Held locks are extended every third of the TTL until the returned unlock runs.
func (v *VenueLocker) LockVenues(ctx context.Context, venueIDs ...int64) (func(context.Context), error) {
	held := make([]*Lock, 0, len(venueIDs))
	release := func(ctx context.Context) {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(ctx); err != nil {
				v.locker.client.logger.WithContext(ctx).WithError(err).WithField("key", held[i].key).Warn("Failed to release venue lock")
			}
		}
	}

	for _, id := range lockOrder(venueIDs) {
		lock, err := v.locker.TryAcquire(ctx, strconv.FormatInt(id, 10), v.ttl, v.wait)
		if err != nil {
			release(context.WithoutCancel(ctx))
			if errors.Is(err, ErrLockNotAcquired) {
				return nil, fmt.Errorf("venue %d: %w", id, models.ErrMergeInProgress)
			}
			return nil, err
		}
		held = append(held, lock)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go v.keepAlive(context.WithoutCancel(ctx), held, stop, done)

	var once sync.Once
	return func(ctx context.Context) {
		once.Do(func() {
			close(stop)
			<-done
			release(ctx)
		})
	}, nil
}

func (v *VenueLocker) keepAlive(ctx context.Context, held []*Lock, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(refreshInterval(v.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, lock := range held {
				if err := lock.Extend(ctx, v.ttl); err != nil {
					v.locker.client.logger.WithContext(ctx).WithError(err).WithField("key", lock.key).Warn("Failed to extend venue lock")
				}
			}
		}
	}
}
