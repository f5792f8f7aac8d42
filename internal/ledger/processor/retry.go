package processor

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"ledgerflow/internal/ledger/domain"
)

// backoffMultiplier grows the delay between retry attempts.
const backoffMultiplier = 5

// retryable reports whether an attempt failed on a transient store
// conflict. Exactly three classes retry: serialization/deadlock aborts,
// optimistic version mismatches, and uniqueness races (the loser of a
// concurrent duplicate retries into the winner's cached response).
// Everything else, including business rejections, surfaces immediately.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrSerializationFailure) ||
		errors.Is(err, domain.ErrOptimisticLock) ||
		errors.Is(err, domain.ErrDuplicateKey)
}

// nextBackoff returns the delay for the following attempt, capped at max.
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * backoffMultiplier
	if next > max {
		return max
	}
	return next
}

// sleepWithJitter waits for a randomized fraction of d (between 50% and
// 100%) or until the context is done. Jitter spreads retries of competing
// workers so they do not collide again in lockstep.
func sleepWithJitter(ctx context.Context, d time.Duration) error {
	jittered := d/2 + time.Duration(rand.Int64N(int64(d/2)+1))
	timer := time.NewTimer(jittered)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
