package moderation

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/storage"
)

const (
	ledgerShards    = 64
	conflictRetries = 3
)

// Ledger owns the per-(chat, user) strike counters. Updates for the same
// key are serialized through sharded locks on top of the store's atomic
// increments, so concurrent verdicts against one user all land.
type Ledger struct {
	store  storage.StrikeStore
	tiers  TierTable
	logger *zap.Logger

	locks [ledgerShards]sync.Mutex
}

func NewLedger(store storage.StrikeStore, tiers TierTable, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		tiers:  tiers,
		logger: logger,
	}
}

func (l *Ledger) lockFor(chatID, userID int64) *sync.Mutex {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d/%d", chatID, userID)
	return &l.locks[h.Sum64()%ledgerShards]
}

// RecordConfirmedScam adds one strike and returns the new count with the
// tier it maps to.
func (l *Ledger) RecordConfirmedScam(ctx context.Context, chatID, userID int64) (int, models.Tier, error) {
	mu := l.lockFor(chatID, userID)
	mu.Lock()
	defer mu.Unlock()

	count, err := l.withRetry(ctx, func() (int, error) {
		return l.store.IncrementStrike(ctx, chatID, userID, time.Now().UTC())
	})
	if err != nil {
		return 0, models.TierNone, fmt.Errorf("incrementing strike: %w", err)
	}

	return count, l.tiers.TierFor(count), nil
}

// Reverse takes back one strike, clamped at zero, and returns the new
// count with the tier it maps to.
func (l *Ledger) Reverse(ctx context.Context, chatID, userID int64) (int, models.Tier, error) {
	mu := l.lockFor(chatID, userID)
	mu.Lock()
	defer mu.Unlock()

	count, err := l.withRetry(ctx, func() (int, error) {
		return l.store.ReverseStrike(ctx, chatID, userID)
	})
	if err != nil {
		return 0, models.TierNone, fmt.Errorf("reversing strike: %w", err)
	}

	return count, l.tiers.TierFor(count), nil
}

// TierFor exposes the ledger's tier mapping.
func (l *Ledger) TierFor(count int) models.Tier {
	return l.tiers.TierFor(count)
}

func (l *Ledger) withRetry(ctx context.Context, op func() (int, error)) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= conflictRetries; attempt++ {
		count, err := op()
		if err == nil {
			return count, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return 0, err
		}

		lastErr = err
		l.logger.Warn("Strike update hit a serialization conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}

	return 0, fmt.Errorf("giving up after %d attempts: %w", conflictRetries, lastErr)
}
