package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/storage"
)

type fakeOracle struct {
	admins map[int64]bool
	err    error
	calls  int
}

func (f *fakeOracle) IsAdministrator(ctx context.Context, chatID, userID int64) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.admins[userID], nil
}

func TestGate_RegularUserIsClassified(t *testing.T) {
	gate := NewGate(&fakeOracle{}, storage.NewMemoryStorage(), zap.NewNop())

	allowed, reason := gate.ShouldClassify(context.Background(), 100, 200)
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestGate_AdminIsExempt(t *testing.T) {
	oracle := &fakeOracle{admins: map[int64]bool{200: true}}
	gate := NewGate(oracle, storage.NewMemoryStorage(), zap.NewNop())

	allowed, reason := gate.ShouldClassify(context.Background(), 100, 200)
	assert.False(t, allowed)
	assert.Equal(t, ReasonAdmin, reason)
}

func TestGate_FailsClosedOnAdminLookupError(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("telegram unavailable")}
	gate := NewGate(oracle, storage.NewMemoryStorage(), zap.NewNop())

	allowed, reason := gate.ShouldClassify(context.Background(), 100, 200)
	assert.False(t, allowed, "an unverifiable author must not be struck")
	assert.Equal(t, ReasonAdminUnverified, reason)
}

func TestGate_ChatWhitelist(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, store.SetMemberWhitelisted(context.Background(), 100, 200, true))
	gate := NewGate(&fakeOracle{}, store, zap.NewNop())

	allowed, reason := gate.ShouldClassify(context.Background(), 100, 200)
	assert.False(t, allowed)
	assert.Equal(t, ReasonWhitelisted, reason)

	// The whitelist is per chat.
	allowed, _ = gate.ShouldClassify(context.Background(), 101, 200)
	assert.True(t, allowed)
}

func TestGate_GlobalWhitelist(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, store.UpsertUser(ctx, &models.User{ID: 200, Username: "trusted"}))
	require.NoError(t, store.SetGlobalWhitelisted(ctx, 200, true))
	gate := NewGate(&fakeOracle{}, store, zap.NewNop())

	allowed, reason := gate.ShouldClassify(ctx, 100, 200)
	assert.False(t, allowed)
	assert.Equal(t, ReasonGlobalWhitelisted, reason)

	// Global means every chat.
	allowed, reason = gate.ShouldClassify(ctx, 999, 200)
	assert.False(t, allowed)
	assert.Equal(t, ReasonGlobalWhitelisted, reason)
}

// brokenExemptStore fails every lookup.
type brokenExemptStore struct{}

func (brokenExemptStore) GetMember(ctx context.Context, chatID, userID int64) (*models.Member, error) {
	return nil, errors.New("db down")
}

func (brokenExemptStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	return nil, errors.New("db down")
}

func TestGate_WhitelistLookupErrorStillClassifies(t *testing.T) {
	gate := NewGate(&fakeOracle{}, brokenExemptStore{}, zap.NewNop())

	allowed, reason := gate.ShouldClassify(context.Background(), 100, 200)
	assert.True(t, allowed, "a broken whitelist must not silence moderation")
	assert.Empty(t, reason)
}
