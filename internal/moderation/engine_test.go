package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/storage"
)

func newTestEngine(t *testing.T, threshold float64) (*Engine, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	ledger := newTestLedger(t, store)
	return NewEngine(ledger, threshold, 24*time.Hour, zap.NewNop()), store
}

func scamVerdict(confidence float64) *models.Verdict {
	return &models.Verdict{
		Label:      models.LabelScam,
		Category:   models.CategoryCrypto,
		Confidence: confidence,
		Reason:     "test verdict",
	}
}

func TestEngine_BenignVerdict(t *testing.T) {
	engine, store := newTestEngine(t, 0.85)

	action, skipped, err := engine.Decide(context.Background(), 100, 200, &models.Verdict{
		Label:      models.LabelOK,
		Confidence: 0.99,
	})
	require.NoError(t, err)
	assert.False(t, action.Enforces())
	assert.Empty(t, skipped)

	member, err := store.GetMember(context.Background(), 100, 200)
	require.NoError(t, err)
	assert.Equal(t, 0, member.StrikeCount, "benign verdicts must not touch the ledger")
}

func TestEngine_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		enforces   bool
		skipped    string
	}{
		{"well below", 0.30, false, SkippedLowConfidence},
		{"just below", 0.8499, false, SkippedLowConfidence},
		{"exactly at threshold", 0.85, true, ""},
		{"above", 0.99, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestEngine(t, 0.85)

			action, skipped, err := engine.Decide(context.Background(), 100, 200, scamVerdict(tt.confidence))
			require.NoError(t, err)
			assert.Equal(t, tt.enforces, action.Enforces())
			assert.Equal(t, tt.skipped, skipped)
		})
	}
}

func TestEngine_EscalationChain(t *testing.T) {
	engine, _ := newTestEngine(t, 0.85)
	ctx := context.Background()

	// First scam: one strike, warn, delete.
	action, _, err := engine.Decide(ctx, 100, 200, scamVerdict(0.9))
	require.NoError(t, err)
	assert.True(t, action.DeleteMessage)
	assert.Equal(t, models.TierWarn, action.Tier)
	assert.Equal(t, 1, action.StrikeCount)

	// Second scam: two strikes, mute with a duration.
	action, _, err = engine.Decide(ctx, 100, 200, scamVerdict(0.95))
	require.NoError(t, err)
	assert.Equal(t, models.TierMute, action.Tier)
	assert.Equal(t, 2, action.StrikeCount)
	assert.Equal(t, 24*time.Hour, action.MuteDuration)

	// Third scam: ban, no mute duration.
	action, _, err = engine.Decide(ctx, 100, 200, scamVerdict(0.9))
	require.NoError(t, err)
	assert.Equal(t, models.TierBan, action.Tier)
	assert.Equal(t, 3, action.StrikeCount)
	assert.Zero(t, action.MuteDuration)
}

func TestEngine_LowConfidenceLeavesLedgerAlone(t *testing.T) {
	engine, store := newTestEngine(t, 0.85)

	_, skipped, err := engine.Decide(context.Background(), 100, 200, scamVerdict(0.5))
	require.NoError(t, err)
	assert.Equal(t, SkippedLowConfidence, skipped)

	member, err := store.GetMember(context.Background(), 100, 200)
	require.NoError(t, err)
	assert.Equal(t, 0, member.StrikeCount)
}

func TestEngine_SetThreshold(t *testing.T) {
	engine, _ := newTestEngine(t, 0.85)
	ctx := context.Background()

	_, skipped, err := engine.Decide(ctx, 100, 200, scamVerdict(0.7))
	require.NoError(t, err)
	assert.Equal(t, SkippedLowConfidence, skipped)

	engine.SetThreshold(0.7)
	assert.InDelta(t, 0.7, engine.Threshold(), 1e-9)

	action, skipped, err := engine.Decide(ctx, 100, 200, scamVerdict(0.7))
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.True(t, action.Enforces())
}
