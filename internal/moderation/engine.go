package moderation

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

// SkippedLowConfidence marks SCAM verdicts below the enforcement threshold.
const SkippedLowConfidence = "low_confidence"

// Engine turns verdicts into enforcement actions. The threshold is read
// atomically once per decision, so a hot reload never changes a decision
// already in flight.
type Engine struct {
	ledger       *Ledger
	muteDuration time.Duration
	logger       *zap.Logger

	threshold atomic.Uint64 // float64 bits
}

func NewEngine(ledger *Ledger, threshold float64, muteDuration time.Duration, logger *zap.Logger) *Engine {
	e := &Engine{
		ledger:       ledger,
		muteDuration: muteDuration,
		logger:       logger,
	}
	e.SetThreshold(threshold)
	return e
}

// SetThreshold atomically replaces the enforcement threshold.
func (e *Engine) SetThreshold(t float64) {
	e.threshold.Store(math.Float64bits(t))
}

func (e *Engine) Threshold() float64 {
	return math.Float64frombits(e.threshold.Load())
}

// Decide maps a verdict to an action. The second return value names the
// skip reason when a SCAM verdict fell below the threshold; enforcement
// fires only when the label is SCAM and confidence reaches the threshold
// (a verdict exactly at the threshold counts as scam).
func (e *Engine) Decide(ctx context.Context, chatID, userID int64, verdict *models.Verdict) (models.Action, string, error) {
	if verdict.Label != models.LabelScam {
		return models.Action{Tier: models.TierNone}, "", nil
	}

	threshold := e.Threshold()
	if verdict.Confidence < threshold {
		e.logger.Debug("Scam verdict below threshold",
			zap.Int64("chat_id", chatID),
			zap.Int64("user_id", userID),
			zap.Float64("confidence", verdict.Confidence),
			zap.Float64("threshold", threshold))
		return models.Action{Tier: models.TierNone}, SkippedLowConfidence, nil
	}

	count, tier, err := e.ledger.RecordConfirmedScam(ctx, chatID, userID)
	if err != nil {
		return models.Action{Tier: models.TierNone}, "", fmt.Errorf("recording strike: %w", err)
	}

	action := models.Action{
		Tier:          tier,
		DeleteMessage: true,
		StrikeCount:   count,
	}
	if tier == models.TierMute {
		action.MuteDuration = e.muteDuration
	}

	return action, "", nil
}
