package moderation

import (
	"fmt"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

// TierTable maps strike counts to escalation tiers. The mapping is total:
// every count, including zero, resolves to exactly one tier.
type TierTable struct {
	warnAfter int
	muteAfter int
	banAfter  int
}

func NewTierTable(warnAfter, muteAfter, banAfter int) (TierTable, error) {
	if warnAfter < 1 {
		return TierTable{}, fmt.Errorf("warn threshold must be at least 1, got %d", warnAfter)
	}
	if warnAfter > muteAfter || muteAfter > banAfter {
		return TierTable{}, fmt.Errorf("tier thresholds must be ordered warn <= mute <= ban, got %d/%d/%d",
			warnAfter, muteAfter, banAfter)
	}

	return TierTable{
		warnAfter: warnAfter,
		muteAfter: muteAfter,
		banAfter:  banAfter,
	}, nil
}

func (t TierTable) TierFor(count int) models.Tier {
	switch {
	case count >= t.banAfter:
		return models.TierBan
	case count >= t.muteAfter:
		return models.TierMute
	case count >= t.warnAfter:
		return models.TierWarn
	default:
		return models.TierNone
	}
}
