package moderation

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/storage"
)

// MembershipOracle answers live chat-membership questions. The Telegram
// implementation wraps the bot API; tests substitute fakes.
type MembershipOracle interface {
	IsAdministrator(ctx context.Context, chatID, userID int64) (bool, error)
}

// ExemptStore is the slice of storage the gate reads.
type ExemptStore interface {
	GetMember(ctx context.Context, chatID, userID int64) (*models.Member, error)
	GetUser(ctx context.Context, userID int64) (*models.User, error)
}

// Exemption reasons recorded on skipped messages.
const (
	ReasonAdmin             = "admin"
	ReasonAdminUnverified   = "admin_check_failed"
	ReasonWhitelisted       = "whitelisted"
	ReasonGlobalWhitelisted = "global_whitelist"
)

// Gate decides whether a message author is subject to classification.
// It never mutates anything.
type Gate struct {
	oracle MembershipOracle
	store  ExemptStore
	logger *zap.Logger
}

func NewGate(oracle MembershipOracle, store ExemptStore, logger *zap.Logger) *Gate {
	return &Gate{
		oracle: oracle,
		store:  store,
		logger: logger,
	}
}

// ShouldClassify reports whether the author's messages go through the
// classifier. When false, the second value names the exemption.
//
// When the administrator status cannot be verified the author is treated
// as exempt: skipping one scam message is recoverable, striking an
// administrator is not.
func (g *Gate) ShouldClassify(ctx context.Context, chatID, userID int64) (bool, string) {
	isAdmin, err := g.oracle.IsAdministrator(ctx, chatID, userID)
	if err != nil {
		g.logger.Warn("Administrator check failed, skipping message",
			zap.Int64("chat_id", chatID),
			zap.Int64("user_id", userID),
			zap.Error(err))
		return false, ReasonAdminUnverified
	}
	if isAdmin {
		return false, ReasonAdmin
	}

	member, err := g.store.GetMember(ctx, chatID, userID)
	if err != nil {
		// A broken whitelist lookup must not mute the pipeline.
		g.logger.Warn("Whitelist lookup failed, treating author as not whitelisted",
			zap.Int64("chat_id", chatID),
			zap.Int64("user_id", userID),
			zap.Error(err))
	} else if member.Whitelisted {
		return false, ReasonWhitelisted
	}

	user, err := g.store.GetUser(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// Unseen user, nothing to exempt.
	case err != nil:
		g.logger.Warn("Global whitelist lookup failed, treating author as not whitelisted",
			zap.Int64("user_id", userID),
			zap.Error(err))
	case user.GlobalWhitelisted:
		return false, ReasonGlobalWhitelisted
	}

	return true, ""
}
