package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/enforce"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/metrics"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/moderation"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/storage"
)

const (
	answerRecordGone    = "Запись уже не найдена в базе."
	answerChatGone      = "Связанный чат не найден в базе."
	answerNoAccess      = "У этого админ-чата нет доступа к этой записи."
	answerAlreadyDone   = "ℹ️ Запись уже обработана."
	answerMarkedNotScam = "Помечено как НЕ скам."
	answerMarkedScam    = "Скам подтверждён."
	answerUpdateFailed  = "❌ Не удалось обновить запись, попробуйте ещё раз."
)

// CardSurface is the messenger side of the review flow.
type CardSurface interface {
	SendReviewCard(ctx context.Context, chatID int64, text, recordID string) (int, error)
	EditCard(ctx context.Context, chatID int64, messageID int, text string) error
	AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error
}

// Lifter undoes a previously applied restriction.
type Lifter interface {
	Lift(ctx context.Context, tier models.Tier, ref enforce.Ref) enforce.Result
}

// FeedbackEvent is one admin button press on a review card.
type FeedbackEvent struct {
	RecordID      string
	Decision      models.HumanLabel
	AdminChatID   int64
	AdminUserID   int64
	CallbackID    string
	CardChatID    int64
	CardMessageID int
}

// Router publishes review cards and applies admin feedback to records,
// including retroactive strike reversal when a verdict is overturned.
type Router struct {
	store            storage.Storage
	ledger           *moderation.Ledger
	lifter           Lifter
	surface          CardSurface
	globalAdminChats []int64
	window           time.Duration
	sweepInterval    time.Duration
	logger           *zap.Logger
}

// Config carries the review-flow knobs.
type Config struct {
	GlobalAdminChats []int64
	Window           time.Duration
	SweepInterval    time.Duration
}

func NewRouter(store storage.Storage, ledger *moderation.Ledger, lifter Lifter, surface CardSurface, cfg Config, logger *zap.Logger) *Router {
	return &Router{
		store:            store,
		ledger:           ledger,
		lifter:           lifter,
		surface:          surface,
		globalAdminChats: cfg.GlobalAdminChats,
		window:           cfg.Window,
		sweepInterval:    cfg.SweepInterval,
		logger:           logger,
	}
}

// PublishCard sends the review card for an enforced record to the
// chat's linked admin chat and every global admin chat. The first
// successful delivery is remembered so the sweeper can close the card
// later. Delivery failures leave the record pending; the review window
// still applies.
func (r *Router) PublishCard(ctx context.Context, rec *models.Record, strikes int) error {
	targets := r.cardTargets(ctx, rec.ChatID)
	if len(targets) == 0 {
		r.logger.Warn("No admin chat configured for review card",
			zap.String("record_id", rec.ID),
			zap.Int64("chat_id", rec.ChatID))
		return nil
	}

	body := CardBody(rec, r.chatTitle(ctx, rec.ChatID), r.userDisplay(ctx, rec.UserID), strikes)

	sent := false
	for _, target := range targets {
		messageID, err := r.surface.SendReviewCard(ctx, target, body, rec.ID)
		if err != nil {
			r.logger.Error("Failed to send review card",
				zap.String("record_id", rec.ID),
				zap.Int64("admin_chat_id", target),
				zap.Error(err))
			continue
		}
		if !sent {
			sent = true
			if err := r.store.SetReviewCard(ctx, rec.ID, target, messageID); err != nil {
				r.logger.Error("Failed to remember review card location",
					zap.String("record_id", rec.ID), zap.Error(err))
			}
		}
	}

	if !sent {
		return fmt.Errorf("error publishing review card %s: no admin chat reachable", rec.ID)
	}

	if count, err := r.store.CountPending(ctx); err == nil {
		metrics.PendingReviews.Set(float64(count))
	}
	return nil
}

// HandleFeedback applies one admin decision. The first decision wins:
// repeated or late presses are answered but change nothing.
func (r *Router) HandleFeedback(ctx context.Context, event FeedbackEvent) error {
	rec, err := r.store.GetRecord(ctx, event.RecordID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.answer(ctx, event.CallbackID, answerRecordGone, true)
			return nil
		}
		r.answer(ctx, event.CallbackID, answerUpdateFailed, true)
		return fmt.Errorf("error loading record %s: %w", event.RecordID, err)
	}

	authorized, err := r.authorize(ctx, rec, event.AdminChatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.answer(ctx, event.CallbackID, answerChatGone, true)
			return nil
		}
		r.answer(ctx, event.CallbackID, answerUpdateFailed, true)
		return fmt.Errorf("error authorizing feedback for %s: %w", event.RecordID, err)
	}
	if !authorized {
		r.logger.Warn("Unauthorized review feedback",
			zap.String("record_id", event.RecordID),
			zap.Int64("admin_chat_id", event.AdminChatID),
			zap.Int64("admin_user_id", event.AdminUserID))
		r.answer(ctx, event.CallbackID, answerNoAccess, true)
		return nil
	}

	target := models.ReviewConfirmed
	if event.Decision == models.HumanLabelNotScam {
		target = models.ReviewOverridden
	}

	moved, err := r.store.TransitionReview(ctx, rec.ID, models.ReviewPending, target)
	if err != nil {
		r.answer(ctx, event.CallbackID, answerUpdateFailed, true)
		return fmt.Errorf("error transitioning record %s: %w", rec.ID, err)
	}
	if !moved {
		r.logger.Info("Duplicate review feedback ignored",
			zap.String("record_id", rec.ID),
			zap.String("state", string(rec.ReviewState)),
			zap.Int64("admin_user_id", event.AdminUserID))
		r.answer(ctx, event.CallbackID, answerAlreadyDone, false)
		return nil
	}

	now := time.Now().UTC()
	if err := r.store.AmendHumanLabel(ctx, rec.ID, event.Decision, event.AdminUserID, now); err != nil {
		r.logger.Error("Failed to amend human label",
			zap.String("record_id", rec.ID), zap.Error(err))
	}

	if target == models.ReviewOverridden {
		r.undoEnforcement(ctx, rec)
		metrics.ReviewsTotal.WithLabelValues("overridden").Inc()
	} else {
		metrics.ReviewsTotal.WithLabelValues("confirmed").Inc()
	}

	if event.CardChatID != 0 && event.CardMessageID != 0 {
		// The callback carries the card as plain text with the HTML
		// entities already rendered, so the edit is rebuilt from the
		// record instead.
		body := CardBody(rec, r.chatTitle(ctx, rec.ChatID), r.userDisplay(ctx, rec.UserID), r.memberStrikes(ctx, rec))
		edited := decidedCardText(body, event.Decision)
		if err := r.surface.EditCard(ctx, event.CardChatID, event.CardMessageID, edited); err != nil {
			r.logger.Warn("Failed to edit review card",
				zap.String("record_id", rec.ID), zap.Error(err))
		}
	}

	answer := answerMarkedScam
	if event.Decision == models.HumanLabelNotScam {
		answer = answerMarkedNotScam
	}
	r.answer(ctx, event.CallbackID, answer, false)

	if count, err := r.store.CountPending(ctx); err == nil {
		metrics.PendingReviews.Set(float64(count))
	}

	r.logger.Info("Review feedback applied",
		zap.String("record_id", rec.ID),
		zap.String("decision", string(event.Decision)),
		zap.Int64("admin_user_id", event.AdminUserID))
	return nil
}

// undoEnforcement reverses the strike and lifts the restriction after an
// override. Each step is attempted even if the previous one failed.
func (r *Router) undoEnforcement(ctx context.Context, rec *models.Record) {
	if rec.StrikeApplied && !rec.StrikeReversed {
		if _, _, err := r.ledger.Reverse(ctx, rec.ChatID, rec.UserID); err != nil {
			r.logger.Error("Failed to reverse strike",
				zap.String("record_id", rec.ID), zap.Error(err))
		} else if err := r.store.MarkStrikeReversed(ctx, rec.ID); err != nil {
			r.logger.Error("Failed to mark strike reversed",
				zap.String("record_id", rec.ID), zap.Error(err))
		}
	}

	if rec.Tier == models.TierMute || rec.Tier == models.TierBan {
		ref := enforce.Ref{
			RecordID:    rec.ID,
			ChatID:      rec.ChatID,
			UserID:      rec.UserID,
			MessageID:   rec.MessageID,
			DisplayName: r.userDisplay(ctx, rec.UserID),
		}
		if result := r.lifter.Lift(ctx, rec.Tier, ref); !result.OK() {
			r.logger.Error("Failed to lift restriction",
				zap.String("record_id", rec.ID),
				zap.String("tier", string(rec.Tier)))
		}
	}
}

// RunSweeper closes pending reviews whose window elapsed. It sweeps once
// immediately so a restart does not extend windows past their deadline.
func (r *Router) RunSweeper(ctx context.Context) {
	r.sweep(ctx)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Router) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.window)
	expired, err := r.store.ExpirePendingBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("Failed to expire pending reviews", zap.Error(err))
		return
	}

	for _, rec := range expired {
		metrics.ReviewsTotal.WithLabelValues("unreviewed").Inc()
		if rec.CardChatID != nil && rec.CardMessageID != nil {
			if err := r.surface.EditCard(ctx, *rec.CardChatID, *rec.CardMessageID, expiredCardText(rec)); err != nil {
				r.logger.Warn("Failed to close expired review card",
					zap.String("record_id", rec.ID), zap.Error(err))
			}
		}
	}
	if len(expired) > 0 {
		r.logger.Info("Closed expired review cards", zap.Int("count", len(expired)))
	}

	if count, err := r.store.CountPending(ctx); err == nil {
		metrics.PendingReviews.Set(float64(count))
	}
}

// authorize allows feedback from a global admin chat or from the admin
// chat linked to the record's origin chat.
func (r *Router) authorize(ctx context.Context, rec *models.Record, adminChatID int64) (bool, error) {
	for _, id := range r.globalAdminChats {
		if id == adminChatID {
			return true, nil
		}
	}

	chat, err := r.store.GetChat(ctx, rec.ChatID)
	if err != nil {
		return false, err
	}
	return chat.AdminChatID != nil && *chat.AdminChatID == adminChatID, nil
}

// cardTargets lists admin chats for a record's card, linked chat first,
// without duplicates.
func (r *Router) cardTargets(ctx context.Context, chatID int64) []int64 {
	var targets []int64
	seen := make(map[int64]bool)

	if chat, err := r.store.GetChat(ctx, chatID); err == nil && chat.AdminChatID != nil {
		targets = append(targets, *chat.AdminChatID)
		seen[*chat.AdminChatID] = true
	}
	for _, id := range r.globalAdminChats {
		if !seen[id] {
			targets = append(targets, id)
			seen[id] = true
		}
	}
	return targets
}

func (r *Router) chatTitle(ctx context.Context, chatID int64) string {
	chat, err := r.store.GetChat(ctx, chatID)
	if err != nil {
		return ""
	}
	return chat.Title
}

func (r *Router) memberStrikes(ctx context.Context, rec *models.Record) int {
	member, err := r.store.GetMember(ctx, rec.ChatID, rec.UserID)
	if err != nil {
		return 0
	}
	return member.StrikeCount
}

func (r *Router) userDisplay(ctx context.Context, userID int64) string {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return ""
	}
	return user.DisplayName()
}

func (r *Router) answer(ctx context.Context, callbackID, text string, alert bool) {
	if callbackID == "" {
		return
	}
	if err := r.surface.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		r.logger.Warn("Failed to answer callback", zap.Error(err))
	}
}
