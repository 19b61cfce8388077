// Package enforce executes moderation actions against the chat: deleting
// messages, warning, muting and banning authors, and lifting restrictions
// when an admin overrides a verdict. Every sub-operation is attempted and
// recorded independently; one failure never aborts the others.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/metrics"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

var (
	// ErrPermissionDenied marks operations the bot is not allowed to
	// perform (missing admin rights in the chat).
	ErrPermissionDenied = errors.New("enforce: bot lacks permissions")
	// ErrMessageGone marks deletions of messages that no longer exist.
	ErrMessageGone = errors.New("enforce: message already gone")
)

// Transport executes chat side effects. The Telegram implementation lives
// in internal/telegram; tests substitute fakes.
type Transport interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendMessage(ctx context.Context, chatID int64, html string) error
	RestrictMember(ctx context.Context, chatID, userID int64, until time.Time) error
	BanMember(ctx context.Context, chatID, userID int64) error
	UnrestrictMember(ctx context.Context, chatID, userID int64) error
	UnbanMember(ctx context.Context, chatID, userID int64) error
}

// OutcomeStore records enforcement outcomes, one row per sub-operation.
type OutcomeStore interface {
	AddEnforcement(ctx context.Context, e *models.Enforcement) error
}

// Ref identifies the message and author an action applies to.
type Ref struct {
	RecordID    string
	ChatID      int64
	UserID      int64
	MessageID   int
	DisplayName string
}

// Outcome is the result of one sub-operation.
type Outcome struct {
	Op  models.EnforcementOp
	Err error
}

// Result collects the sub-operation outcomes of one Apply or Lift call.
type Result struct {
	Outcomes []Outcome
}

// OK reports whether every sub-operation succeeded.
func (r Result) OK() bool {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return false
		}
	}
	return true
}

// Failed returns the sub-operations that did not succeed.
func (r Result) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

type Executor struct {
	transport Transport
	store     OutcomeStore
	logger    *zap.Logger
}

func NewExecutor(transport Transport, store OutcomeStore, logger *zap.Logger) *Executor {
	return &Executor{
		transport: transport,
		store:     store,
		logger:    logger,
	}
}

// mention renders a tg://user link so the notice pings the author even
// without a username.
func mention(ref Ref) string {
	name := ref.DisplayName
	if name == "" {
		name = "пользователь"
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, ref.UserID, html.EscapeString(name))
}

func warnText(ref Ref) string {
	return mention(ref) + ", ваше сообщение было расценено как возможный скам.\n" +
		"Пожалуйста, не публикуйте подобные предложения. " +
		"Повторные нарушения могут привести к ограничениям и блокировке."
}

func muteText(ref Ref, d time.Duration) string {
	return fmt.Sprintf("%s временно ограничен(а) в праве писать в чат на %d ч "+
		"за повторные подозрительные сообщения.", mention(ref), int(d.Hours()))
}

func banText(ref Ref) string {
	return mention(ref) + " был(а) удалён(а) из чата за множественные подозрительные сообщения.\n" +
		"Если это ошибка, администраторы могут пересмотреть решение вручную."
}

// Apply runs the action's sub-operations in order: message deletion, the
// tier operation, and the public chat notice.
func (e *Executor) Apply(ctx context.Context, action models.Action, ref Ref) Result {
	var result Result

	if action.DeleteMessage {
		err := e.transport.DeleteMessage(ctx, ref.ChatID, ref.MessageID)
		e.record(ctx, &result, ref, models.OpDeleteMessage, err)
	}

	switch action.Tier {
	case models.TierWarn:
		err := e.transport.SendMessage(ctx, ref.ChatID, warnText(ref))
		e.record(ctx, &result, ref, models.OpWarn, err)

	case models.TierMute:
		until := time.Now().UTC().Add(action.MuteDuration)
		err := e.transport.RestrictMember(ctx, ref.ChatID, ref.UserID, until)
		e.record(ctx, &result, ref, models.OpMute, err)

		err = e.transport.SendMessage(ctx, ref.ChatID, muteText(ref, action.MuteDuration))
		e.record(ctx, &result, ref, models.OpChatNotice, err)

	case models.TierBan:
		err := e.transport.BanMember(ctx, ref.ChatID, ref.UserID)
		e.record(ctx, &result, ref, models.OpBan, err)

		err = e.transport.SendMessage(ctx, ref.ChatID, banText(ref))
		e.record(ctx, &result, ref, models.OpChatNotice, err)
	}

	return result
}

// Lift reverses the restriction a specific tier applied: unrestrict for a
// mute, unban for a ban. Warnings and deletions have nothing to lift.
func (e *Executor) Lift(ctx context.Context, tier models.Tier, ref Ref) Result {
	var result Result

	switch tier {
	case models.TierMute:
		err := e.transport.UnrestrictMember(ctx, ref.ChatID, ref.UserID)
		e.record(ctx, &result, ref, models.OpUnmute, err)

	case models.TierBan:
		err := e.transport.UnbanMember(ctx, ref.ChatID, ref.UserID)
		e.record(ctx, &result, ref, models.OpUnban, err)
	}

	return result
}

func (e *Executor) record(ctx context.Context, result *Result, ref Ref, op models.EnforcementOp, err error) {
	result.Outcomes = append(result.Outcomes, Outcome{Op: op, Err: err})

	outcome := &models.Enforcement{
		RecordID: ref.RecordID,
		Op:       op,
		OK:       err == nil,
	}
	if err != nil {
		outcome.Detail = err.Error()
		metrics.EnforcementsTotal.WithLabelValues(string(op), "error").Inc()
		e.logger.Error("Enforcement sub-operation failed",
			zap.String("record_id", ref.RecordID),
			zap.String("op", string(op)),
			zap.Int64("chat_id", ref.ChatID),
			zap.Int64("user_id", ref.UserID),
			zap.Error(err))
	} else {
		metrics.EnforcementsTotal.WithLabelValues(string(op), "ok").Inc()
	}

	if storeErr := e.store.AddEnforcement(ctx, outcome); storeErr != nil {
		e.logger.Error("Failed to record enforcement outcome",
			zap.String("record_id", ref.RecordID),
			zap.String("op", string(op)),
			zap.Error(storeErr))
	}
}
