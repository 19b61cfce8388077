package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/classifier"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/enforce"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/metrics"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/moderation"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/review"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/storage"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/telegram"
)

const (
	skippedClassifierError = "classifier_error"
	skippedStrikeError     = "strike_error"

	reprocessBatch = 50
	persistTimeout = 5 * time.Second
	finishTimeout  = 30 * time.Second
)

// Messenger is the slice of the Telegram client the update loop and the
// command handlers use.
type Messenger interface {
	UpdatesChan(timeout int) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Self() tgbotapi.User

	SendMessage(ctx context.Context, chatID int64, html string) error
	Reply(ctx context.Context, chatID int64, replyTo int, html string) error
	AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error
	MemberStatus(ctx context.Context, chatID, userID int64) (string, error)
}

// Bot wires the moderation pipeline to Telegram updates: every group
// message flows through gate, classifier, decision engine and executor,
// and every scam verdict produces a review card for the admins.
type Bot struct {
	messenger  Messenger
	store      storage.Storage
	gate       *moderation.Gate
	classifier classifier.Classifier
	engine     *moderation.Engine
	ledger     *moderation.Ledger
	executor   *enforce.Executor
	reviews    *review.Router
	adminChats []int64
	timeout    int
	logger     *zap.Logger

	wg sync.WaitGroup
}

// Deps bundles the pipeline stages the bot dispatches into.
type Deps struct {
	Messenger  Messenger
	Store      storage.Storage
	Gate       *moderation.Gate
	Classifier classifier.Classifier
	Engine     *moderation.Engine
	Ledger     *moderation.Ledger
	Executor   *enforce.Executor
	Reviews    *review.Router
}

// Options carries the update-loop knobs.
type Options struct {
	GlobalAdminChats []int64
	UpdateTimeout    int
}

func New(deps Deps, opts Options, logger *zap.Logger) *Bot {
	if opts.UpdateTimeout <= 0 {
		opts.UpdateTimeout = 60
	}

	return &Bot{
		messenger:  deps.Messenger,
		store:      deps.Store,
		gate:       deps.Gate,
		classifier: deps.Classifier,
		engine:     deps.Engine,
		ledger:     deps.Ledger,
		executor:   deps.Executor,
		reviews:    deps.Reviews,
		adminChats: opts.GlobalAdminChats,
		timeout:    opts.UpdateTimeout,
		logger:     logger,
	}
}

// Start consumes updates until the context is cancelled, then waits for
// in-flight handlers to drain.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Bot started",
		zap.String("username", b.messenger.Self().UserName))

	b.reprocessUnclassified(ctx)

	updates := b.messenger.UpdatesChan(b.timeout)
	for {
		select {
		case <-ctx.Done():
			b.messenger.StopReceivingUpdates()
			b.wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return nil
			}
			b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleCallback(ctx, update.CallbackQuery)
		}()
	case update.Message != nil:
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleMessage(ctx, update.Message)
		}()
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}
	if message.Chat == nil || !(message.Chat.IsGroup() || message.Chat.IsSuperGroup()) {
		return
	}
	if b.isAdminChat(ctx, message.Chat.ID) {
		return
	}
	if message.From == nil || message.From.IsBot {
		return
	}

	text := message.Text
	if text == "" {
		text = message.Caption
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	b.rememberSender(ctx, message)

	chatID := message.Chat.ID
	userID := message.From.ID

	if allowed, reason := b.gate.ShouldClassify(ctx, chatID, userID); !allowed {
		metrics.MessagesTotal.WithLabelValues("exempt").Inc()
		b.logger.Debug("Message exempt from moderation",
			zap.Int64("chat_id", chatID),
			zap.Int64("user_id", userID),
			zap.String("reason", reason))
		return
	}

	rec := &models.Record{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		UserID:    userID,
		MessageID: message.MessageID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	verdict, err := b.classifier.Classify(ctx, text)
	if err != nil {
		b.persistUnclassified(rec, err)
		return
	}
	metrics.VerdictsTotal.WithLabelValues(string(verdict.Label)).Inc()

	// Once the verdict is in hand the rest of the pipeline runs on its
	// own clock: a shutdown arriving here must not drop the classified
	// message or leave a counted strike without its record.
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	action, skipped, err := b.engine.Decide(ctx, chatID, userID, verdict)
	if err != nil {
		b.logger.Error("Decision failed, message kept without enforcement",
			zap.String("record_id", rec.ID),
			zap.Error(err))
		b.notifyDegraded(ctx, chatID, rec.ID)
		action = models.Action{}
		skipped = skippedStrikeError
	}

	applyVerdict(rec, verdict, action, skipped)

	if err := b.store.CreateRecord(ctx, rec); err != nil {
		b.logger.Error("Failed to save record",
			zap.String("record_id", rec.ID),
			zap.Error(err))
		if action.Enforces() {
			// The strike was already counted; take it back rather than
			// punish on a message we cannot audit.
			if _, _, rerr := b.ledger.Reverse(ctx, chatID, userID); rerr != nil {
				b.logger.Error("Failed to undo strike for lost record",
					zap.String("record_id", rec.ID),
					zap.Error(rerr))
			}
		}
		return
	}
	metrics.MessagesTotal.WithLabelValues("classified").Inc()

	if !action.Enforces() {
		return
	}

	b.logger.Info("Scam detected",
		zap.String("record_id", rec.ID),
		zap.Int64("chat_id", chatID),
		zap.Int64("user_id", userID),
		zap.Float64("confidence", verdict.Confidence),
		zap.Int("strikes", action.StrikeCount),
		zap.String("tier", string(action.Tier)))

	ref := enforce.Ref{
		RecordID:    rec.ID,
		ChatID:      chatID,
		UserID:      userID,
		MessageID:   message.MessageID,
		DisplayName: displayName(message.From),
	}
	if result := b.executor.Apply(ctx, action, ref); !result.OK() {
		b.logger.Warn("Enforcement partially failed",
			zap.String("record_id", rec.ID),
			zap.Int("failed_ops", len(result.Failed())))
	}

	if err := b.reviews.PublishCard(ctx, rec, action.StrikeCount); err != nil {
		b.logger.Error("Failed to publish review card",
			zap.String("record_id", rec.ID),
			zap.Error(err))
	}
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	decision, recordID, ok := telegram.ParseFeedback(query.Data)
	if !ok {
		if err := b.messenger.AnswerCallback(ctx, query.ID, "Некорректный формат callback_data.", true); err != nil {
			b.logger.Warn("Failed to answer callback", zap.Error(err))
		}
		return
	}
	if query.Message == nil || query.Message.Chat == nil {
		if err := b.messenger.AnswerCallback(ctx, query.ID, "Карточка устарела.", true); err != nil {
			b.logger.Warn("Failed to answer callback", zap.Error(err))
		}
		return
	}

	if query.From != nil {
		b.rememberUser(ctx, query.From)
	}

	event := review.FeedbackEvent{
		RecordID:      recordID,
		Decision:      decision,
		AdminChatID:   query.Message.Chat.ID,
		CallbackID:    query.ID,
		CardChatID:    query.Message.Chat.ID,
		CardMessageID: query.Message.MessageID,
	}
	if query.From != nil {
		event.AdminUserID = query.From.ID
	}

	if err := b.reviews.HandleFeedback(ctx, event); err != nil {
		b.logger.Error("Failed to handle review feedback",
			zap.String("record_id", recordID),
			zap.Error(err))
	}
}

// persistUnclassified stores a record the classifier never scored so it
// can be retried on the next startup. It writes with a fresh context so
// the record survives shutdown-time cancellation.
func (b *Bot) persistUnclassified(rec *models.Record, cause error) {
	metrics.MessagesTotal.WithLabelValues("unclassified").Inc()
	b.logger.Error("Classification failed",
		zap.String("record_id", rec.ID),
		zap.Int64("chat_id", rec.ChatID),
		zap.Error(cause))

	rec.Label = models.LabelUnknown
	rec.SkippedReason = skippedClassifierError

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := b.store.CreateRecord(ctx, rec); err != nil {
		b.logger.Error("Failed to save unclassified record",
			zap.String("record_id", rec.ID),
			zap.Error(err))
	}
}

// reprocessUnclassified re-feeds records stored without a verdict through
// classification and decision, one bounded batch per startup.
func (b *Bot) reprocessUnclassified(ctx context.Context) {
	records, err := b.store.ListUnclassified(ctx, reprocessBatch)
	if err != nil {
		b.logger.Error("Failed to list unclassified records", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}
	b.logger.Info("Reprocessing unclassified records", zap.Int("count", len(records)))

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}

		verdict, err := b.classifier.Classify(ctx, rec.Text)
		if err != nil {
			b.logger.Warn("Reclassification failed",
				zap.String("record_id", rec.ID),
				zap.Error(err))
			continue
		}
		metrics.VerdictsTotal.WithLabelValues(string(verdict.Label)).Inc()

		b.finalizeReprocessed(rec, verdict)
	}
}

// finalizeReprocessed decides and persists one reclassified record on a
// fresh context, so cancellation after the verdict cannot leave the
// ledger and the record out of step.
func (b *Bot) finalizeReprocessed(rec *models.Record, verdict *models.Verdict) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	action, skipped, err := b.engine.Decide(ctx, rec.ChatID, rec.UserID, verdict)
	if err != nil {
		b.logger.Error("Decision failed during reprocessing",
			zap.String("record_id", rec.ID),
			zap.Error(err))
		action = models.Action{}
		skipped = skippedStrikeError
	}

	applyVerdict(rec, verdict, action, skipped)
	if err := b.store.UpdateVerdict(ctx, rec); err != nil {
		b.logger.Error("Failed to update reprocessed record",
			zap.String("record_id", rec.ID),
			zap.Error(err))
		if action.Enforces() {
			if _, _, rerr := b.ledger.Reverse(ctx, rec.ChatID, rec.UserID); rerr != nil {
				b.logger.Error("Failed to undo strike for lost record",
					zap.String("record_id", rec.ID),
					zap.Error(rerr))
			}
		}
		return
	}

	if !action.Enforces() {
		return
	}

	ref := enforce.Ref{
		RecordID:    rec.ID,
		ChatID:      rec.ChatID,
		UserID:      rec.UserID,
		MessageID:   rec.MessageID,
		DisplayName: b.storedDisplayName(ctx, rec.UserID),
	}
	if result := b.executor.Apply(ctx, action, ref); !result.OK() {
		b.logger.Warn("Enforcement partially failed",
			zap.String("record_id", rec.ID),
			zap.Int("failed_ops", len(result.Failed())))
	}
	if err := b.reviews.PublishCard(ctx, rec, action.StrikeCount); err != nil {
		b.logger.Error("Failed to publish review card",
			zap.String("record_id", rec.ID),
			zap.Error(err))
	}
}

// applyVerdict copies the classifier verdict and the engine decision
// onto the record.
func applyVerdict(rec *models.Record, verdict *models.Verdict, action models.Action, skipped string) {
	rec.Label = verdict.Label
	rec.Category = verdict.Category
	rec.Confidence = verdict.Confidence
	rec.Reason = verdict.Reason
	rec.RawVerdict = verdict.Raw
	rec.ModelVersion = verdict.ModelVersion
	rec.SkippedReason = skipped

	if action.Enforces() {
		rec.ScamApplied = true
		rec.StrikeApplied = true
		rec.Tier = action.Tier
		rec.ReviewState = models.ReviewPending
	} else {
		rec.Tier = models.TierNone
		rec.ReviewState = models.ReviewNone
	}
}

// notifyDegraded tells the responsible admin chats that a scam verdict
// could not be recorded against the strike ledger.
func (b *Bot) notifyDegraded(ctx context.Context, chatID int64, recordID string) {
	text := "⚠️ Не удалось обновить счётчик страйков, сообщение сохранено без наказания.\n" +
		"🆔 ID записи: <code>" + recordID + "</code>"
	for _, target := range b.adminTargets(ctx, chatID) {
		if err := b.messenger.SendMessage(ctx, target, text); err != nil {
			b.logger.Warn("Failed to send degraded-processing notice",
				zap.Int64("admin_chat_id", target),
				zap.Error(err))
		}
	}
}

// adminTargets lists the linked admin chat (if any) followed by the
// global admin chats, without duplicates.
func (b *Bot) adminTargets(ctx context.Context, chatID int64) []int64 {
	var targets []int64
	seen := make(map[int64]bool)

	if chat, err := b.store.GetChat(ctx, chatID); err == nil && chat.AdminChatID != nil {
		targets = append(targets, *chat.AdminChatID)
		seen[*chat.AdminChatID] = true
	}
	for _, id := range b.adminChats {
		if !seen[id] {
			targets = append(targets, id)
			seen[id] = true
		}
	}
	return targets
}

// isAdminChat reports whether moderation must skip the chat entirely.
func (b *Bot) isAdminChat(ctx context.Context, chatID int64) bool {
	for _, id := range b.adminChats {
		if id == chatID {
			return true
		}
	}

	linked, err := b.store.IsAdminChat(ctx, chatID)
	if err != nil {
		b.logger.Warn("Failed to check admin chat",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		return false
	}
	return linked
}

func (b *Bot) rememberSender(ctx context.Context, message *tgbotapi.Message) {
	chat := &models.Chat{
		ID:    message.Chat.ID,
		Title: message.Chat.Title,
		Type:  message.Chat.Type,
	}
	if err := b.store.UpsertChat(ctx, chat); err != nil {
		b.logger.Warn("Failed to upsert chat",
			zap.Int64("chat_id", chat.ID),
			zap.Error(err))
	}

	b.rememberUser(ctx, message.From)
}

func (b *Bot) rememberUser(ctx context.Context, from *tgbotapi.User) {
	if from == nil {
		return
	}
	user := &models.User{
		ID:        from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	}
	if err := b.store.UpsertUser(ctx, user); err != nil {
		b.logger.Warn("Failed to upsert user",
			zap.Int64("user_id", user.ID),
			zap.Error(err))
	}
}

// storedDisplayName resolves a user's display name from storage, for
// reprocessed records where the Telegram message is no longer at hand.
func (b *Bot) storedDisplayName(ctx context.Context, userID int64) string {
	user, err := b.store.GetUser(ctx, userID)
	if err != nil {
		return ""
	}
	return user.DisplayName()
}

func displayName(from *tgbotapi.User) string {
	user := models.User{
		ID:        from.ID,
		Username:  from.UserName,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	}
	return user.DisplayName()
}
