package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

const statsRecentWindow = 24 * time.Hour

const helpText = "ℹ️ <b>Справка по анти-скам боту</b>\n\n" +
	"<b>Что делает бот:</b>\n" +
	"• Проверяет каждое сообщение через LLM (OpenAI).\n" +
	"• Автоматически удаляет скам и выдаёт страйки нарушителям.\n" +
	"• Отправляет карточки скам-сообщений в админ-чаты с кнопками для разметки.\n\n" +
	"<b>Команды в РАБОЧИХ чатах (где сидят участники):</b>\n" +
	"• <code>/as_set_admin_chat &lt;id_админ-чата&gt;</code> — привязать этот рабочий чат к админ-чату.\n" +
	"  После этого все уведомления о скаме и аналитика по этому чату будут доступны в указанном админ-чате.\n" +
	"• <code>/as_status</code> — показать статус для этого рабочего чата:\n" +
	"  к какому админ-чату привязан и краткую статистику.\n" +
	"• <code>/as_whitelist add|remove &lt;user_id&gt;</code> — белый список этого чата:\n" +
	"  сообщения пользователей из списка не проверяются.\n\n" +
	"<b>Команды в АДМИН-чатах:</b>\n" +
	"• <code>/as_status</code> — показать, какие рабочие чаты привязаны к этому админ-чату,\n" +
	"  и является ли этот чат глобальным админ-чатом.\n" +
	"• <code>/as_stats</code> — сводная статистика по всем рабочим чатам,\n" +
	"  которые привязаны к этому админ-чату:\n" +
	"  – сколько сообщений проверено;\n" +
	"  – сколько скамов по модели;\n" +
	"  – сколько скамов подтверждено админами;\n" +
	"  – сколько помечено как НЕ скам;\n" +
	"  – топ-нарушители.\n\n" +
	"• <code>/as_recent</code> или <code>/as_recent N</code> — последние N скам-сообщений\n" +
	"  по рабочим чатам, привязанным к этому админ-чату (по умолчанию 10, максимум 50).\n\n" +
	"<b>Кнопки под уведомлениями о скаме в админ-чатах:</b>\n" +
	"• <b>✅ Не скам</b> — помечает сообщение как НЕ скам, сохраняет решение админа в базе.\n" +
	"• <b>🚫 Точно скам</b> — подтверждает, что сообщение — скам, также сохраняет решение.\n" +
	"  Эти решения используются как разметка для будущей обучающей выборки.\n"

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.reply(ctx, message, "Привет! Я антискам-бот (альфа-версия).")
	case "chatid":
		b.reply(ctx, message, fmt.Sprintf("ID этого чата: <code>%d</code>", message.Chat.ID))
	case "help", "as_help":
		b.send(ctx, message.Chat.ID, helpText)
	case "as_status":
		b.handleStatus(ctx, message)
	case "as_set_admin_chat":
		b.handleSetAdminChat(ctx, message)
	case "as_stats":
		b.handleStats(ctx, message)
	case "as_recent":
		b.handleRecent(ctx, message)
	case "as_whitelist":
		b.handleWhitelist(ctx, message)
	default:
		b.logger.Debug("Ignoring unknown command",
			zap.String("command", message.Command()),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

// handleStatus reports the chat's role: a working chat shows its admin
// link and local stats, an admin chat shows its managed chats, and an
// unlinked chat gets setup instructions.
func (b *Bot) handleStatus(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	workingChat, err := b.store.GetChat(ctx, chatID)
	if err != nil {
		workingChat = nil
	}
	managed, err := b.store.ManagedChats(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to list managed chats", zap.Error(err))
	}

	isGroup := message.Chat.IsGroup() || message.Chat.IsSuperGroup()
	if isGroup && workingChat != nil {
		if !b.requireChatAdmin(ctx, message,
			"В рабочих чатах команды анти-скам бота доступны только администраторам.") {
			return
		}

		stats, err := b.store.ChatStats(ctx, chatID, statsRecentWindow)
		if err != nil {
			b.logger.Error("Failed to load chat stats", zap.Error(err))
			stats = &models.ChatStats{}
		}

		adminPart := "не привязан"
		if workingChat.AdminChatID != nil {
			adminPart = fmt.Sprintf("<code>%d</code>", *workingChat.AdminChatID)
		}

		var lines []string
		lines = append(lines, "ℹ️ <b>Статус рабочего чата</b>")
		lines = append(lines, fmt.Sprintf("Чат: <b>%s</b>", html.EscapeString(chatTitle(message.Chat))))
		lines = append(lines, fmt.Sprintf("ID: <code>%d</code>", chatID))
		lines = append(lines, "")
		lines = append(lines, "Админ-чат для уведомлений: "+adminPart)
		lines = append(lines, "")
		lines = append(lines, "📊 <b>Локальная статистика:</b>")
		lines = append(lines, fmt.Sprintf("• Проверено сообщений: <b>%d</b>", stats.Messages))
		lines = append(lines, fmt.Sprintf("• Скам по модели: <b>%d</b>", stats.ModelScams))
		lines = append(lines, fmt.Sprintf("• Скам по решению админов: <b>%d</b>", stats.HumanConfirmed))
		lines = append(lines, fmt.Sprintf("• Помечено как НЕ скам: <b>%d</b>", stats.HumanRejected))
		lines = append(lines, "")
		lines = append(lines, "Изменить админ-чат можно командой:\n<code>/as_set_admin_chat &lt;id_админ-чата&gt;</code>")

		b.send(ctx, chatID, strings.Join(lines, "\n"))
		return
	}

	if len(managed) > 0 {
		var lines []string
		lines = append(lines, "ℹ️ <b>Статус админ-чата</b>")
		lines = append(lines, fmt.Sprintf("Чат: <b>%s</b>", html.EscapeString(chatTitle(message.Chat))))
		lines = append(lines, fmt.Sprintf("ID: <code>%d</code>", chatID))
		lines = append(lines, "")
		if b.isGlobalAdminChat(chatID) {
			lines = append(lines, "Роль: <b>глобальный админ-чат</b> (видит все чаты из конфигурации).")
		} else {
			lines = append(lines, "Роль: <b>локальный админ-чат</b>.")
		}
		lines = append(lines, "")
		lines = append(lines, fmt.Sprintf("К этому админ-чату привязано рабочих чатов: <b>%d</b>", len(managed)))

		for i, chat := range managed {
			if i == 10 {
				lines = append(lines, fmt.Sprintf("… и ещё %d чатов.", len(managed)-10))
				break
			}
			title := chat.Title
			if title == "" {
				title = "(без названия)"
			}
			lines = append(lines, fmt.Sprintf("• <b>%s</b> (<code>%d</code>)", html.EscapeString(title), chat.ID))
		}

		lines = append(lines, "")
		lines = append(lines, "Команды для аналитики:\n"+
			"• <code>/as_stats</code> — сводная статистика.\n"+
			"• <code>/as_recent</code> — последние скам-сообщения.")

		b.send(ctx, chatID, strings.Join(lines, "\n"))
		return
	}

	var lines []string
	lines = append(lines, "ℹ️ <b>Статус чата</b>")
	lines = append(lines, fmt.Sprintf("ID: <code>%d</code>", chatID))
	lines = append(lines, "")
	if b.isGlobalAdminChat(chatID) {
		lines = append(lines, "Этот чат указан в <code>GLOBAL_ADMIN_CHAT_IDS</code> как глобальный админ-чат, "+
			"но к нему пока не привязано ни одного рабочего чата.")
	} else {
		lines = append(lines, "Этот чат не привязан как рабочий и не используется как админ-чат.")
		lines = append(lines, fmt.Sprintf("Чтобы привязать рабочий чат к этому, вызови в рабочем чате:\n"+
			"<code>/as_set_admin_chat %d</code>", chatID))
	}

	b.send(ctx, chatID, strings.Join(lines, "\n"))
}

// handleSetAdminChat links the working chat to an admin chat. Group-only
// and restricted to the chat's administrators.
func (b *Bot) handleSetAdminChat(ctx context.Context, message *tgbotapi.Message) {
	if !(message.Chat.IsGroup() || message.Chat.IsSuperGroup()) {
		b.send(ctx, message.Chat.ID, "Эту команду нужно выполнять в групповом чате, не в личке.")
		return
	}
	if !b.requireChatAdmin(ctx, message,
		"Только администраторы этого чата могут менять привязку к админ-чату.") {
		return
	}

	arg := strings.TrimSpace(message.CommandArguments())
	if arg == "" {
		b.send(ctx, message.Chat.ID, "Укажи ID админ-чата, например:\n/as_set_admin_chat -1001234567890")
		return
	}
	adminChatID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		b.send(ctx, message.Chat.ID, "ID админ-чата должен быть числом (обычно в формате -100...).")
		return
	}

	chat := &models.Chat{
		ID:    message.Chat.ID,
		Title: message.Chat.Title,
		Type:  message.Chat.Type,
	}
	if err := b.store.UpsertChat(ctx, chat); err == nil {
		err = b.store.SetAdminChat(ctx, message.Chat.ID, adminChatID)
	}
	if err != nil {
		b.logger.Error("Failed to link admin chat",
			zap.Int64("chat_id", message.Chat.ID),
			zap.Int64("admin_chat_id", adminChatID),
			zap.Error(err))
		b.send(ctx, message.Chat.ID, "❌ Не удалось сохранить привязку, попробуйте ещё раз.")
		return
	}

	b.logger.Info("Admin chat linked",
		zap.Int64("chat_id", message.Chat.ID),
		zap.Int64("admin_chat_id", adminChatID))
	b.send(ctx, message.Chat.ID, fmt.Sprintf(
		"Для этого чата теперь используется админ-чат:\n<code>%d</code>\n\n"+
			"Уведомления о скаме и аналитика по этому чату будут доступны там.", adminChatID))
}

// handleStats reports aggregate moderation stats for the working chats
// linked to this admin chat.
func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	managed, err := b.store.ManagedChats(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to list managed chats", zap.Error(err))
		return
	}
	if len(managed) == 0 {
		b.send(ctx, chatID, notLinkedText(chatID))
		return
	}

	total := models.ChatStats{}
	chatIDs := make([]int64, 0, len(managed))
	for _, chat := range managed {
		chatIDs = append(chatIDs, chat.ID)
		stats, err := b.store.ChatStats(ctx, chat.ID, statsRecentWindow)
		if err != nil {
			b.logger.Error("Failed to load chat stats",
				zap.Int64("chat_id", chat.ID),
				zap.Error(err))
			continue
		}
		total.Add(*stats)
	}

	var lines []string
	lines = append(lines, "📊 <b>Статистика анти-скам бота</b>")
	if len(managed) == 1 {
		title := managed[0].Title
		if title == "" {
			title = "(без названия)"
		}
		lines = append(lines, fmt.Sprintf("По чату: <b>%s</b>", html.EscapeString(title)))
	} else {
		lines = append(lines, fmt.Sprintf("По %d рабочим чатам, привязанным к этому админ-чату.", len(managed)))
	}
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("Всего проверенных сообщений: <b>%d</b>", total.Messages))
	lines = append(lines, fmt.Sprintf("Скам по модели: <b>%d</b>", total.ModelScams))
	lines = append(lines, fmt.Sprintf("Скам по решению админов: <b>%d</b>", total.HumanConfirmed))
	lines = append(lines, fmt.Sprintf("Помечено как НЕ скам: <b>%d</b>", total.HumanRejected))
	lines = append(lines, fmt.Sprintf("Сообщений с ручной разметкой: <b>%d</b>", total.HumanLabeled))

	offenders, err := b.store.TopOffenders(ctx, chatIDs, 5)
	if err != nil {
		b.logger.Error("Failed to load top offenders", zap.Error(err))
	}
	if len(offenders) > 0 {
		lines = append(lines, "")
		lines = append(lines, "👥 Топ-5 подозрительных пользователей:")
		for i, off := range offenders {
			name := off.Username
			if name == "" {
				name = off.FirstName
			}
			if name == "" {
				name = "(без имени)"
			}
			lines = append(lines, fmt.Sprintf("%d. %s — <b>%d</b> скам-сообщений",
				i+1, html.EscapeString(name), off.ScamCount))
		}
	}

	b.send(ctx, chatID, strings.Join(lines, "\n"))
}

// handleRecent lists the last N scam messages across the admin chat's
// working chats. N defaults to 10 and is clamped to 1..50.
func (b *Bot) handleRecent(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	limit := 10
	if arg := strings.TrimSpace(message.CommandArguments()); arg != "" {
		if n, err := strconv.Atoi(arg); err == nil {
			limit = n
			if limit < 1 {
				limit = 1
			}
			if limit > 50 {
				limit = 50
			}
		}
	}

	managed, err := b.store.ManagedChats(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to list managed chats", zap.Error(err))
		return
	}
	if len(managed) == 0 {
		b.send(ctx, chatID, notLinkedText(chatID))
		return
	}

	chatIDs := make([]int64, 0, len(managed))
	for _, chat := range managed {
		chatIDs = append(chatIDs, chat.ID)
	}

	rows, err := b.store.RecentScams(ctx, chatIDs, limit)
	if err != nil {
		b.logger.Error("Failed to load recent scams", zap.Error(err))
		return
	}
	if len(rows) == 0 {
		b.send(ctx, chatID, "Пока нет ни одного скам-сообщения в этих чатах.")
		return
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("🕒 Последние %d скам-сообщений:", len(rows)))
	for _, row := range rows {
		ts := row.CreatedAt.UTC().Format("2006-01-02 15:04")

		title := row.ChatTitle
		if title == "" {
			title = "(без названия)"
		}

		name := row.Username
		if name == "" {
			name = row.FirstName
		}
		if name == "" {
			name = fmt.Sprintf("id %d", row.UserID)
		}

		lines = append(lines, fmt.Sprintf("• [%s] <b>%s</b> — %s: <code>%s</code>",
			ts, html.EscapeString(title), html.EscapeString(name),
			html.EscapeString(shorten(row.Text, 120))))
	}

	b.send(ctx, chatID, strings.Join(lines, "\n"))
}

// handleWhitelist toggles the per-chat whitelist for a user. Whitelisted
// members skip classification entirely.
func (b *Bot) handleWhitelist(ctx context.Context, message *tgbotapi.Message) {
	const usage = "Использование:\n" +
		"<code>/as_whitelist add &lt;user_id&gt;</code>\n" +
		"<code>/as_whitelist remove &lt;user_id&gt;</code>"

	if !(message.Chat.IsGroup() || message.Chat.IsSuperGroup()) {
		b.send(ctx, message.Chat.ID, "Эту команду нужно выполнять в групповом чате, не в личке.")
		return
	}
	if !b.requireChatAdmin(ctx, message,
		"Только администраторы этого чата могут менять белый список.") {
		return
	}

	fields := strings.Fields(message.CommandArguments())
	if len(fields) != 2 {
		b.send(ctx, message.Chat.ID, usage)
		return
	}
	userID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		b.send(ctx, message.Chat.ID, "ID пользователя должен быть числом.")
		return
	}

	var whitelisted bool
	switch fields[0] {
	case "add":
		whitelisted = true
	case "remove":
		whitelisted = false
	default:
		b.send(ctx, message.Chat.ID, usage)
		return
	}

	if err := b.store.SetMemberWhitelisted(ctx, message.Chat.ID, userID, whitelisted); err != nil {
		b.logger.Error("Failed to update whitelist",
			zap.Int64("chat_id", message.Chat.ID),
			zap.Int64("user_id", userID),
			zap.Error(err))
		b.send(ctx, message.Chat.ID, "❌ Не удалось обновить белый список.")
		return
	}

	if whitelisted {
		b.send(ctx, message.Chat.ID, fmt.Sprintf(
			"Пользователь <code>%d</code> добавлен в белый список этого чата.", userID))
	} else {
		b.send(ctx, message.Chat.ID, fmt.Sprintf(
			"Пользователь <code>%d</code> удалён из белого списка этого чата.", userID))
	}
}

// requireChatAdmin checks the sender's live member status and answers
// with the refusal text when they are not an administrator.
func (b *Bot) requireChatAdmin(ctx context.Context, message *tgbotapi.Message, refusal string) bool {
	if message.From == nil {
		b.send(ctx, message.Chat.ID, "Не удалось определить отправителя команды.")
		return false
	}

	status, err := b.messenger.MemberStatus(ctx, message.Chat.ID, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to check member status",
			zap.Int64("chat_id", message.Chat.ID),
			zap.Int64("user_id", message.From.ID),
			zap.Error(err))
		b.send(ctx, message.Chat.ID, "Не удалось проверить права администратора.")
		return false
	}
	if status != "administrator" && status != "creator" {
		b.send(ctx, message.Chat.ID, refusal)
		return false
	}
	return true
}

func (b *Bot) isGlobalAdminChat(chatID int64) bool {
	for _, id := range b.adminChats {
		if id == chatID {
			return true
		}
	}
	return false
}

func notLinkedText(adminChatID int64) string {
	return fmt.Sprintf("Этот чат пока не привязан ни к одному рабочему чату.\n\n"+
		"Выполни в рабочем чате:\n<code>/as_set_admin_chat %d</code>", adminChatID)
}

func chatTitle(chat *tgbotapi.Chat) string {
	if chat.Title == "" {
		return "(без названия)"
	}
	return chat.Title
}

// shorten trims the text to limit runes for the one-line report rows.
func shorten(text string, limit int) string {
	runes := []rune(text)
	if len(runes) > limit {
		text = string(runes[:limit-3]) + "..."
	}
	return strings.ReplaceAll(text, "\n", " ")
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	if err := b.messenger.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Error("Failed to send message",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}

func (b *Bot) reply(ctx context.Context, message *tgbotapi.Message, text string) {
	if err := b.messenger.Reply(ctx, message.Chat.ID, message.MessageID, text); err != nil {
		b.logger.Error("Failed to reply",
			zap.Int64("chat_id", message.Chat.ID),
			zap.Error(err))
	}
}
