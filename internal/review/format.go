package review

import (
	"fmt"
	"html"
	"strings"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

// decisionMarker prefixes the admin-decision line appended to a card, and
// is stripped before re-appending so repeated edits do not stack.
const decisionMarker = "\n\n👮 Решение админа:"

const (
	confirmedSuffix  = decisionMarker + " <b>СКАМ (подтверждено)</b>"
	overriddenSuffix = decisionMarker + " <b>НЕ СКАМ</b>"
)

// CardBody renders the review card posted to admin chats.
func CardBody(rec *models.Record, chatTitle, userDisplay string, strikes int) string {
	if chatTitle == "" {
		chatTitle = "(без названия)"
	}
	if userDisplay == "" {
		userDisplay = fmt.Sprintf("id %d", rec.UserID)
	}

	var b strings.Builder
	b.WriteString("🚨 <b>Обнаружен возможный скам</b>\n\n")
	fmt.Fprintf(&b, "👥 Чат: <b>%s</b> (<code>%d</code>)\n", html.EscapeString(chatTitle), rec.ChatID)
	fmt.Fprintf(&b, "🙍‍♂️ Пользователь: <b>%s</b> (<code>%d</code>)\n", html.EscapeString(userDisplay), rec.UserID)
	fmt.Fprintf(&b, "⚠️ Страйков в этом чате: <b>%d</b>\n", strikes)
	fmt.Fprintf(&b, "🆔 ID записи: <code>%s</code>\n\n", rec.ID)
	fmt.Fprintf(&b, "🤖 Модель: <code>%s</code>\n", rec.ModelVersion)
	fmt.Fprintf(&b, "🏷 Метка: <b>%s</b> (%s)\n", rec.Label, rec.Category)
	fmt.Fprintf(&b, "📊 Уверенность: <b>%.2f</b>\n", rec.Confidence)
	fmt.Fprintf(&b, "📝 Причина: %s\n\n", html.EscapeString(rec.Reason))
	fmt.Fprintf(&b, "💬 Текст сообщения:\n<code>%s</code>", html.EscapeString(rec.Text))
	return b.String()
}

// decidedCardText appends the admin decision to the card the admin
// clicked, replacing any earlier decision line.
func decidedCardText(cardText string, label models.HumanLabel) string {
	base := cardText
	if idx := strings.Index(base, decisionMarker); idx >= 0 {
		base = base[:idx]
	}

	if label == models.HumanLabelScam {
		return base + confirmedSuffix
	}
	return base + overriddenSuffix
}

// expiredCardText replaces the card body once the review window closed
// without a decision.
func expiredCardText(rec *models.Record) string {
	return fmt.Sprintf(
		"⌛️ <b>Карточка закрыта без решения</b>\n\n"+
			"Время на проверку истекло.\n"+
			"🆔 ID записи: <code>%s</code>", rec.ID)
}
