package review

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

func TestCardBody(t *testing.T) {
	rec := &models.Record{
		ID:           "rec-1",
		ChatID:       100,
		UserID:       200,
		Text:         "купи <крипту> сейчас",
		Label:        models.LabelScam,
		Category:     models.CategoryCrypto,
		Confidence:   0.91,
		Reason:       "обещание быстрого заработка",
		ModelVersion: "gpt-4o-mini",
	}

	body := CardBody(rec, "Чат беженцев", "Ivan", 2)
	assert.Contains(t, body, "Чат беженцев")
	assert.Contains(t, body, "Ivan")
	assert.Contains(t, body, "rec-1")
	assert.Contains(t, body, "0.91")
	// Message text is HTML-escaped.
	assert.Contains(t, body, "&lt;крипту&gt;")
	assert.NotContains(t, body, "<крипту>")
}

func TestCardBody_FallbacksForMissingNames(t *testing.T) {
	rec := &models.Record{ID: "rec-1", UserID: 200}

	body := CardBody(rec, "", "", 0)
	assert.Contains(t, body, "(без названия)")
	assert.Contains(t, body, "id 200")
}

func TestDecidedCardText(t *testing.T) {
	card := "original card body"

	confirmed := decidedCardText(card, models.HumanLabelScam)
	assert.Contains(t, confirmed, "original card body")
	assert.Contains(t, confirmed, "СКАМ (подтверждено)")

	overridden := decidedCardText(card, models.HumanLabelNotScam)
	assert.Contains(t, overridden, "НЕ СКАМ")
}

func TestDecidedCardText_ReplacesEarlierDecision(t *testing.T) {
	card := "original card body"

	once := decidedCardText(card, models.HumanLabelScam)
	twice := decidedCardText(once, models.HumanLabelNotScam)

	assert.Equal(t, decidedCardText(card, models.HumanLabelNotScam), twice,
		"repeated edits must not stack decision lines")
}
