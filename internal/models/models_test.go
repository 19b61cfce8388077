package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReviewStateTerminal(t *testing.T) {
	assert.False(t, ReviewNone.Terminal())
	assert.False(t, ReviewPending.Terminal())
	assert.True(t, ReviewConfirmed.Terminal())
	assert.True(t, ReviewOverridden.Terminal())
	assert.True(t, ReviewUnreviewed.Terminal())
}

func TestActionEnforces(t *testing.T) {
	assert.False(t, Action{Tier: TierNone}.Enforces())
	assert.True(t, Action{Tier: TierNone, DeleteMessage: true}.Enforces())
	assert.True(t, Action{Tier: TierWarn}.Enforces())
}

func TestRecordEffectiveScam(t *testing.T) {
	rec := &Record{ScamApplied: true}
	assert.True(t, rec.EffectiveScam())

	// The human label wins over the model.
	notScam := HumanLabelNotScam
	rec.HumanLabel = &notScam
	assert.False(t, rec.EffectiveScam())

	scam := HumanLabelScam
	missed := &Record{ScamApplied: false, HumanLabel: &scam}
	assert.True(t, missed.EffectiveScam())
}

func TestUserDisplayName(t *testing.T) {
	assert.Equal(t, "Ivan Petrov", User{FirstName: "Ivan", LastName: "Petrov"}.DisplayName())
	assert.Equal(t, "Ivan", User{FirstName: "Ivan"}.DisplayName())
	assert.Equal(t, "@ivan", User{Username: "ivan"}.DisplayName())
	assert.Equal(t, "id 200", User{ID: 200}.DisplayName())
}
