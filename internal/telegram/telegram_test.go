package telegram

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/enforce"
	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

func TestParseFeedback(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		decision models.HumanLabel
		recordID string
		ok       bool
	}{
		{"not scam", "as_not_scam:rec-1", models.HumanLabelNotScam, "rec-1", true},
		{"mark scam", "as_mark_scam:rec-1", models.HumanLabelScam, "rec-1", true},
		{"uuid record id", "as_not_scam:0f8fad5b-d9cb-469f-a165-70867728950e", models.HumanLabelNotScam, "0f8fad5b-d9cb-469f-a165-70867728950e", true},
		{"unknown prefix", "as_delete:rec-1", "", "", false},
		{"missing id", "as_not_scam:", "", "", false},
		{"no separator", "as_not_scam", "", "", false},
		{"empty", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, recordID, ok := ParseFeedback(tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.decision, decision)
			assert.Equal(t, tt.recordID, recordID)
		})
	}
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))

	err := mapError(errors.New("Bad Request: message to delete not found"))
	assert.ErrorIs(t, err, enforce.ErrMessageGone)

	err = mapError(errors.New("Bad Request: not enough rights to restrict/unrestrict chat member"))
	assert.ErrorIs(t, err, enforce.ErrPermissionDenied)

	err = mapError(errors.New("Bad Request: user is an administrator of the chat"))
	assert.ErrorIs(t, err, enforce.ErrPermissionDenied)

	// Unrecognized failures pass through unwrapped.
	plain := errors.New("Too Many Requests: retry after 5")
	err = mapError(plain)
	assert.NotErrorIs(t, err, enforce.ErrMessageGone)
	assert.NotErrorIs(t, err, enforce.ErrPermissionDenied)
	assert.Equal(t, plain, err)
}
