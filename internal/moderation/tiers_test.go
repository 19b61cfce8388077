package moderation

import (
	"testing"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

func TestTierTable_TierFor(t *testing.T) {
	table, err := NewTierTable(1, 2, 3)
	if err != nil {
		t.Fatalf("NewTierTable: %v", err)
	}

	tests := []struct {
		count int
		want  models.Tier
	}{
		{0, models.TierNone},
		{1, models.TierWarn},
		{2, models.TierMute},
		{3, models.TierBan},
		{4, models.TierBan},
		{100, models.TierBan},
	}

	for _, tt := range tests {
		if got := table.TierFor(tt.count); got != tt.want {
			t.Errorf("TierFor(%d) = %q, want %q", tt.count, got, tt.want)
		}
	}
}

func TestTierTable_WideThresholds(t *testing.T) {
	table, err := NewTierTable(2, 5, 9)
	if err != nil {
		t.Fatalf("NewTierTable: %v", err)
	}

	tests := []struct {
		count int
		want  models.Tier
	}{
		{0, models.TierNone},
		{1, models.TierNone},
		{2, models.TierWarn},
		{4, models.TierWarn},
		{5, models.TierMute},
		{8, models.TierMute},
		{9, models.TierBan},
	}

	for _, tt := range tests {
		if got := table.TierFor(tt.count); got != tt.want {
			t.Errorf("TierFor(%d) = %q, want %q", tt.count, got, tt.want)
		}
	}
}

func TestNewTierTable_Validation(t *testing.T) {
	tests := []struct {
		name            string
		warn, mute, ban int
		wantErr         bool
	}{
		{"defaults", 1, 2, 3, false},
		{"equal thresholds", 2, 2, 2, false},
		{"zero warn", 0, 2, 3, true},
		{"warn above mute", 3, 2, 4, true},
		{"mute above ban", 1, 4, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTierTable(tt.warn, tt.mute, tt.ban)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTierTable(%d, %d, %d) error = %v, wantErr %v",
					tt.warn, tt.mute, tt.ban, err, tt.wantErr)
			}
		})
	}
}
