package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

func pendingRecord(id string, chatID, userID int64) *models.Record {
	return &models.Record{
		ID:            id,
		ChatID:        chatID,
		UserID:        userID,
		MessageID:     1,
		Text:          "test message",
		Label:         models.LabelScam,
		Category:      models.CategoryOther,
		Confidence:    0.9,
		ScamApplied:   true,
		StrikeApplied: true,
		Tier:          models.TierWarn,
		ReviewState:   models.ReviewPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestMemoryStorage_RecordRoundTrip(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	rec := pendingRecord("rec-1", 100, 200)
	require.NoError(t, store.CreateRecord(ctx, rec))

	got, err := store.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Text, got.Text)
	assert.Equal(t, models.ReviewPending, got.ReviewState)

	// Returned records are copies; mutating one must not leak back.
	got.Text = "mutated"
	again, err := store.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "test message", again.Text)

	_, err = store.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, store.CreateRecord(ctx, rec), "duplicate ids are rejected")
}

func TestMemoryStorage_TransitionReview(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, store.CreateRecord(ctx, pendingRecord("rec-1", 100, 200)))

	moved, err := store.TransitionReview(ctx, "rec-1", models.ReviewPending, models.ReviewConfirmed)
	require.NoError(t, err)
	assert.True(t, moved)

	// The record left pending; a second transition finds nothing to move.
	moved, err = store.TransitionReview(ctx, "rec-1", models.ReviewPending, models.ReviewOverridden)
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := store.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewConfirmed, got.ReviewState)

	moved, err = store.TransitionReview(ctx, "missing", models.ReviewPending, models.ReviewConfirmed)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestMemoryStorage_AmendHumanLabelIdempotent(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, store.CreateRecord(ctx, pendingRecord("rec-1", 100, 200)))

	at := time.Now().UTC()
	require.NoError(t, store.AmendHumanLabel(ctx, "rec-1", models.HumanLabelNotScam, 300, at))
	require.NoError(t, store.AmendHumanLabel(ctx, "rec-1", models.HumanLabelNotScam, 300, at))

	amendments, err := store.ListAmendments(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, amendments, 1, "identical amendments must not stack")
	assert.Nil(t, amendments[0].PrevLabel)
	assert.Equal(t, models.HumanLabelNotScam, amendments[0].NewLabel)
	assert.Equal(t, int64(300), amendments[0].SetBy)

	got, err := store.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, got.HumanLabel)
	assert.Equal(t, models.HumanLabelNotScam, *got.HumanLabel)
}

func TestMemoryStorage_AmendKeepsHistory(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, store.CreateRecord(ctx, pendingRecord("rec-1", 100, 200)))

	at := time.Now().UTC()
	require.NoError(t, store.AmendHumanLabel(ctx, "rec-1", models.HumanLabelScam, 300, at))
	require.NoError(t, store.AmendHumanLabel(ctx, "rec-1", models.HumanLabelNotScam, 301, at.Add(time.Minute)))

	amendments, err := store.ListAmendments(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, amendments, 2)

	// The second amendment carries the value it replaced.
	require.NotNil(t, amendments[1].PrevLabel)
	assert.Equal(t, models.HumanLabelScam, *amendments[1].PrevLabel)
	assert.Equal(t, models.HumanLabelNotScam, amendments[1].NewLabel)

	assert.ErrorIs(t, store.AmendHumanLabel(ctx, "missing", models.HumanLabelScam, 300, at), ErrNotFound)
}

func TestMemoryStorage_StrikeCounter(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	now := time.Now().UTC()

	count, err := store.IncrementStrike(ctx, 100, 200, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.IncrementStrike(ctx, 100, 200, now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.ReverseStrike(ctx, 100, 200)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.ReverseStrike(ctx, 100, 200)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Clamped at zero.
	count, err = store.ReverseStrike(ctx, 100, 200)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// A member that never struck reverses to zero, not an error.
	count, err = store.ReverseStrike(ctx, 100, 999)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemoryStorage_ExpirePendingBefore(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	old := pendingRecord("rec-old", 100, 200)
	old.CreatedAt = time.Now().UTC().Add(-80 * time.Hour)
	require.NoError(t, store.CreateRecord(ctx, old))

	fresh := pendingRecord("rec-fresh", 100, 201)
	require.NoError(t, store.CreateRecord(ctx, fresh))

	done := pendingRecord("rec-done", 100, 202)
	done.CreatedAt = old.CreatedAt
	done.ReviewState = models.ReviewConfirmed
	require.NoError(t, store.CreateRecord(ctx, done))

	expired, err := store.ExpirePendingBefore(ctx, time.Now().UTC().Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "rec-old", expired[0].ID)
	assert.Equal(t, models.ReviewUnreviewed, expired[0].ReviewState)

	// Terminal and fresh records are untouched.
	got, err := store.GetRecord(ctx, "rec-fresh")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewPending, got.ReviewState)

	got, err = store.GetRecord(ctx, "rec-done")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewConfirmed, got.ReviewState)
}

func TestMemoryStorage_ListUnclassified(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	unknown := pendingRecord("rec-1", 100, 200)
	unknown.Label = models.LabelUnknown
	unknown.ReviewState = models.ReviewNone
	require.NoError(t, store.CreateRecord(ctx, unknown))
	require.NoError(t, store.CreateRecord(ctx, pendingRecord("rec-2", 100, 201)))

	records, err := store.ListUnclassified(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-1", records[0].ID)
}

func TestMemoryStorage_AdminChatLink(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.UpsertChat(ctx, &models.Chat{ID: 100, Title: "Working", Type: "supergroup"}))
	require.NoError(t, store.SetAdminChat(ctx, 100, -1001))

	chat, err := store.GetChat(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, chat.AdminChatID)
	assert.Equal(t, int64(-1001), *chat.AdminChatID)

	// Last set wins.
	require.NoError(t, store.SetAdminChat(ctx, 100, -1002))
	chat, err = store.GetChat(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(-1002), *chat.AdminChatID)

	managed, err := store.ManagedChats(ctx, -1002)
	require.NoError(t, err)
	require.Len(t, managed, 1)
	assert.Equal(t, int64(100), managed[0].ID)

	managed, err = store.ManagedChats(ctx, -1001)
	require.NoError(t, err)
	assert.Empty(t, managed)

	isAdmin, err := store.IsAdminChat(ctx, -1002)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	isAdmin, err = store.IsAdminChat(ctx, -1001)
	require.NoError(t, err)
	assert.False(t, isAdmin)
}

func TestMemoryStorage_Stats(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	scam := pendingRecord("rec-1", 100, 200)
	require.NoError(t, store.CreateRecord(ctx, scam))

	benign := pendingRecord("rec-2", 100, 201)
	benign.Label = models.LabelOK
	benign.ScamApplied = false
	benign.ReviewState = models.ReviewNone
	require.NoError(t, store.CreateRecord(ctx, benign))

	overturned := pendingRecord("rec-3", 100, 202)
	require.NoError(t, store.CreateRecord(ctx, overturned))
	require.NoError(t, store.AmendHumanLabel(ctx, "rec-3", models.HumanLabelNotScam, 300, time.Now().UTC()))

	stats, err := store.ChatStats(ctx, 100, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Messages)
	assert.Equal(t, 2, stats.ModelScams)
	assert.Equal(t, 0, stats.HumanConfirmed)
	assert.Equal(t, 1, stats.HumanRejected)
	assert.Equal(t, 1, stats.HumanLabeled)
	assert.Equal(t, 3, stats.RecentMessages)

	// Another chat contributes nothing.
	stats, err = store.ChatStats(ctx, 999, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, stats.Messages)
}

func TestMemoryStorage_RecentScamsHonorsHumanLabel(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.CreateRecord(ctx, pendingRecord("rec-1", 100, 200)))

	overturned := pendingRecord("rec-2", 100, 201)
	require.NoError(t, store.CreateRecord(ctx, overturned))
	require.NoError(t, store.AmendHumanLabel(ctx, "rec-2", models.HumanLabelNotScam, 300, time.Now().UTC()))

	// A benign record an admin marked scam counts.
	marked := pendingRecord("rec-3", 100, 202)
	marked.Label = models.LabelOK
	marked.ScamApplied = false
	marked.ReviewState = models.ReviewNone
	require.NoError(t, store.CreateRecord(ctx, marked))
	require.NoError(t, store.AmendHumanLabel(ctx, "rec-3", models.HumanLabelScam, 300, time.Now().UTC()))

	rows, err := store.RecentScams(ctx, []int64{100}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	ids := []string{rows[0].RecordID, rows[1].RecordID}
	assert.Contains(t, ids, "rec-1")
	assert.Contains(t, ids, "rec-3")
}

func TestMemoryStorage_TopOffenders(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, store.UpsertUser(ctx, &models.User{ID: 200, Username: "alice"}))
	require.NoError(t, store.UpsertUser(ctx, &models.User{ID: 201, Username: "bob"}))

	require.NoError(t, store.CreateRecord(ctx, pendingRecord("rec-1", 100, 200)))
	require.NoError(t, store.CreateRecord(ctx, pendingRecord("rec-2", 100, 200)))
	require.NoError(t, store.CreateRecord(ctx, pendingRecord("rec-3", 100, 201)))

	offenders, err := store.TopOffenders(ctx, []int64{100}, 5)
	require.NoError(t, err)
	require.Len(t, offenders, 2)
	assert.Equal(t, int64(200), offenders[0].UserID)
	assert.Equal(t, 2, offenders[0].ScamCount)
	assert.Equal(t, "alice", offenders[0].Username)

	offenders, err = store.TopOffenders(ctx, []int64{100}, 1)
	require.NoError(t, err)
	assert.Len(t, offenders, 1)
}

func TestMemoryStorage_Whitelists(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	member, err := store.GetMember(ctx, 100, 200)
	require.NoError(t, err)
	assert.False(t, member.Whitelisted)
	assert.Zero(t, member.StrikeCount)

	require.NoError(t, store.SetMemberWhitelisted(ctx, 100, 200, true))
	member, err = store.GetMember(ctx, 100, 200)
	require.NoError(t, err)
	assert.True(t, member.Whitelisted)

	require.NoError(t, store.SetGlobalWhitelisted(ctx, 200, true))
	user, err := store.GetUser(ctx, 200)
	require.NoError(t, err)
	assert.True(t, user.GlobalWhitelisted)
}

func TestMemoryStorage_SetReviewCard(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, store.CreateRecord(ctx, pendingRecord("rec-1", 100, 200)))

	require.NoError(t, store.SetReviewCard(ctx, "rec-1", -1001, 7))

	got, err := store.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, got.CardChatID)
	assert.Equal(t, int64(-1001), *got.CardChatID)
	require.NotNil(t, got.CardMessageID)
	assert.Equal(t, 7, *got.CardMessageID)

	count, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
