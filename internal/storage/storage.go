package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned for retryable serialization failures.
	// Callers may retry the operation.
	ErrConflict = errors.New("storage: serialization conflict")
)

type Storage interface {
	RecordStore
	StrikeStore
	ChatStore
	UserStore
	ReportStore
	Close() error
}

// RecordStore persists audit records and their review lifecycle.
type RecordStore interface {
	CreateRecord(ctx context.Context, rec *models.Record) error
	GetRecord(ctx context.Context, id string) (*models.Record, error)

	// UpdateVerdict rewrites the verdict and decision fields of an
	// existing record. Used when an unclassified record is reprocessed.
	UpdateVerdict(ctx context.Context, rec *models.Record) error

	// TransitionReview moves a record from one review state to another.
	// It reports false when the record was not in the expected state,
	// which makes duplicate feedback deliveries no-ops.
	TransitionReview(ctx context.Context, id string, from, to models.ReviewState) (bool, error)

	// AmendHumanLabel sets the record's human label and appends an
	// amendment row carrying the previous value. The record's original
	// verdict fields are never touched. Re-applying an identical
	// amendment is a no-op, so duplicate feedback deliveries are safe.
	AmendHumanLabel(ctx context.Context, id string, label models.HumanLabel, setBy int64, at time.Time) error
	ListAmendments(ctx context.Context, recordID string) ([]models.Amendment, error)

	AddEnforcement(ctx context.Context, e *models.Enforcement) error
	ListEnforcements(ctx context.Context, recordID string) ([]models.Enforcement, error)

	// MarkStrikeReversed flags that the record's strike was taken back.
	MarkStrikeReversed(ctx context.Context, id string) error

	// SetReviewCard stores where the record's review card was posted.
	SetReviewCard(ctx context.Context, id string, chatID int64, messageID int) error

	// ExpirePendingBefore closes all pending records created before the
	// cutoff as unreviewed and returns them.
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Record, error)

	// ListUnclassified returns records the classifier never scored,
	// oldest first, for startup reprocessing.
	ListUnclassified(ctx context.Context, limit int) ([]*models.Record, error)

	CountPending(ctx context.Context) (int, error)
}

// StrikeStore maintains the per-(chat, user) strike counters.
type StrikeStore interface {
	// IncrementStrike adds one to the member's counter, creating the row
	// when absent, and returns the new value.
	IncrementStrike(ctx context.Context, chatID, userID int64, at time.Time) (int, error)

	// ReverseStrike subtracts one from the member's counter, clamped at
	// zero, and returns the new value.
	ReverseStrike(ctx context.Context, chatID, userID int64) (int, error)

	GetMember(ctx context.Context, chatID, userID int64) (*models.Member, error)
	SetMemberWhitelisted(ctx context.Context, chatID, userID int64, whitelisted bool) error
}

// ChatStore tracks known chats and their admin-chat links.
type ChatStore interface {
	UpsertChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, chatID int64) (*models.Chat, error)
	SetAdminChat(ctx context.Context, chatID, adminChatID int64) error

	// ManagedChats lists the working chats linked to an admin chat.
	ManagedChats(ctx context.Context, adminChatID int64) ([]*models.Chat, error)

	// IsAdminChat reports whether any working chat sends its review
	// cards to the given chat.
	IsAdminChat(ctx context.Context, chatID int64) (bool, error)
}

// UserStore tracks seen users and the global whitelist.
type UserStore interface {
	UpsertUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	SetGlobalWhitelisted(ctx context.Context, userID int64, whitelisted bool) error
}

// ReportStore serves the admin command aggregates.
type ReportStore interface {
	ChatStats(ctx context.Context, chatID int64, recentWindow time.Duration) (*models.ChatStats, error)
	GlobalStats(ctx context.Context, recentWindow time.Duration) (*models.ChatStats, error)
	TopOffenders(ctx context.Context, chatIDs []int64, limit int) ([]models.Offender, error)
	RecentScams(ctx context.Context, chatIDs []int64, limit int) ([]models.ScamRecord, error)
}
