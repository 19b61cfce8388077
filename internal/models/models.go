package models

import (
	"fmt"
	"time"
)

// Label is the classifier's verdict for a single message.
type Label string

const (
	LabelScam Label = "SCAM"
	LabelOK   Label = "OK"
	// LabelUnknown marks messages the classifier could not score
	// (timeout, malformed response). They carry no verdict and are
	// eligible for reprocessing on the next startup.
	LabelUnknown Label = "UNKNOWN"
)

// Scam categories from the classifier prompt taxonomy.
const (
	CategoryJobScam    = "job_scam"
	CategoryCrypto     = "crypto"
	CategoryInvestment = "investment"
	CategoryPhishing   = "phishing"
	CategoryOther      = "other"
	CategoryNone       = "none"
)

// Verdict is the structured classifier output for one message.
type Verdict struct {
	Label        Label   `json:"label"`
	Category     string  `json:"category"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
	Raw          []byte  `json:"-"` // full provider payload, kept for audit
	ModelVersion string  `json:"-"`
}

// HumanLabel is an admin's manual decision on a record.
type HumanLabel string

const (
	HumanLabelScam    HumanLabel = "SCAM"
	HumanLabelNotScam HumanLabel = "NOT_SCAM"
)

// ReviewState tracks a record through the admin review flow.
type ReviewState string

const (
	// ReviewNone marks records that never had a card due: benign,
	// low-confidence or unclassified messages.
	ReviewNone ReviewState = "none"
	// ReviewPending: enforcement applied, awaiting admin feedback.
	ReviewPending ReviewState = "pending"
	// ReviewConfirmed: an admin agreed with the scam verdict.
	ReviewConfirmed ReviewState = "confirmed"
	// ReviewOverridden: an admin marked the record a false positive;
	// the strike was reversed and restrictions lifted.
	ReviewOverridden ReviewState = "overridden"
	// ReviewUnreviewed: the review window elapsed without feedback.
	ReviewUnreviewed ReviewState = "unreviewed"
)

// Terminal reports whether feedback can no longer change the state.
func (s ReviewState) Terminal() bool {
	return s == ReviewConfirmed || s == ReviewOverridden || s == ReviewUnreviewed
}

// Tier is the escalation level derived from a user's strike count.
type Tier string

const (
	TierNone Tier = "none"
	TierWarn Tier = "warn"
	TierMute Tier = "mute"
	TierBan  Tier = "ban"
)

// Action is the enforcement decision for one message.
type Action struct {
	Tier          Tier
	DeleteMessage bool
	MuteDuration  time.Duration // set for TierMute only
	StrikeCount   int           // counter value that produced Tier
}

// Enforces reports whether the action has any side effect to execute.
func (a Action) Enforces() bool {
	return a.DeleteMessage || a.Tier != TierNone
}

// Record is the durable audit row for one processed message. Verdict
// fields are written once; human labels and enforcement outcomes are
// amended through their own append-only tables.
type Record struct {
	ID        string `db:"id" json:"id"`
	ChatID    int64  `db:"chat_id" json:"chat_id"`
	UserID    int64  `db:"user_id" json:"user_id"`
	MessageID int    `db:"message_id" json:"message_id"`
	Text      string `db:"text" json:"text"`

	Label        Label   `db:"label" json:"label"`
	Category     string  `db:"category" json:"category"`
	Confidence   float64 `db:"confidence" json:"confidence"`
	Reason       string  `db:"reason" json:"reason"`
	RawVerdict   []byte  `db:"raw_verdict" json:"-"`
	ModelVersion string  `db:"model_version" json:"model_version"`

	// ScamApplied is true when the confidence policy fired: the message
	// was deleted and a strike recorded.
	ScamApplied   bool   `db:"scam_applied" json:"scam_applied"`
	SkippedReason string `db:"skipped_reason" json:"skipped_reason,omitempty"`

	Tier           Tier        `db:"tier" json:"tier"`
	StrikeApplied  bool        `db:"strike_applied" json:"strike_applied"`
	StrikeReversed bool        `db:"strike_reversed" json:"strike_reversed"`
	ReviewState    ReviewState `db:"review_state" json:"review_state"`

	HumanLabel     *HumanLabel `db:"human_label" json:"human_label,omitempty"`
	HumanLabeledBy *int64      `db:"human_labeled_by" json:"human_labeled_by,omitempty"`
	HumanLabeledAt *time.Time  `db:"human_labeled_at" json:"human_labeled_at,omitempty"`

	// Review card location in the admin chat, set once the card is posted.
	CardChatID    *int64 `db:"card_chat_id" json:"card_chat_id,omitempty"`
	CardMessageID *int   `db:"card_message_id" json:"card_message_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// EffectiveScam reports the record's verdict with human feedback applied:
// the human label wins over the model whenever one exists.
func (r *Record) EffectiveScam() bool {
	if r.HumanLabel != nil {
		return *r.HumanLabel == HumanLabelScam
	}
	return r.ScamApplied
}

// Amendment is one entry in a record's human-label history. Prior values
// are never overwritten: each change appends a row linked to the record.
type Amendment struct {
	ID        int64       `db:"id" json:"id"`
	RecordID  string      `db:"record_id" json:"record_id"`
	PrevLabel *HumanLabel `db:"prev_label" json:"prev_label,omitempty"`
	NewLabel  HumanLabel  `db:"new_label" json:"new_label"`
	SetBy     int64       `db:"set_by" json:"set_by"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// EnforcementOp names a single transport sub-operation.
type EnforcementOp string

const (
	OpDeleteMessage EnforcementOp = "delete_message"
	OpWarn          EnforcementOp = "warn"
	OpMute          EnforcementOp = "mute"
	OpBan           EnforcementOp = "ban"
	OpChatNotice    EnforcementOp = "chat_notice"
	OpUnmute        EnforcementOp = "unmute"
	OpUnban         EnforcementOp = "unban"
)

// Enforcement records the outcome of one sub-operation. Sub-operations
// are independent; each gets its own row regardless of sibling outcomes.
type Enforcement struct {
	ID        int64         `db:"id" json:"id"`
	RecordID  string        `db:"record_id" json:"record_id"`
	Op        EnforcementOp `db:"op" json:"op"`
	OK        bool          `db:"ok" json:"ok"`
	Detail    string        `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// Chat is a known Telegram chat. Working chats under moderation carry an
// optional AdminChatID pointing at the chat that receives their review
// cards.
type Chat struct {
	ID          int64     `db:"chat_id" json:"chat_id"`
	Title       string    `db:"title" json:"title"`
	Type        string    `db:"type" json:"type"`
	AdminChatID *int64    `db:"admin_chat_id" json:"admin_chat_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// User is a Telegram user the bot has seen. Identity fields are refreshed
// on every sighting.
type User struct {
	ID                int64     `db:"user_id" json:"user_id"`
	Username          string    `db:"username" json:"username"`
	FirstName         string    `db:"first_name" json:"first_name"`
	LastName          string    `db:"last_name" json:"last_name"`
	GlobalWhitelisted bool      `db:"global_whitelisted" json:"global_whitelisted"`
	FirstSeenAt       time.Time `db:"first_seen_at" json:"first_seen_at"`
	LastSeenAt        time.Time `db:"last_seen_at" json:"last_seen_at"`
}

// DisplayName returns the best human-readable name for the user.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	default:
		return fmt.Sprintf("id %d", u.ID)
	}
}

// Member holds per-(chat, user) moderation state: the strike counter and
// the per-chat whitelist flag.
type Member struct {
	ChatID       int64      `db:"chat_id" json:"chat_id"`
	UserID       int64      `db:"user_id" json:"user_id"`
	Whitelisted  bool       `db:"whitelisted" json:"whitelisted"`
	StrikeCount  int        `db:"strike_count" json:"strike_count"`
	LastStrikeAt *time.Time `db:"last_strike_at" json:"last_strike_at,omitempty"`
}

// ChatStats is the aggregate behind the status and stats reports.
type ChatStats struct {
	Messages       int `db:"messages" json:"messages"`
	ModelScams     int `db:"model_scams" json:"model_scams"`
	HumanConfirmed int `db:"human_confirmed" json:"human_confirmed"`
	HumanRejected  int `db:"human_rejected" json:"human_rejected"`
	HumanLabeled   int `db:"human_labeled" json:"human_labeled"`
	RecentMessages int `db:"recent_messages" json:"recent_messages"`
}

// Add accumulates another chat's stats into s.
func (s *ChatStats) Add(o ChatStats) {
	s.Messages += o.Messages
	s.ModelScams += o.ModelScams
	s.HumanConfirmed += o.HumanConfirmed
	s.HumanRejected += o.HumanRejected
	s.HumanLabeled += o.HumanLabeled
	s.RecentMessages += o.RecentMessages
}

// Offender is one row of the top-offenders report.
type Offender struct {
	UserID    int64  `db:"user_id" json:"user_id"`
	Username  string `db:"username" json:"username"`
	FirstName string `db:"first_name" json:"first_name"`
	ScamCount int    `db:"scam_count" json:"scam_count"`
}

// ScamRecord is the joined view returned by the recent-scams report.
type ScamRecord struct {
	RecordID  string    `db:"record_id" json:"record_id"`
	ChatID    int64     `db:"chat_id" json:"chat_id"`
	ChatTitle string    `db:"chat_title" json:"chat_title"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Username  string    `db:"username" json:"username"`
	FirstName string    `db:"first_name" json:"first_name"`
	Text      string    `db:"text" json:"text"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
