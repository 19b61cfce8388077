package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresStorage struct {
	db *sqlx.DB
}

func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.migrateSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error migrating database schema: %w", err)
	}

	return storage, nil
}

// newPostgresStorageWithDB wraps an existing connection without running
// migrations. Tests use it with a stub database.
func newPostgresStorageWithDB(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: sqlx.NewDb(db, "postgres")}
}

func (s *PostgresStorage) migrateSchema() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("error reading embedded migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(s.db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("error creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("error creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error applying migrations: %w", err)
	}

	return nil
}

// wrapErr maps retryable PostgreSQL failures to ErrConflict so callers can
// retry, and wraps everything else with the operation name.
func wrapErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%s: %w (%s)", op, ErrConflict, pqErr.Code)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

const createRecordQuery = `
	INSERT INTO messages (
		id, chat_id, user_id, message_id, text,
		label, category, confidence, reason, raw_verdict, model_version,
		scam_applied, skipped_reason, tier, strike_applied, strike_reversed,
		review_state, created_at
	) VALUES (
		:id, :chat_id, :user_id, :message_id, :text,
		:label, :category, :confidence, :reason, :raw_verdict, :model_version,
		:scam_applied, :skipped_reason, :tier, :strike_applied, :strike_reversed,
		:review_state, :created_at
	)`

func (s *PostgresStorage) CreateRecord(ctx context.Context, rec *models.Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if _, err := s.db.NamedExecContext(ctx, createRecordQuery, rec); err != nil {
		return wrapErr("error creating record", err)
	}

	return nil
}

func (s *PostgresStorage) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	var rec models.Record
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM messages WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("error querying record", err)
	}

	return &rec, nil
}

const updateVerdictQuery = `
	UPDATE messages SET
		label = :label,
		category = :category,
		confidence = :confidence,
		reason = :reason,
		raw_verdict = :raw_verdict,
		model_version = :model_version,
		scam_applied = :scam_applied,
		skipped_reason = :skipped_reason,
		tier = :tier,
		strike_applied = :strike_applied,
		review_state = :review_state
	WHERE id = :id`

func (s *PostgresStorage) UpdateVerdict(ctx context.Context, rec *models.Record) error {
	result, err := s.db.NamedExecContext(ctx, updateVerdictQuery, rec)
	if err != nil {
		return wrapErr("error updating verdict", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) TransitionReview(ctx context.Context, id string, from, to models.ReviewState) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET review_state = $1 WHERE id = $2 AND review_state = $3`,
		to, id, from)
	if err != nil {
		return false, wrapErr("error transitioning review state", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func (s *PostgresStorage) AmendHumanLabel(ctx context.Context, id string, label models.HumanLabel, setBy int64, at time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr("error starting amendment", err)
	}
	defer tx.Rollback()

	var current struct {
		Label sql.NullString `db:"human_label"`
		SetBy sql.NullInt64  `db:"human_labeled_by"`
	}
	err = tx.GetContext(ctx, &current,
		`SELECT human_label, human_labeled_by FROM messages WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return wrapErr("error locking record", err)
	}

	// Re-delivering the same decision must not stack amendment rows.
	if current.Label.Valid && current.Label.String == string(label) &&
		current.SetBy.Valid && current.SetBy.Int64 == setBy {
		return tx.Commit()
	}

	var prevLabel *string
	if current.Label.Valid {
		prevLabel = &current.Label.String
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO amendments (record_id, prev_label, new_label, set_by, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, prevLabel, label, setBy, at)
	if err != nil {
		return wrapErr("error appending amendment", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE messages SET human_label = $2, human_labeled_by = $3, human_labeled_at = $4 WHERE id = $1`,
		id, label, setBy, at)
	if err != nil {
		return wrapErr("error applying human label", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("error committing amendment", err)
	}

	return nil
}

func (s *PostgresStorage) ListAmendments(ctx context.Context, recordID string) ([]models.Amendment, error) {
	var amendments []models.Amendment
	err := s.db.SelectContext(ctx, &amendments,
		`SELECT * FROM amendments WHERE record_id = $1 ORDER BY id`, recordID)
	if err != nil {
		return nil, wrapErr("error querying amendments", err)
	}

	return amendments, nil
}

func (s *PostgresStorage) AddEnforcement(ctx context.Context, e *models.Enforcement) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO enforcements (record_id, op, ok, detail)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		e.RecordID, e.Op, e.OK, e.Detail).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return wrapErr("error recording enforcement", err)
	}

	return nil
}

func (s *PostgresStorage) ListEnforcements(ctx context.Context, recordID string) ([]models.Enforcement, error) {
	var enforcements []models.Enforcement
	err := s.db.SelectContext(ctx, &enforcements,
		`SELECT * FROM enforcements WHERE record_id = $1 ORDER BY id`, recordID)
	if err != nil {
		return nil, wrapErr("error querying enforcements", err)
	}

	return enforcements, nil
}

func (s *PostgresStorage) MarkStrikeReversed(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET strike_reversed = TRUE WHERE id = $1`, id)
	if err != nil {
		return wrapErr("error marking strike reversed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) SetReviewCard(ctx context.Context, id string, chatID int64, messageID int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET card_chat_id = $2, card_message_id = $3 WHERE id = $1`,
		id, chatID, messageID)
	if err != nil {
		return wrapErr("error storing review card", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) ExpirePendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Record, error) {
	rows, err := s.db.QueryxContext(ctx,
		`UPDATE messages SET review_state = 'unreviewed'
		 WHERE review_state = 'pending' AND created_at < $1
		 RETURNING *`, cutoff)
	if err != nil {
		return nil, wrapErr("error expiring pending reviews", err)
	}
	defer rows.Close()

	var expired []*models.Record
	for rows.Next() {
		var rec models.Record
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("error scanning expired record: %w", err)
		}
		expired = append(expired, &rec)
	}

	return expired, rows.Err()
}

func (s *PostgresStorage) ListUnclassified(ctx context.Context, limit int) ([]*models.Record, error) {
	var records []*models.Record
	err := s.db.SelectContext(ctx, &records,
		`SELECT * FROM messages WHERE label = 'UNKNOWN' ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, wrapErr("error querying unclassified records", err)
	}

	return records, nil
}

func (s *PostgresStorage) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages WHERE review_state = 'pending'`)
	if err != nil {
		return 0, wrapErr("error counting pending reviews", err)
	}

	return count, nil
}

const incrementStrikeQuery = `
	INSERT INTO chat_members (chat_id, user_id, strike_count, last_strike_at)
	VALUES ($1, $2, 1, $3)
	ON CONFLICT (chat_id, user_id)
	DO UPDATE SET
		strike_count = chat_members.strike_count + 1,
		last_strike_at = EXCLUDED.last_strike_at
	RETURNING strike_count`

func (s *PostgresStorage) IncrementStrike(ctx context.Context, chatID, userID int64, at time.Time) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, incrementStrikeQuery, chatID, userID, at); err != nil {
		return 0, wrapErr("error incrementing strike", err)
	}

	return count, nil
}

func (s *PostgresStorage) ReverseStrike(ctx context.Context, chatID, userID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`UPDATE chat_members SET strike_count = GREATEST(strike_count - 1, 0)
		 WHERE chat_id = $1 AND user_id = $2
		 RETURNING strike_count`, chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		// No row means no strikes were ever recorded; the reversal
		// clamps at zero.
		return 0, nil
	}
	if err != nil {
		return 0, wrapErr("error reversing strike", err)
	}

	return count, nil
}

func (s *PostgresStorage) GetMember(ctx context.Context, chatID, userID int64) (*models.Member, error) {
	var member models.Member
	err := s.db.GetContext(ctx, &member,
		`SELECT * FROM chat_members WHERE chat_id = $1 AND user_id = $2`, chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Member{ChatID: chatID, UserID: userID}, nil
	}
	if err != nil {
		return nil, wrapErr("error querying member", err)
	}

	return &member, nil
}

func (s *PostgresStorage) SetMemberWhitelisted(ctx context.Context, chatID, userID int64, whitelisted bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_members (chat_id, user_id, whitelisted)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (chat_id, user_id)
		 DO UPDATE SET whitelisted = EXCLUDED.whitelisted`,
		chatID, userID, whitelisted)
	if err != nil {
		return wrapErr("error updating member whitelist", err)
	}

	return nil
}

func (s *PostgresStorage) UpsertChat(ctx context.Context, chat *models.Chat) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (chat_id, title, type)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (chat_id)
		 DO UPDATE SET title = EXCLUDED.title, type = EXCLUDED.type, updated_at = now()`,
		chat.ID, chat.Title, chat.Type)
	if err != nil {
		return wrapErr("error upserting chat", err)
	}

	return nil
}

func (s *PostgresStorage) GetChat(ctx context.Context, chatID int64) (*models.Chat, error) {
	var chat models.Chat
	err := s.db.GetContext(ctx, &chat, `SELECT * FROM chats WHERE chat_id = $1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("error querying chat", err)
	}

	return &chat, nil
}

func (s *PostgresStorage) SetAdminChat(ctx context.Context, chatID, adminChatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (chat_id, admin_chat_id)
		 VALUES ($1, $2)
		 ON CONFLICT (chat_id)
		 DO UPDATE SET admin_chat_id = EXCLUDED.admin_chat_id, updated_at = now()`,
		chatID, adminChatID)
	if err != nil {
		return wrapErr("error linking admin chat", err)
	}

	return nil
}

func (s *PostgresStorage) ManagedChats(ctx context.Context, adminChatID int64) ([]*models.Chat, error) {
	var chats []*models.Chat
	err := s.db.SelectContext(ctx, &chats,
		`SELECT * FROM chats WHERE admin_chat_id = $1 ORDER BY chat_id`, adminChatID)
	if err != nil {
		return nil, wrapErr("error querying managed chats", err)
	}

	return chats, nil
}

func (s *PostgresStorage) IsAdminChat(ctx context.Context, chatID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM chats WHERE admin_chat_id = $1)`, chatID)
	if err != nil {
		return false, wrapErr("error checking admin chat", err)
	}

	return exists, nil
}

func (s *PostgresStorage) UpsertUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, username, first_name, last_name)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id)
		 DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			last_seen_at = now()`,
		user.ID, user.Username, user.FirstName, user.LastName)
	if err != nil {
		return wrapErr("error upserting user", err)
	}

	return nil
}

func (s *PostgresStorage) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("error querying user", err)
	}

	return &user, nil
}

func (s *PostgresStorage) SetGlobalWhitelisted(ctx context.Context, userID int64, whitelisted bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, global_whitelisted)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id)
		 DO UPDATE SET global_whitelisted = EXCLUDED.global_whitelisted`,
		userID, whitelisted)
	if err != nil {
		return wrapErr("error updating global whitelist", err)
	}

	return nil
}

// effectiveScamCond selects records that count as scam after human review:
// the human label wins whenever present, the model verdict otherwise.
const effectiveScamCond = `(human_label = 'SCAM' OR (human_label IS NULL AND scam_applied))`

const chatStatsQuery = `
	SELECT
		COUNT(*) AS messages,
		COUNT(*) FILTER (WHERE scam_applied) AS model_scams,
		COUNT(*) FILTER (WHERE human_label = 'SCAM') AS human_confirmed,
		COUNT(*) FILTER (WHERE human_label = 'NOT_SCAM') AS human_rejected,
		COUNT(*) FILTER (WHERE human_label IS NOT NULL) AS human_labeled,
		COUNT(*) FILTER (WHERE created_at > $2) AS recent_messages
	FROM messages
	WHERE chat_id = $1`

func (s *PostgresStorage) ChatStats(ctx context.Context, chatID int64, recentWindow time.Duration) (*models.ChatStats, error) {
	var stats models.ChatStats
	since := time.Now().UTC().Add(-recentWindow)
	if err := s.db.GetContext(ctx, &stats, chatStatsQuery, chatID, since); err != nil {
		return nil, wrapErr("error querying chat stats", err)
	}

	return &stats, nil
}

const globalStatsQuery = `
	SELECT
		COUNT(*) AS messages,
		COUNT(*) FILTER (WHERE scam_applied) AS model_scams,
		COUNT(*) FILTER (WHERE human_label = 'SCAM') AS human_confirmed,
		COUNT(*) FILTER (WHERE human_label = 'NOT_SCAM') AS human_rejected,
		COUNT(*) FILTER (WHERE human_label IS NOT NULL) AS human_labeled,
		COUNT(*) FILTER (WHERE created_at > $1) AS recent_messages
	FROM messages`

func (s *PostgresStorage) GlobalStats(ctx context.Context, recentWindow time.Duration) (*models.ChatStats, error) {
	var stats models.ChatStats
	since := time.Now().UTC().Add(-recentWindow)
	if err := s.db.GetContext(ctx, &stats, globalStatsQuery, since); err != nil {
		return nil, wrapErr("error querying global stats", err)
	}

	return &stats, nil
}

func (s *PostgresStorage) TopOffenders(ctx context.Context, chatIDs []int64, limit int) ([]models.Offender, error) {
	var offenders []models.Offender
	err := s.db.SelectContext(ctx, &offenders,
		`SELECT
			m.user_id,
			COALESCE(u.username, '') AS username,
			COALESCE(u.first_name, '') AS first_name,
			COUNT(*) AS scam_count
		 FROM messages m
		 LEFT JOIN users u ON u.user_id = m.user_id
		 WHERE m.chat_id = ANY($1) AND `+effectiveScamCond+`
		 GROUP BY m.user_id, u.username, u.first_name
		 ORDER BY scam_count DESC, m.user_id
		 LIMIT $2`, pq.Array(chatIDs), limit)
	if err != nil {
		return nil, wrapErr("error querying top offenders", err)
	}

	return offenders, nil
}

func (s *PostgresStorage) RecentScams(ctx context.Context, chatIDs []int64, limit int) ([]models.ScamRecord, error) {
	var records []models.ScamRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT
			m.id AS record_id,
			m.chat_id,
			COALESCE(c.title, '') AS chat_title,
			m.user_id,
			COALESCE(u.username, '') AS username,
			COALESCE(u.first_name, '') AS first_name,
			m.text,
			m.created_at
		 FROM messages m
		 LEFT JOIN chats c ON c.chat_id = m.chat_id
		 LEFT JOIN users u ON u.user_id = m.user_id
		 WHERE m.chat_id = ANY($1) AND `+effectiveScamCond+`
		 ORDER BY m.created_at DESC
		 LIMIT $2`, pq.Array(chatIDs), limit)
	if err != nil {
		return nil, wrapErr("error querying recent scams", err)
	}

	return records, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
