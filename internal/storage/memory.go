package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

type memberKey struct {
	chatID int64
	userID int64
}

// MemoryStorage is a map-backed Storage used for tests and for running
// without PostgreSQL. It mirrors the semantics of PostgresStorage,
// including conditional review transitions and strike clamping.
type MemoryStorage struct {
	mu            sync.RWMutex
	records       map[string]*models.Record
	order         []string // record ids in insertion order
	amendments    map[string][]models.Amendment
	enforcements  map[string][]models.Enforcement
	members       map[memberKey]*models.Member
	chats         map[int64]*models.Chat
	users         map[int64]*models.User
	enforcementID int64
	amendmentID   int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records:      make(map[string]*models.Record),
		amendments:   make(map[string][]models.Amendment),
		enforcements: make(map[string][]models.Enforcement),
		members:      make(map[memberKey]*models.Member),
		chats:        make(map[int64]*models.Chat),
		users:        make(map[int64]*models.User),
	}
}

func cloneRecord(rec *models.Record) *models.Record {
	c := *rec
	if rec.RawVerdict != nil {
		c.RawVerdict = append([]byte(nil), rec.RawVerdict...)
	}
	if rec.HumanLabel != nil {
		v := *rec.HumanLabel
		c.HumanLabel = &v
	}
	if rec.HumanLabeledBy != nil {
		v := *rec.HumanLabeledBy
		c.HumanLabeledBy = &v
	}
	if rec.HumanLabeledAt != nil {
		v := *rec.HumanLabeledAt
		c.HumanLabeledAt = &v
	}
	if rec.CardChatID != nil {
		v := *rec.CardChatID
		c.CardChatID = &v
	}
	if rec.CardMessageID != nil {
		v := *rec.CardMessageID
		c.CardMessageID = &v
	}
	return &c
}

func (s *MemoryStorage) CreateRecord(ctx context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("error creating record: duplicate id %s", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.records[rec.ID] = cloneRecord(rec)
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *MemoryStorage) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStorage) UpdateVerdict(ctx context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.records[rec.ID]
	if !exists {
		return ErrNotFound
	}

	stored.Label = rec.Label
	stored.Category = rec.Category
	stored.Confidence = rec.Confidence
	stored.Reason = rec.Reason
	stored.RawVerdict = append([]byte(nil), rec.RawVerdict...)
	stored.ModelVersion = rec.ModelVersion
	stored.ScamApplied = rec.ScamApplied
	stored.SkippedReason = rec.SkippedReason
	stored.Tier = rec.Tier
	stored.StrikeApplied = rec.StrikeApplied
	stored.ReviewState = rec.ReviewState
	return nil
}

func (s *MemoryStorage) TransitionReview(ctx context.Context, id string, from, to models.ReviewState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists || rec.ReviewState != from {
		return false, nil
	}
	rec.ReviewState = to
	return true, nil
}

func (s *MemoryStorage) AmendHumanLabel(ctx context.Context, id string, label models.HumanLabel, setBy int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return ErrNotFound
	}

	// Re-delivering the same decision must not stack amendment rows.
	if rec.HumanLabel != nil && *rec.HumanLabel == label &&
		rec.HumanLabeledBy != nil && *rec.HumanLabeledBy == setBy {
		return nil
	}

	var prev *models.HumanLabel
	if rec.HumanLabel != nil {
		v := *rec.HumanLabel
		prev = &v
	}

	s.amendmentID++
	s.amendments[id] = append(s.amendments[id], models.Amendment{
		ID:        s.amendmentID,
		RecordID:  id,
		PrevLabel: prev,
		NewLabel:  label,
		SetBy:     setBy,
		CreatedAt: at,
	})

	l := label
	by := setBy
	when := at
	rec.HumanLabel = &l
	rec.HumanLabeledBy = &by
	rec.HumanLabeledAt = &when
	return nil
}

func (s *MemoryStorage) ListAmendments(ctx context.Context, recordID string) ([]models.Amendment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Amendment(nil), s.amendments[recordID]...), nil
}

func (s *MemoryStorage) AddEnforcement(ctx context.Context, e *models.Enforcement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enforcementID++
	e.ID = s.enforcementID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.enforcements[e.RecordID] = append(s.enforcements[e.RecordID], *e)
	return nil
}

func (s *MemoryStorage) ListEnforcements(ctx context.Context, recordID string) ([]models.Enforcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Enforcement(nil), s.enforcements[recordID]...), nil
}

func (s *MemoryStorage) MarkStrikeReversed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return ErrNotFound
	}
	rec.StrikeReversed = true
	return nil
}

func (s *MemoryStorage) SetReviewCard(ctx context.Context, id string, chatID int64, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return ErrNotFound
	}
	rec.CardChatID = &chatID
	rec.CardMessageID = &messageID
	return nil
}

func (s *MemoryStorage) ExpirePendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*models.Record
	for _, id := range s.order {
		rec := s.records[id]
		if rec.ReviewState == models.ReviewPending && rec.CreatedAt.Before(cutoff) {
			rec.ReviewState = models.ReviewUnreviewed
			expired = append(expired, cloneRecord(rec))
		}
	}
	return expired, nil
}

func (s *MemoryStorage) ListUnclassified(ctx context.Context, limit int) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*models.Record
	for _, id := range s.order {
		if len(records) >= limit {
			break
		}
		rec := s.records[id]
		if rec.Label == models.LabelUnknown {
			records = append(records, cloneRecord(rec))
		}
	}
	return records, nil
}

func (s *MemoryStorage) CountPending(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rec := range s.records {
		if rec.ReviewState == models.ReviewPending {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) IncrementStrike(ctx context.Context, chatID, userID int64, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey{chatID, userID}
	member, exists := s.members[key]
	if !exists {
		member = &models.Member{ChatID: chatID, UserID: userID}
		s.members[key] = member
	}
	member.StrikeCount++
	when := at
	member.LastStrikeAt = &when
	return member.StrikeCount, nil
}

func (s *MemoryStorage) ReverseStrike(ctx context.Context, chatID, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	member, exists := s.members[memberKey{chatID, userID}]
	if !exists {
		return 0, nil
	}
	if member.StrikeCount > 0 {
		member.StrikeCount--
	}
	return member.StrikeCount, nil
}

func (s *MemoryStorage) GetMember(ctx context.Context, chatID, userID int64) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	member, exists := s.members[memberKey{chatID, userID}]
	if !exists {
		return &models.Member{ChatID: chatID, UserID: userID}, nil
	}

	c := *member
	if member.LastStrikeAt != nil {
		v := *member.LastStrikeAt
		c.LastStrikeAt = &v
	}
	return &c, nil
}

func (s *MemoryStorage) SetMemberWhitelisted(ctx context.Context, chatID, userID int64, whitelisted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey{chatID, userID}
	member, exists := s.members[key]
	if !exists {
		member = &models.Member{ChatID: chatID, UserID: userID}
		s.members[key] = member
	}
	member.Whitelisted = whitelisted
	return nil
}

func (s *MemoryStorage) UpsertChat(ctx context.Context, chat *models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, exists := s.chats[chat.ID]
	if !exists {
		s.chats[chat.ID] = &models.Chat{
			ID:        chat.ID,
			Title:     chat.Title,
			Type:      chat.Type,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return nil
	}

	existing.Title = chat.Title
	existing.Type = chat.Type
	existing.UpdatedAt = now
	return nil
}

func (s *MemoryStorage) GetChat(ctx context.Context, chatID int64) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, exists := s.chats[chatID]
	if !exists {
		return nil, ErrNotFound
	}

	c := *chat
	if chat.AdminChatID != nil {
		v := *chat.AdminChatID
		c.AdminChatID = &v
	}
	return &c, nil
}

func (s *MemoryStorage) SetAdminChat(ctx context.Context, chatID, adminChatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	chat, exists := s.chats[chatID]
	if !exists {
		chat = &models.Chat{ID: chatID, CreatedAt: now}
		s.chats[chatID] = chat
	}
	chat.AdminChatID = &adminChatID
	chat.UpdatedAt = now
	return nil
}

func (s *MemoryStorage) ManagedChats(ctx context.Context, adminChatID int64) ([]*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var managed []*models.Chat
	for _, chat := range s.chats {
		if chat.AdminChatID != nil && *chat.AdminChatID == adminChatID {
			c := *chat
			v := *chat.AdminChatID
			c.AdminChatID = &v
			managed = append(managed, &c)
		}
	}

	sort.Slice(managed, func(i, j int) bool { return managed[i].ID < managed[j].ID })
	return managed, nil
}

func (s *MemoryStorage) IsAdminChat(ctx context.Context, chatID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, chat := range s.chats {
		if chat.AdminChatID != nil && *chat.AdminChatID == chatID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStorage) UpsertUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, exists := s.users[user.ID]
	if !exists {
		s.users[user.ID] = &models.User{
			ID:          user.ID,
			Username:    user.Username,
			FirstName:   user.FirstName,
			LastName:    user.LastName,
			FirstSeenAt: now,
			LastSeenAt:  now,
		}
		return nil
	}

	existing.Username = user.Username
	existing.FirstName = user.FirstName
	existing.LastName = user.LastName
	existing.LastSeenAt = now
	return nil
}

func (s *MemoryStorage) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[userID]
	if !exists {
		return nil, ErrNotFound
	}

	c := *user
	return &c, nil
}

func (s *MemoryStorage) SetGlobalWhitelisted(ctx context.Context, userID int64, whitelisted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	user, exists := s.users[userID]
	if !exists {
		user = &models.User{ID: userID, FirstSeenAt: now, LastSeenAt: now}
		s.users[userID] = user
	}
	user.GlobalWhitelisted = whitelisted
	return nil
}

func effectiveScam(rec *models.Record) bool {
	if rec.HumanLabel != nil {
		return *rec.HumanLabel == models.HumanLabelScam
	}
	return rec.ScamApplied
}

func (s *MemoryStorage) statsLocked(chatID *int64, since time.Time) *models.ChatStats {
	stats := &models.ChatStats{}
	for _, rec := range s.records {
		if chatID != nil && rec.ChatID != *chatID {
			continue
		}
		stats.Messages++
		if rec.ScamApplied {
			stats.ModelScams++
		}
		if rec.HumanLabel != nil {
			stats.HumanLabeled++
			if *rec.HumanLabel == models.HumanLabelScam {
				stats.HumanConfirmed++
			} else {
				stats.HumanRejected++
			}
		}
		if rec.CreatedAt.After(since) {
			stats.RecentMessages++
		}
	}
	return stats
}

func (s *MemoryStorage) ChatStats(ctx context.Context, chatID int64, recentWindow time.Duration) (*models.ChatStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.statsLocked(&chatID, time.Now().UTC().Add(-recentWindow)), nil
}

func (s *MemoryStorage) GlobalStats(ctx context.Context, recentWindow time.Duration) (*models.ChatStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.statsLocked(nil, time.Now().UTC().Add(-recentWindow)), nil
}

func (s *MemoryStorage) TopOffenders(ctx context.Context, chatIDs []int64, limit int) ([]models.Offender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope := chatIDSet(chatIDs)
	counts := make(map[int64]int)
	for _, rec := range s.records {
		if scope[rec.ChatID] && effectiveScam(rec) {
			counts[rec.UserID]++
		}
	}

	offenders := make([]models.Offender, 0, len(counts))
	for userID, count := range counts {
		offender := models.Offender{UserID: userID, ScamCount: count}
		if user, exists := s.users[userID]; exists {
			offender.Username = user.Username
			offender.FirstName = user.FirstName
		}
		offenders = append(offenders, offender)
	}

	sort.Slice(offenders, func(i, j int) bool {
		if offenders[i].ScamCount != offenders[j].ScamCount {
			return offenders[i].ScamCount > offenders[j].ScamCount
		}
		return offenders[i].UserID < offenders[j].UserID
	})

	if len(offenders) > limit {
		offenders = offenders[:limit]
	}
	return offenders, nil
}

func (s *MemoryStorage) RecentScams(ctx context.Context, chatIDs []int64, limit int) ([]models.ScamRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope := chatIDSet(chatIDs)
	var records []models.ScamRecord
	for _, id := range s.order {
		rec := s.records[id]
		if !scope[rec.ChatID] || !effectiveScam(rec) {
			continue
		}

		sr := models.ScamRecord{
			RecordID:  rec.ID,
			ChatID:    rec.ChatID,
			UserID:    rec.UserID,
			Text:      rec.Text,
			CreatedAt: rec.CreatedAt,
		}
		if chat, exists := s.chats[rec.ChatID]; exists {
			sr.ChatTitle = chat.Title
		}
		if user, exists := s.users[rec.UserID]; exists {
			sr.Username = user.Username
			sr.FirstName = user.FirstName
		}
		records = append(records, sr)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func chatIDSet(chatIDs []int64) map[int64]bool {
	set := make(map[int64]bool, len(chatIDs))
	for _, id := range chatIDs {
		set[id] = true
	}
	return set
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
