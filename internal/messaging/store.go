// Package messaging persists direct messages between marketplace users and
// answers the conversation queries built on them.
package messaging

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/jobchat/internal/models"
	"gorm.io/gorm"
)

// Defaults used when StoreOpts leaves a field zero.
const (
	DefaultDuplicateWindow = 5 * time.Second
	DefaultSentinelBody    = "Chat initiated"
)

// StoreOpts holds optional parameters for a Store.
type StoreOpts struct {
	Now             func() time.Time // defaults to time.Now
	DuplicateWindow time.Duration    // Submit's idempotence window
	SentinelBody    string           // body of the message that marks a new conversation
}

// Store is the message store. It is safe for concurrent use.
type Store struct {
	db       *gorm.DB
	now      func() time.Time
	window   time.Duration
	sentinel string

	// initMu serializes Initiate so the REST and gateway paths cannot both
	// create a sentinel for the same pair.
	initMu sync.Mutex
}

// NewStore creates a Store over db.
func NewStore(db *gorm.DB, opts StoreOpts) (*Store, error) {
	if db == nil {
		return nil, invalid("db is required")
	}
	s := &Store{
		db:       db,
		now:      opts.Now,
		window:   opts.DuplicateWindow,
		sentinel: opts.SentinelBody,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.window <= 0 {
		s.window = DefaultDuplicateWindow
	}
	if s.sentinel == "" {
		s.sentinel = DefaultSentinelBody
	}
	return s, nil
}

// SentinelBody returns the body used for conversation markers.
func (s *Store) SentinelBody() string { return s.sentinel }

// timestamp is the store clock in UTC, truncated to what MySQL datetime(3) keeps.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func validatePair(a, b string) error {
	if a == "" {
		return invalid("sender is required")
	}
	if b == "" {
		return invalid("receiver is required")
	}
	if a == b {
		return invalid("sender and receiver must differ")
	}
	return nil
}

// Append inserts a new message with a server-assigned timestamp.
func (s *Store) Append(ctx context.Context, sender, receiver, body string) (*models.Message, error) {
	if err := validatePair(sender, receiver); err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, invalid("message body is required")
	}

	now := s.timestamp()
	msg := models.Message{
		SenderID:   sender,
		ReceiverID: receiver,
		Body:       body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, storageErr("append", err)
	}
	return &msg, nil
}

// pair scopes a query to messages between a and b in either direction.
func pair(a, b string) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))", a, b, b, a)
	}
}

// History returns every message between a and b, oldest first. A pair
// with no messages yields an empty slice.
func (s *Store) History(ctx context.Context, a, b string) ([]models.Message, error) {
	if err := validatePair(a, b); err != nil {
		return nil, err
	}
	msgs := []models.Message{}
	if err := s.db.WithContext(ctx).Scopes(pair(a, b)).
		Order("created_at ASC").Order("id ASC").Find(&msgs).Error; err != nil {
		return nil, storageErr("history", err)
	}
	return msgs, nil
}

// ConversationPartners returns the distinct users that have exchanged at
// least one message with user, sorted.
func (s *Store) ConversationPartners(ctx context.Context, user string) ([]string, error) {
	if user == "" {
		return nil, invalid("user is required")
	}
	var rows []models.Message
	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Select("sender_id", "receiver_id").
		Where("(sender_id = ? OR receiver_id = ?)", user, user).
		Find(&rows).Error; err != nil {
		return nil, storageErr("partners", err)
	}

	set := make(map[string]struct{}, len(rows))
	for i := range rows {
		if other := rows[i].Counterpart(user); other != user {
			set[other] = struct{}{}
		}
	}
	partners := make([]string, 0, len(set))
	for id := range set {
		partners = append(partners, id)
	}
	sort.Strings(partners)
	return partners, nil
}

// FindRecentDuplicate returns the newest message from sender to receiver
// with exactly body created within window of now, or nil.
func (s *Store) FindRecentDuplicate(ctx context.Context, sender, receiver, body string, window time.Duration) (*models.Message, error) {
	since := s.timestamp().Add(-window)
	var msgs []models.Message
	if err := s.db.WithContext(ctx).
		Where("sender_id = ? AND receiver_id = ? AND body = ? AND created_at >= ?", sender, receiver, body, since).
		Order("created_at DESC").Order("id DESC").Limit(1).
		Find(&msgs).Error; err != nil {
		return nil, storageErr("find duplicate", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// FindConversation returns the earliest message between a and b, or nil
// when they have never exchanged one.
func (s *Store) FindConversation(ctx context.Context, a, b string) (*models.Message, error) {
	var msgs []models.Message
	if err := s.db.WithContext(ctx).Scopes(pair(a, b)).
		Order("created_at ASC").Order("id ASC").Limit(1).
		Find(&msgs).Error; err != nil {
		return nil, storageErr("find conversation", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// Submit stores a message unless an identical one from the same sender to
// the same receiver was stored within the duplicate window, in which case
// that message is returned and created is false.
//
// The check is read-then-write, so two concurrent identical submissions
// can both be stored.
func (s *Store) Submit(ctx context.Context, sender, receiver, body string) (msg *models.Message, created bool, err error) {
	if err := validatePair(sender, receiver); err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, false, invalid("message body is required")
	}

	existing, err := s.FindRecentDuplicate(ctx, sender, receiver, body, s.window)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	msg, err = s.Append(ctx, sender, receiver, body)
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// Initiate returns the conversation marker for a and b, appending a
// sentinel message from a to b if the pair has no messages yet.
func (s *Store) Initiate(ctx context.Context, a, b string) (msg *models.Message, created bool, err error) {
	if err := validatePair(a, b); err != nil {
		return nil, false, err
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()

	existing, err := s.FindConversation(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	msg, err = s.Append(ctx, a, b, s.sentinel)
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// MarkRead flags every unread message from other to reader as read and
// returns how many changed.
func (s *Store) MarkRead(ctx context.Context, reader, other string) (int64, error) {
	if err := validatePair(other, reader); err != nil {
		return 0, err
	}
	result := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", other, reader, false).
		Updates(map[string]interface{}{"is_read": true, "updated_at": s.timestamp()})
	if result.Error != nil {
		return 0, storageErr("mark read", result.Error)
	}
	return result.RowsAffected, nil
}

// Unread returns the number of unread messages addressed to user, keyed by sender.
func (s *Store) Unread(ctx context.Context, user string) (map[string]int64, error) {
	if user == "" {
		return nil, invalid("user is required")
	}
	var rows []struct {
		SenderID string
		Count    int64
	}
	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Select("sender_id, COUNT(*) AS count").
		Where("receiver_id = ? AND is_read = ?", user, false).
		Group("sender_id").
		Scan(&rows).Error; err != nil {
		return nil, storageErr("unread", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.SenderID] = r.Count
	}
	return counts, nil
}
