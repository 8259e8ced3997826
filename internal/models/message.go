package models

import "time"

// Message is one direct message between two users. The unordered
// (SenderID, ReceiverID) pair identifies the conversation it belongs to.
type Message struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SenderID   string    `gorm:"size:64;not null;index:idx_messages_pair,priority:1" json:"senderId"`
	ReceiverID string    `gorm:"size:64;not null;index:idx_messages_pair,priority:2;index" json:"receiverId"`
	Body       string    `gorm:"type:text;not null" json:"message"`
	IsRead     bool      `gorm:"default:false" json:"isRead"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Counterpart returns the other party of the message relative to user.
func (m *Message) Counterpart(user string) string {
	if m.SenderID == user {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether user is the sender or receiver of m.
func (m *Message) Involves(user string) bool {
	return m.SenderID == user || m.ReceiverID == user
}
