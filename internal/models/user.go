package models

import "time"

// User is a marketplace account as seen by messaging. Role is either
// "seeker" or "poster".
type User struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128"`
	Email     string `gorm:"size:191"`
	Role      string `gorm:"size:16;not null;index"`
	Headline  string `gorm:"size:256"`
	AvatarURL string `gorm:"size:512"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PublicProfile is the subset of User safe to show to other users.
type PublicProfile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Headline  string `json:"headline,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Profile projects u to its public fields.
func (u *User) Profile() PublicProfile {
	return PublicProfile{
		ID:        u.ID,
		Name:      u.Name,
		Role:      u.Role,
		Headline:  u.Headline,
		AvatarURL: u.AvatarURL,
	}
}
