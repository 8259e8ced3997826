// Package directory resolves marketplace users to the public profiles the
// messaging surfaces expose.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/jobchat/internal/config"
	"github.com/zulandar/jobchat/internal/messaging"
	"github.com/zulandar/jobchat/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Directory reads and writes the users table.
type Directory struct {
	db *gorm.DB
}

// New creates a Directory over db.
func New(db *gorm.DB) (*Directory, error) {
	if db == nil {
		return nil, fmt.Errorf("directory: db is required: %w", messaging.ErrValidation)
	}
	return &Directory{db: db}, nil
}

// Get loads a user by id.
func (d *Directory) Get(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, fmt.Errorf("directory: %w: user id is required", messaging.ErrValidation)
	}
	var u models.User
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("directory: user %q: %w", id, messaging.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("directory: get %q: %w: %w", id, messaging.ErrStorage, err)
	}
	return &u, nil
}

// Exists reports whether every id names a known user. The first missing id
// is returned as an ErrNotFound error.
func (d *Directory) Exists(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := d.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Contacts returns the profiles of every user in the opposite role to id.
func (d *Directory) Contacts(ctx context.Context, id string) ([]models.PublicProfile, error) {
	u, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.List(ctx, config.OppositeRole(u.Role))
}

// List returns profiles of all users with role, or of every user when role
// is empty, ordered by name then id.
func (d *Directory) List(ctx context.Context, role string) ([]models.PublicProfile, error) {
	q := d.db.WithContext(ctx).Order("name ASC").Order("id ASC")
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var users []models.User
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("directory: list %q: %w: %w", role, messaging.ErrStorage, err)
	}
	return profiles(users), nil
}

// Profiles resolves ids to profiles in the order given. Unknown ids are skipped.
func (d *Directory) Profiles(ctx context.Context, ids []string) ([]models.PublicProfile, error) {
	if len(ids) == 0 {
		return []models.PublicProfile{}, nil
	}
	var users []models.User
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("directory: profiles: %w: %w", messaging.ErrStorage, err)
	}
	byID := make(map[string]*models.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	out := make([]models.PublicProfile, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u.Profile())
		}
	}
	return out, nil
}

// Put creates or updates a user.
func (d *Directory) Put(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		return fmt.Errorf("directory: %w: user id is required", messaging.ErrValidation)
	}
	if !config.ValidRole(u.Role) {
		return fmt.Errorf("directory: %w: role %q must be seeker or poster", messaging.ErrValidation, u.Role)
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "role", "headline", "avatar_url", "updated_at"}),
	}).Create(u).Error
	if err != nil {
		return fmt.Errorf("directory: put %q: %w: %w", u.ID, messaging.ErrStorage, err)
	}
	return nil
}

func profiles(users []models.User) []models.PublicProfile {
	out := make([]models.PublicProfile, 0, len(users))
	for i := range users {
		out = append(out, users[i].Profile())
	}
	return out
}
