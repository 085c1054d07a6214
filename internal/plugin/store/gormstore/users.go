package gormstore

import (
	"context"
	"strings"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureUser returns the user with the profile's external id, creating it on first sight.
// An existing user is returned unchanged.
func (s *Store) EnsureUser(ctx context.Context, profile registrystore.UserProfile) (*model.User, error) {
	if strings.TrimSpace(profile.ExternalID) == "" {
		return nil, &registrystore.ValidationError{Field: "externalId", Message: "is required"}
	}
	now, id := s.ids.Next()
	user := model.User{
		ID:          id,
		ExternalID:  profile.ExternalID,
		Email:       profile.Email,
		DisplayName: displayName(profile),
		ImageURL:    profile.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(&user).Error
	if err != nil {
		return nil, s.wrap("ensure user", err)
	}
	var stored model.User
	if err := db.Where("external_id = ?", profile.ExternalID).First(&stored).Error; err != nil {
		return nil, s.wrap("ensure user", err)
	}
	return &stored, nil
}

// UpsertUser creates the user or overwrites its profile fields.
func (s *Store) UpsertUser(ctx context.Context, profile registrystore.UserProfile) (*model.User, error) {
	if strings.TrimSpace(profile.ExternalID) == "" {
		return nil, &registrystore.ValidationError{Field: "externalId", Message: "is required"}
	}
	now, id := s.ids.Next()
	user := model.User{
		ID:          id,
		ExternalID:  profile.ExternalID,
		Email:       profile.Email,
		DisplayName: displayName(profile),
		ImageURL:    profile.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "image_url", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return nil, s.wrap("upsert user", err)
	}
	var stored model.User
	if err := db.Where("external_id = ?", profile.ExternalID).First(&stored).Error; err != nil {
		return nil, s.wrap("upsert user", err)
	}
	return &stored, nil
}

// MarkUserDeleted soft-deletes the user. Unknown users are ignored.
func (s *Store) MarkUserDeleted(ctx context.Context, externalID string) error {
	now := s.ids.Now()
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("external_id = ? AND deleted_at IS NULL", externalID).
		Updates(map[string]any{"deleted_at": now, "updated_at": now}).Error
	return s.wrap("delete user", err)
}

// GetUserByExternalID returns a user that has not been deleted.
func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	user, err := findOne[model.User](s.db.WithContext(ctx).Where("external_id = ? AND deleted_at IS NULL", externalID))
	if err != nil {
		return nil, s.wrap("get user", err)
	}
	if user == nil {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: externalID}
	}
	return user, nil
}

// SearchUsers matches display name or email case-insensitively, excluding the caller.
func (s *Store) SearchUsers(ctx context.Context, excludeUserID uuid.UUID, query string, limit int) ([]model.User, error) {
	if limit <= 0 {
		limit = 50
	}
	db := s.db.WithContext(ctx).Where("deleted_at IS NULL AND id <> ?", excludeUserID)
	if q := strings.TrimSpace(query); q != "" {
		pattern := containsPattern(q)
		db = db.Where(`LOWER(display_name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\'`, pattern, pattern)
	}
	var users []model.User
	if err := db.Order("display_name, id").Limit(limit).Find(&users).Error; err != nil {
		return nil, s.wrap("search users", err)
	}
	return users, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a case-folded LIKE pattern matching text literally.
// Queries using it must declare ESCAPE '\'.
func containsPattern(text string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(text)) + "%"
}

func displayName(p registrystore.UserProfile) string {
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		return name
	}
	if p.Email != "" {
		return p.Email
	}
	return p.ExternalID
}

// requireUsers fails with a validation error naming field when any id is not a live user.
func requireUsers(tx *gorm.DB, field string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	var count int64
	if err := tx.Model(&model.User{}).Where("id IN ? AND deleted_at IS NULL", ids).Count(&count).Error; err != nil {
		return err
	}
	if int(count) != len(ids) {
		return &registrystore.ValidationError{Field: field, Message: "references an unknown user"}
	}
	return nil
}
