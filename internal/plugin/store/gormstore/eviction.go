package gormstore

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CountEvictableConversations counts conversations soft-deleted before cutoff.
func (s *Store) CountEvictableConversations(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	cutoff = cutoff.UTC()
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Count(&n).Error
	return n, s.wrap("count evictable conversations", err)
}

// FindEvictableConversationIDs returns up to limit conversations soft-deleted before cutoff, oldest first.
func (s *Store) FindEvictableConversationIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	cutoff = cutoff.UTC()
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
		Order("deleted_at, id").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, s.wrap("find evictable conversations", err)
	}
	return ids, nil
}

// HardDeleteConversations physically removes conversations and everything they own.
func (s *Store) HardDeleteConversations(ctx context.Context, conversationIDs []uuid.UUID) error {
	if len(conversationIDs) == 0 {
		return nil
	}
	return s.tx(ctx, "hard delete conversations", func(tx *gorm.DB) error {
		messageIDs := tx.Model(&model.Message{}).Select("id").Where("conversation_id IN ?", conversationIDs)
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&model.ReadReceipt{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id IN ?", conversationIDs).Delete(&model.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id IN ?", conversationIDs).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id IN ?", conversationIDs).Delete(&model.Participant{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", conversationIDs).Delete(&model.Conversation{}).Error
	})
}
