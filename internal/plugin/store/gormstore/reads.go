package gormstore

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// A participant's watermark is the exact message key when last_seen_message_id is set,
// otherwise the timestamp COALESCE(last_seen_at, joined_at).

const unreadPredicate = `((p.last_seen_message_id IS NULL AND m.created_at > COALESCE(p.last_seen_at, p.joined_at))
	OR (p.last_seen_message_id IS NOT NULL AND (m.created_at > p.last_seen_message_created_at
		OR (m.created_at = p.last_seen_message_created_at AND m.id > p.last_seen_message_id))))`

// advanceSQL moves the watermark to a message key only when that key is after the current watermark.
const advanceSQL = `UPDATE participants
SET last_seen_message_id = ?, last_seen_message_created_at = ?, last_seen_at = ?
WHERE conversation_id = ? AND user_id = ? AND deleted_at IS NULL AND (
	(last_seen_message_id IS NULL AND ? > COALESCE(last_seen_at, joined_at))
	OR (last_seen_message_id IS NOT NULL AND (last_seen_message_created_at < ?
		OR (last_seen_message_created_at = ? AND last_seen_message_id < ?))))`

func advanceWatermark(tx *gorm.DB, conversationID, userID uuid.UUID, key model.Key, seenAt time.Time) (bool, error) {
	res := tx.Exec(advanceSQL,
		key.ID, key.CreatedAt, seenAt,
		conversationID, userID,
		key.CreatedAt,
		key.CreatedAt, key.CreatedAt, key.ID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// unreadAgainst reports whether key is after the participant's watermark.
func unreadAgainst(p *model.Participant, key model.Key) bool {
	if p.LastSeenMessageID != nil && p.LastSeenMessageCreatedAt != nil {
		seen := model.Key{CreatedAt: *p.LastSeenMessageCreatedAt, ID: *p.LastSeenMessageID}
		return seen.Less(key)
	}
	since := p.JoinedAt
	if p.LastSeenAt != nil {
		since = *p.LastSeenAt
	}
	return key.CreatedAt.After(since)
}

func countUnread(tx *gorm.DB, conversationID, userID uuid.UUID) (int64, error) {
	var n int64
	err := tx.Table("messages AS m").
		Joins("JOIN participants AS p ON p.conversation_id = m.conversation_id AND p.user_id = ?", userID).
		Where("m.conversation_id = ? AND m.deleted_at IS NULL AND m.author_id <> ?", conversationID, userID).
		Where(unreadPredicate).
		Count(&n).Error
	return n, err
}

// MarkRead upserts the caller's receipt for the message and advances its watermark.
// Acknowledgements older than the current watermark keep the watermark in place.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID, messageID uuid.UUID) (*registrystore.ReadResult, error) {
	result := &registrystore.ReadResult{ConversationID: conversationID, MessageID: messageID, UserID: userID}
	err := s.tx(ctx, "mark read", func(tx *gorm.DB) error {
		if _, err := activeParticipant(tx, conversationID, userID); err != nil {
			return err
		}
		msg, err := liveMessage(tx, conversationID, messageID)
		if err != nil {
			return err
		}
		now := s.ids.Now()
		if err := upsertReceipt(tx, &model.ReadReceipt{MessageID: messageID, UserID: userID, SeenAt: now}); err != nil {
			return err
		}
		result.SeenAt = now
		result.Advanced, err = advanceWatermark(tx, conversationID, userID, msg.Key(), now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkUnread moves the watermark to one microsecond before the newest message so that
// message counts as unread again.
func (s *Store) MarkUnread(ctx context.Context, conversationID, userID uuid.UUID) error {
	return s.tx(ctx, "mark unread", func(tx *gorm.DB) error {
		if _, err := activeParticipant(tx, conversationID, userID); err != nil {
			return err
		}
		newest, err := lastMessage(tx, conversationID)
		if err != nil {
			return err
		}
		since := time.Unix(0, 0).UTC()
		if newest != nil {
			since = newest.CreatedAt.Add(-time.Microsecond)
		}
		return tx.Model(&model.Participant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Updates(map[string]any{
				"last_seen_at":                 since,
				"last_seen_message_id":         nil,
				"last_seen_message_created_at": nil,
			}).Error
	})
}

// UnreadCount counts live messages by other authors after the caller's watermark.
func (s *Store) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	db := s.db.WithContext(ctx)
	if _, err := activeParticipant(db, conversationID, userID); err != nil {
		return 0, s.wrap("unread count", err)
	}
	n, err := countUnread(db, conversationID, userID)
	if err != nil {
		return 0, s.wrap("unread count", err)
	}
	return n, nil
}

// IsConversationUnread reports whether the newest live message is after the caller's watermark.
func (s *Store) IsConversationUnread(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	db := s.db.WithContext(ctx)
	p, err := activeParticipant(db, conversationID, userID)
	if err != nil {
		return false, s.wrap("is unread", err)
	}
	newest, err := lastMessage(db, conversationID)
	if err != nil {
		return false, s.wrap("is unread", err)
	}
	if newest == nil {
		return false, nil
	}
	return unreadAgainst(p, newest.Key()), nil
}
