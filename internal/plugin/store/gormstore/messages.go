package gormstore

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AppendMessage stores a message with its attachments, records the author's own
// read receipt, advances the author's watermark and bumps lastMessageAt in one transaction.
func (s *Store) AppendMessage(ctx context.Context, req registrystore.AppendRequest) (*registrystore.AppendResult, error) {
	if !req.Kind.Valid() {
		return nil, &registrystore.ValidationError{Field: "kind", Message: "unknown message kind"}
	}
	result := &registrystore.AppendResult{}
	err := s.tx(ctx, "append message", func(tx *gorm.DB) error {
		if _, err := activeParticipant(tx, req.ConversationID, req.AuthorID); err != nil {
			return err
		}
		newest, err := lockForAppend(tx, req.ConversationID)
		if err != nil {
			return err
		}
		createdAt, id := s.ids.NextAfter(newest)
		msg := model.Message{
			ID:             id,
			ConversationID: req.ConversationID,
			AuthorID:       req.AuthorID,
			Kind:           req.Kind,
			Body:           req.Body,
			HasImage:       len(req.Attachments) > 0,
			CreatedAt:      createdAt,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}

		msg.Attachments = make([]model.Attachment, 0, len(req.Attachments))
		for _, in := range req.Attachments {
			_, attachmentID := s.ids.Next()
			msg.Attachments = append(msg.Attachments, model.Attachment{
				ID:             attachmentID,
				MessageID:      id,
				ConversationID: req.ConversationID,
				UploaderID:     req.AuthorID,
				PublicID:       in.PublicID,
				SecureURL:      in.SecureURL,
				Width:          in.Width,
				Height:         in.Height,
				Bytes:          in.Bytes,
				Format:         in.Format,
				CreatedAt:      createdAt,
			})
		}
		if len(msg.Attachments) > 0 {
			if err := tx.Create(&msg.Attachments).Error; err != nil {
				return err
			}
		}

		receipt := model.ReadReceipt{MessageID: id, UserID: req.AuthorID, SeenAt: createdAt}
		if err := upsertReceipt(tx, &receipt); err != nil {
			return err
		}
		msg.ReadReceipts = []model.ReadReceipt{receipt}
		if _, err := advanceWatermark(tx, req.ConversationID, req.AuthorID, msg.Key(), createdAt); err != nil {
			return err
		}

		if err := tx.Model(&model.Conversation{}).Where("id = ?", req.ConversationID).
			Updates(map[string]any{"last_message_at": createdAt, "updated_at": createdAt}).Error; err != nil {
			return err
		}

		members, err := activeMemberIDs(tx, req.ConversationID)
		if err != nil {
			return err
		}
		authors, err := usersByID(tx, []uuid.UUID{req.AuthorID})
		if err != nil {
			return err
		}
		msg.Author = authors[req.AuthorID]
		result.Message = &msg
		result.Members = members
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// lockForAppend takes the conversation row's write lock and returns its lastMessageAt.
// Appends to one conversation are serialized from here to commit, so a timestamp drawn
// after this point sorts after every message already committed.
func lockForAppend(tx *gorm.DB, conversationID uuid.UUID) (time.Time, error) {
	if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).
		UpdateColumn("last_message_at", gorm.Expr("last_message_at")).Error; err != nil {
		return time.Time{}, err
	}
	var conv model.Conversation
	if err := tx.Select("last_message_at").Where("id = ?", conversationID).Take(&conv).Error; err != nil {
		return time.Time{}, err
	}
	return conv.LastMessageAt, nil
}

// FetchPage returns up to Limit messages strictly older than Before, oldest first.
func (s *Store) FetchPage(ctx context.Context, req registrystore.PageRequest) (*registrystore.MessagePage, error) {
	limit := registrystore.ClampPageLimit(req.Limit)
	db := s.db.WithContext(ctx)
	if _, err := activeParticipant(db, req.ConversationID, req.RequesterID); err != nil {
		return nil, s.wrap("fetch messages", err)
	}

	q := db.Where("conversation_id = ? AND deleted_at IS NULL", req.ConversationID)
	if req.Before != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))",
			req.Before.CreatedAt, req.Before.CreatedAt, req.Before.ID)
	}
	var rows []model.Message
	if err := q.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, s.wrap("fetch messages", err)
	}

	page := &registrystore.MessagePage{Items: rows}
	if len(rows) > limit {
		page.HasMore = true
		page.Items = rows[:limit]
	}
	for i, j := 0, len(page.Items)-1; i < j; i, j = i+1, j-1 {
		page.Items[i], page.Items[j] = page.Items[j], page.Items[i]
	}
	if page.HasMore {
		oldest := page.Items[0].Key()
		page.Next = &oldest
	}
	if err := hydrate(db, page.Items); err != nil {
		return nil, s.wrap("fetch messages", err)
	}
	return page, nil
}

// hydrate resolves attachments, read receipts and authors of msgs in place.
func hydrate(tx *gorm.DB, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(msgs))
	authorIDs := make([]uuid.UUID, len(msgs))
	index := make(map[uuid.UUID]int, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
		authorIDs[i] = msgs[i].AuthorID
		index[msgs[i].ID] = i
		msgs[i].Attachments = []model.Attachment{}
		msgs[i].ReadReceipts = []model.ReadReceipt{}
	}

	var attachments []model.Attachment
	if err := tx.Where("message_id IN ?", ids).Order("created_at, id").Find(&attachments).Error; err != nil {
		return err
	}
	for _, a := range attachments {
		i := index[a.MessageID]
		msgs[i].Attachments = append(msgs[i].Attachments, a)
	}

	var receipts []model.ReadReceipt
	if err := tx.Where("message_id IN ?", ids).Order("seen_at, user_id").Find(&receipts).Error; err != nil {
		return err
	}
	for _, r := range receipts {
		i := index[r.MessageID]
		msgs[i].ReadReceipts = append(msgs[i].ReadReceipts, r)
	}

	authors, err := usersByID(tx, dedupe(authorIDs))
	if err != nil {
		return err
	}
	for i := range msgs {
		msgs[i].Author = authors[msgs[i].AuthorID]
	}
	return nil
}

// lastMessage returns the newest live message of a conversation, or nil.
func lastMessage(tx *gorm.DB, conversationID uuid.UUID) (*model.Message, error) {
	return findOne[model.Message](tx.Where("conversation_id = ? AND deleted_at IS NULL", conversationID).
		Order("created_at DESC, id DESC"))
}

func liveMessage(tx *gorm.DB, conversationID, messageID uuid.UUID) (*model.Message, error) {
	msg, err := findOne[model.Message](tx.Where("id = ? AND conversation_id = ? AND deleted_at IS NULL", messageID, conversationID))
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
	}
	return msg, nil
}

// upsertReceipt writes the receipt, keeping the latest seenAt on conflict.
func upsertReceipt(tx *gorm.DB, receipt *model.ReadReceipt) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"seen_at"}),
	}).Create(receipt).Error
}
