package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateDirect returns the direct conversation between the two users, creating it
// when none exists. The bool result reports whether a new conversation was created.
func (s *Store) CreateDirect(ctx context.Context, userA, userB uuid.UUID) (*registrystore.ConversationDetail, bool, error) {
	if userA == userB {
		return nil, false, &registrystore.ValidationError{Field: "otherUserId", Message: "cannot start a direct conversation with yourself"}
	}
	pairKey := model.PairKey(userA, userB)

	var (
		detail  *registrystore.ConversationDetail
		created bool
		err     error
	)
	// A concurrent create of the same pair loses on the pair_key unique index;
	// the second attempt then finds the winner's row.
	for attempt := 0; attempt < 2; attempt++ {
		created = false
		err = s.tx(ctx, "create direct conversation", func(tx *gorm.DB) error {
			if err := requireUsers(tx, "otherUserId", []uuid.UUID{userA, userB}); err != nil {
				return err
			}
			existing, err := findOne[model.Conversation](tx.Where("pair_key = ? AND deleted_at IS NULL", pairKey))
			if err != nil {
				return err
			}
			var conv model.Conversation
			rejoined := false
			if existing != nil {
				conv = *existing
				if rejoined, err = s.rejoin(tx, conv.ID, userA); err != nil {
					return err
				}
			} else {
				now, id := s.ids.Next()
				creator := userA
				conv = model.Conversation{
					ID:            id,
					Kind:          model.ConversationDirect,
					PairKey:       &pairKey,
					CreatedByID:   &creator,
					LastMessageAt: now,
					CreatedAt:     now,
					UpdatedAt:     now,
				}
				if err := tx.Create(&conv).Error; err != nil {
					return err
				}
				parts := []model.Participant{
					{ConversationID: id, UserID: userA, JoinedAt: now},
					{ConversationID: id, UserID: userB, JoinedAt: now},
				}
				if err := tx.Create(&parts).Error; err != nil {
					return err
				}
				created = true
			}
			if detail, err = loadDetail(tx, &conv); err != nil {
				return err
			}
			detail.Rejoined = rejoined
			return nil
		})
		var conflict *registrystore.ConflictError
		if !errors.As(err, &conflict) {
			break
		}
	}
	if err != nil {
		return nil, false, err
	}
	return detail, created, nil
}

// rejoin reactivates a participant that left a direct conversation it is reopening.
// It reports whether the participant had left.
func (s *Store) rejoin(tx *gorm.DB, conversationID, userID uuid.UUID) (bool, error) {
	res := tx.Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ? AND deleted_at IS NOT NULL", conversationID, userID).
		Updates(map[string]any{
			"deleted_at":                   nil,
			"archived_at":                  nil,
			"joined_at":                    s.ids.Now(),
			"last_seen_at":                 nil,
			"last_seen_message_id":         nil,
			"last_seen_message_created_at": nil,
		})
	return res.RowsAffected > 0, res.Error
}

// CreateGroup creates a group conversation for the creator and the deduplicated members.
func (s *Store) CreateGroup(ctx context.Context, req registrystore.CreateGroupRequest) (*registrystore.ConversationDetail, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, &registrystore.ValidationError{Field: "title", Message: "is required"}
	}
	members := dedupe(req.MemberIDs, req.CreatorID)
	if len(members) == 0 {
		return nil, &registrystore.ValidationError{Field: "participantIds", Message: "a group needs at least one other member"}
	}

	var detail *registrystore.ConversationDetail
	err := s.tx(ctx, "create group conversation", func(tx *gorm.DB) error {
		if err := requireUsers(tx, "participantIds", append([]uuid.UUID{req.CreatorID}, members...)); err != nil {
			return err
		}
		now, id := s.ids.Next()
		creator := req.CreatorID
		conv := model.Conversation{
			ID:            id,
			Kind:          model.ConversationGroup,
			Title:         &title,
			AvatarURL:     emptyToNil(req.AvatarURL),
			CreatedByID:   &creator,
			LastMessageAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		parts := make([]model.Participant, 0, len(members)+1)
		parts = append(parts, model.Participant{ConversationID: id, UserID: req.CreatorID, JoinedAt: now})
		for _, m := range members {
			parts = append(parts, model.Participant{ConversationID: id, UserID: m, JoinedAt: now})
		}
		if err := tx.Create(&parts).Error; err != nil {
			return err
		}
		var loadErr error
		detail, loadErr = loadDetail(tx, &conv)
		return loadErr
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// GetConversation returns the conversation if userID is an active participant.
func (s *Store) GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*registrystore.ConversationDetail, error) {
	db := s.db.WithContext(ctx)
	if _, err := activeParticipant(db, conversationID, userID); err != nil {
		return nil, s.wrap("get conversation", err)
	}
	conv, err := liveConversation(db, conversationID)
	if err != nil {
		return nil, s.wrap("get conversation", err)
	}
	detail, err := loadDetail(db, conv)
	if err != nil {
		return nil, s.wrap("get conversation", err)
	}
	return detail, nil
}

type conversationRow struct {
	model.Conversation
	MemberArchivedAt *time.Time
}

// ListConversations lists the live conversations userID is an active member of.
// The default list holds unarchived conversations by recent activity; the archived
// list is ordered by when the user archived them.
func (s *Store) ListConversations(ctx context.Context, userID uuid.UUID, query registrystore.ListConversationsQuery) ([]registrystore.ConversationSummary, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	db := s.db.WithContext(ctx)

	q := db.Table("participants").
		Select("conversations.*, participants.archived_at AS member_archived_at").
		Joins("JOIN conversations ON conversations.id = participants.conversation_id").
		Where("participants.user_id = ? AND participants.deleted_at IS NULL AND conversations.deleted_at IS NULL", userID)
	if query.Archived {
		q = q.Where("participants.archived_at IS NOT NULL").Order("participants.archived_at DESC, conversations.id DESC")
	} else {
		q = q.Where("participants.archived_at IS NULL").Order("conversations.last_message_at DESC, conversations.id DESC")
	}
	if text := strings.TrimSpace(query.Query); text != "" {
		pattern := containsPattern(text)
		q = q.Where(`(LOWER(conversations.title) LIKE ? ESCAPE '\' OR EXISTS (
			SELECT 1 FROM participants p2 JOIN users u ON u.id = p2.user_id
			WHERE p2.conversation_id = conversations.id AND p2.deleted_at IS NULL
			AND p2.user_id <> ? AND LOWER(u.display_name) LIKE ? ESCAPE '\'))`, pattern, userID, pattern)
	}

	var rows []conversationRow
	if err := q.Limit(limit).Scan(&rows).Error; err != nil {
		return nil, s.wrap("list conversations", err)
	}
	if len(rows) == 0 {
		return []registrystore.ConversationSummary{}, nil
	}

	convIDs := make([]uuid.UUID, len(rows))
	for i := range rows {
		convIDs[i] = rows[i].ID
	}
	var parts []model.Participant
	if err := db.Where("conversation_id IN ? AND deleted_at IS NULL", convIDs).
		Order("joined_at, user_id").Find(&parts).Error; err != nil {
		return nil, s.wrap("list conversations", err)
	}
	userIDs := make([]uuid.UUID, 0, len(parts))
	byConv := make(map[uuid.UUID][]model.Participant, len(rows))
	for _, p := range parts {
		byConv[p.ConversationID] = append(byConv[p.ConversationID], p)
		userIDs = append(userIDs, p.UserID)
	}
	users, err := usersByID(db, dedupe(userIDs))
	if err != nil {
		return nil, s.wrap("list conversations", err)
	}

	summaries := make([]registrystore.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		summary := registrystore.ConversationSummary{
			Conversation: row.Conversation,
			Participants: []model.User{},
			ArchivedAt:   row.MemberArchivedAt,
		}
		var self *model.Participant
		for i, p := range byConv[row.ID] {
			if u := users[p.UserID]; u != nil {
				summary.Participants = append(summary.Participants, *u)
			}
			if p.UserID == userID {
				self = &byConv[row.ID][i]
			}
		}
		last, err := lastMessage(db, row.ID)
		if err != nil {
			return nil, s.wrap("list conversations", err)
		}
		if last != nil {
			last.Author = users[last.AuthorID]
			summary.LastMessage = last
			summary.LastMessagePreview = model.Preview(last)
		}
		count, err := countUnread(db, row.ID, userID)
		if err != nil {
			return nil, s.wrap("list conversations", err)
		}
		summary.Unread = count
		if self != nil && last != nil {
			summary.IsUnread = unreadAgainst(self, last.Key())
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ModifyMembers adds and removes members of a group conversation. Adding an
// active member is a no-op; adding a former member reactivates it.
func (s *Store) ModifyMembers(ctx context.Context, conversationID, requesterID uuid.UUID, add, remove []uuid.UUID) (*registrystore.MembershipChange, error) {
	add = dedupe(add)
	remove = dedupe(remove)
	addSet := make(map[uuid.UUID]struct{}, len(add))
	for _, id := range add {
		addSet[id] = struct{}{}
	}
	for _, id := range remove {
		if _, ok := addSet[id]; ok {
			return nil, &registrystore.ValidationError{Field: "remove", Message: "a user cannot be added and removed at once"}
		}
	}

	change := &registrystore.MembershipChange{Added: []uuid.UUID{}, Removed: []uuid.UUID{}}
	err := s.tx(ctx, "modify members", func(tx *gorm.DB) error {
		conv, err := liveConversation(tx, conversationID)
		if err != nil {
			return err
		}
		if conv.Kind != model.ConversationGroup {
			return conversationNotFound(conversationID)
		}
		var requester int64
		if err := tx.Model(&model.Participant{}).
			Where("conversation_id = ? AND user_id = ? AND deleted_at IS NULL", conversationID, requesterID).
			Count(&requester).Error; err != nil {
			return err
		}
		if requester == 0 {
			return &registrystore.ForbiddenError{}
		}
		if err := requireUsers(tx, "add", add); err != nil {
			return err
		}

		now := s.ids.Now()
		for _, id := range add {
			var existing []model.Participant
			if err := tx.Where("conversation_id = ? AND user_id = ?", conversationID, id).
				Limit(1).Find(&existing).Error; err != nil {
				return err
			}
			switch {
			case len(existing) == 0:
				if err := tx.Create(&model.Participant{ConversationID: conversationID, UserID: id, JoinedAt: now}).Error; err != nil {
					return err
				}
			case existing[0].Active():
				continue
			default:
				if _, err := s.rejoin(tx, conversationID, id); err != nil {
					return err
				}
			}
			change.Added = append(change.Added, id)
		}
		for _, id := range remove {
			res := tx.Where("conversation_id = ? AND user_id = ?", conversationID, id).Delete(&model.Participant{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				change.Removed = append(change.Removed, id)
			}
		}
		if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).
			Update("updated_at", now).Error; err != nil {
			return err
		}
		conv.UpdatedAt = now
		change.Conversation = *conv
		change.Members, err = activeMemberIDs(tx, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// SetArchived toggles archivedAt on the caller's own participant row.
func (s *Store) SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archived bool) error {
	return s.tx(ctx, "archive conversation", func(tx *gorm.DB) error {
		return s.setArchived(tx, conversationID, userID, archived)
	})
}

func (s *Store) setArchived(tx *gorm.DB, conversationID, userID uuid.UUID, archived bool) error {
	if _, err := activeParticipant(tx, conversationID, userID); err != nil {
		return err
	}
	var value any
	if archived {
		value = s.ids.Now()
	}
	return tx.Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("archived_at", value).Error
}

// Leave marks the caller as a former member and archives the conversation for it.
// It returns every participant, including the one that left.
func (s *Store) Leave(ctx context.Context, conversationID, userID uuid.UUID) ([]uuid.UUID, error) {
	var members []uuid.UUID
	err := s.tx(ctx, "leave conversation", func(tx *gorm.DB) error {
		if _, err := activeParticipant(tx, conversationID, userID); err != nil {
			return err
		}
		now := s.ids.Now()
		if err := tx.Model(&model.Participant{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Updates(map[string]any{"deleted_at": now, "archived_at": now}).Error; err != nil {
			return err
		}
		var err error
		members, err = allMemberIDs(tx, conversationID)
		return err
	})
	return members, err
}

// UpdateMetadata changes a group's title or avatar and the caller's archive flag.
func (s *Store) UpdateMetadata(ctx context.Context, conversationID, userID uuid.UUID, update registrystore.MetadataUpdate) (*registrystore.ConversationDetail, error) {
	var detail *registrystore.ConversationDetail
	err := s.tx(ctx, "update conversation", func(tx *gorm.DB) error {
		if _, err := activeParticipant(tx, conversationID, userID); err != nil {
			return err
		}
		conv, err := liveConversation(tx, conversationID)
		if err != nil {
			return err
		}
		if (update.Title != nil || update.AvatarURL != nil) && conv.Kind == model.ConversationDirect {
			return &registrystore.ValidationError{Field: "title", Message: "direct conversations have no title or avatar"}
		}
		changes := map[string]any{}
		if update.Title != nil {
			title := strings.TrimSpace(*update.Title)
			if title == "" {
				return &registrystore.ValidationError{Field: "title", Message: "must not be empty"}
			}
			changes["title"] = title
		}
		if update.AvatarURL != nil {
			changes["avatar_url"] = emptyToNil(update.AvatarURL)
		}
		if len(changes) > 0 {
			changes["updated_at"] = s.ids.Now()
			if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).Updates(changes).Error; err != nil {
				return err
			}
		}
		if update.IsArchived != nil {
			if err := s.setArchived(tx, conversationID, userID, *update.IsArchived); err != nil {
				return err
			}
		}
		conv, err = liveConversation(tx, conversationID)
		if err != nil {
			return err
		}
		detail, err = loadDetail(tx, conv)
		return err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// SoftDelete hides the conversation from every participant and frees its pair key.
// It returns every participant.
func (s *Store) SoftDelete(ctx context.Context, conversationID, userID uuid.UUID) ([]uuid.UUID, error) {
	var members []uuid.UUID
	err := s.tx(ctx, "delete conversation", func(tx *gorm.DB) error {
		if _, err := activeParticipant(tx, conversationID, userID); err != nil {
			return err
		}
		now := s.ids.Now()
		if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).
			Updates(map[string]any{"deleted_at": now, "updated_at": now, "pair_key": nil}).Error; err != nil {
			return err
		}
		var err error
		members, err = allMemberIDs(tx, conversationID)
		return err
	})
	return members, err
}

// IsActiveParticipant reports whether userID is an active member of a live conversation.
func (s *Store) IsActiveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	_, err := activeParticipant(s.db.WithContext(ctx), conversationID, userID)
	var notFound *registrystore.NotFoundError
	if errors.As(err, &notFound) {
		return false, nil
	}
	if err != nil {
		return false, s.wrap("check membership", err)
	}
	return true, nil
}

func loadDetail(tx *gorm.DB, conv *model.Conversation) (*registrystore.ConversationDetail, error) {
	var parts []model.Participant
	if err := tx.Where("conversation_id = ?", conv.ID).Order("joined_at, user_id").Find(&parts).Error; err != nil {
		return nil, err
	}
	userIDs := make([]uuid.UUID, len(parts))
	for i, p := range parts {
		userIDs[i] = p.UserID
	}
	users, err := usersByID(tx, userIDs)
	if err != nil {
		return nil, err
	}
	detail := &registrystore.ConversationDetail{
		Conversation: *conv,
		Participants: make([]registrystore.ParticipantView, len(parts)),
	}
	for i, p := range parts {
		detail.Participants[i] = registrystore.ParticipantView{Participant: p, User: users[p.UserID]}
	}
	last, err := lastMessage(tx, conv.ID)
	if err != nil {
		return nil, err
	}
	if last != nil {
		id := last.ID
		detail.LastMessageID = &id
	}
	return detail, nil
}

func emptyToNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
