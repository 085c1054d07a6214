package service

import (
	"context"
	"strings"

	"github.com/chirino/chat-service/internal/fanout"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

// CreateConversationInput creates a direct conversation when OtherUserID is set,
// otherwise a group.
type CreateConversationInput struct {
	OtherUserID    *uuid.UUID  `json:"otherUserId"`
	Title          *string     `json:"title" validate:"omitempty,max=80"`
	AvatarURL      *string     `json:"avatarUrl" validate:"omitempty,url"`
	ParticipantIDs []uuid.UUID `json:"participantIds" validate:"max=100"`
}

// CreateConversation creates a direct or group conversation. The bool reports
// whether a new conversation was created.
func (c *Chat) CreateConversation(ctx context.Context, userID uuid.UUID, in CreateConversationInput) (*registrystore.ConversationDetail, bool, error) {
	if err := c.check(in); err != nil {
		return nil, false, err
	}
	if in.OtherUserID != nil {
		return c.createDirect(ctx, userID, *in.OtherUserID)
	}
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return nil, false, &registrystore.ValidationError{Field: "title", Message: "is required for group conversations"}
	}
	bctx, cancel := c.bound(ctx)
	defer cancel()
	detail, err := c.store.CreateGroup(bctx, registrystore.CreateGroupRequest{
		CreatorID: userID,
		Title:     *in.Title,
		AvatarURL: in.AvatarURL,
		MemberIDs: in.ParticipantIDs,
	})
	if err != nil {
		return nil, false, err
	}
	plan := &fanout.Plan{}
	plan.Users(detail.ActiveMemberIDs(), model.ConversationCreated{ConversationID: detail.ID})
	c.publish(ctx, plan)
	return detail, true, nil
}

func (c *Chat) createDirect(ctx context.Context, userID, otherID uuid.UUID) (*registrystore.ConversationDetail, bool, error) {
	bctx, cancel := c.bound(ctx)
	defer cancel()
	detail, created, err := c.store.CreateDirect(bctx, userID, otherID)
	if err != nil {
		return nil, false, err
	}
	switch {
	case created:
		c.publish(ctx, (&fanout.Plan{}).Users([]uuid.UUID{userID, otherID}, model.ConversationCreated{ConversationID: detail.ID}))
	case detail.Rejoined:
		c.publish(ctx, (&fanout.Plan{}).Users([]uuid.UUID{userID, otherID}, model.ConversationUpdated{ConversationID: detail.ID}))
	}
	return detail, created, nil
}

// GetConversation returns a conversation the caller is an active member of.
func (c *Chat) GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*registrystore.ConversationDetail, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.store.GetConversation(ctx, userID, conversationID)
}

// ListConversationsInput filters the conversation list.
type ListConversationsInput struct {
	Query    string `validate:"max=80"`
	Archived bool
}

// ListConversations returns the caller's active or archived conversations with unread state.
func (c *Chat) ListConversations(ctx context.Context, userID uuid.UUID, in ListConversationsInput) ([]registrystore.ConversationSummary, error) {
	in.Query = strings.TrimSpace(in.Query)
	if err := c.check(in); err != nil {
		return nil, err
	}
	limit := c.listLimit
	if in.Archived {
		limit = c.archivedLimit
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.store.ListConversations(ctx, userID, registrystore.ListConversationsQuery{
		Archived: in.Archived,
		Query:    in.Query,
		Limit:    limit,
	})
}

// ModifyMembersInput lists users to add to and remove from a group.
type ModifyMembersInput struct {
	Add    []uuid.UUID `json:"add" validate:"max=100"`
	Remove []uuid.UUID `json:"remove" validate:"max=100"`
}

// ModifyMembers adds and removes group members.
func (c *Chat) ModifyMembers(ctx context.Context, userID, conversationID uuid.UUID, in ModifyMembersInput) (*registrystore.MembershipChange, error) {
	if err := c.check(in); err != nil {
		return nil, err
	}
	bctx, cancel := c.bound(ctx)
	defer cancel()
	change, err := c.store.ModifyMembers(bctx, conversationID, userID, in.Add, in.Remove)
	if err != nil {
		return nil, err
	}

	updated := model.ConversationUpdated{ConversationID: conversationID}
	plan := &fanout.Plan{}
	plan.Conversation(conversationID, updated)
	for _, id := range change.Removed {
		plan.Conversation(conversationID, model.ParticipantRemoved{ConversationID: conversationID, UserID: id})
	}
	plan.Users(change.Added, model.ConversationCreated{ConversationID: conversationID})
	plan.Users(without(change.Members, change.Added), updated)
	plan.Users(change.Removed, updated)
	c.publish(ctx, plan)
	return change, nil
}

// SetArchived toggles the archive flag on the caller's own participant row.
func (c *Chat) SetArchived(ctx context.Context, userID, conversationID uuid.UUID, archived bool) error {
	bctx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.store.SetArchived(bctx, conversationID, userID, archived); err != nil {
		return err
	}
	c.publish(ctx, (&fanout.Plan{}).Users([]uuid.UUID{userID}, model.ConversationUpdated{ConversationID: conversationID}))
	return nil
}

// Leave marks the caller as having left the conversation.
func (c *Chat) Leave(ctx context.Context, userID, conversationID uuid.UUID) error {
	bctx, cancel := c.bound(ctx)
	defer cancel()
	members, err := c.store.Leave(bctx, conversationID, userID)
	if err != nil {
		return err
	}
	plan := &fanout.Plan{}
	plan.Conversation(conversationID, model.ParticipantRemoved{ConversationID: conversationID, UserID: userID})
	plan.Users(members, model.ConversationUpdated{ConversationID: conversationID})
	c.publish(ctx, plan)
	return nil
}

// UpdateMetadataInput holds optional conversation changes.
type UpdateMetadataInput struct {
	Title      *string `json:"title" validate:"omitempty,max=80"`
	AvatarURL  *string `json:"avatarUrl" validate:"omitempty,url"`
	IsArchived *bool   `json:"isArchived"`
}

// UpdateMetadata changes a group's title or avatar and the caller's archive flag.
func (c *Chat) UpdateMetadata(ctx context.Context, userID, conversationID uuid.UUID, in UpdateMetadataInput) (*registrystore.ConversationDetail, error) {
	if err := c.check(in); err != nil {
		return nil, err
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, &registrystore.ValidationError{Field: "title", Message: "must not be empty"}
	}
	bctx, cancel := c.bound(ctx)
	defer cancel()
	detail, err := c.store.UpdateMetadata(bctx, conversationID, userID, registrystore.MetadataUpdate{
		Title:      in.Title,
		AvatarURL:  in.AvatarURL,
		IsArchived: in.IsArchived,
	})
	if err != nil {
		return nil, err
	}
	updated := model.ConversationUpdated{ConversationID: conversationID}
	plan := &fanout.Plan{}
	plan.Conversation(conversationID, updated)
	plan.Users(detail.ActiveMemberIDs(), updated)
	c.publish(ctx, plan)
	return detail, nil
}

// DeleteConversation soft-deletes the conversation for every participant.
func (c *Chat) DeleteConversation(ctx context.Context, userID, conversationID uuid.UUID) error {
	bctx, cancel := c.bound(ctx)
	defer cancel()
	members, err := c.store.SoftDelete(bctx, conversationID, userID)
	if err != nil {
		return err
	}
	deleted := model.ConversationDeleted{ConversationID: conversationID}
	plan := &fanout.Plan{}
	plan.Conversation(conversationID, deleted)
	plan.Users(members, deleted)
	c.publish(ctx, plan)
	return nil
}

// IsActiveParticipant reports whether the user may see the conversation.
func (c *Chat) IsActiveParticipant(ctx context.Context, userID, conversationID uuid.UUID) (bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.store.IsActiveParticipant(ctx, conversationID, userID)
}

func without(ids, skip []uuid.UUID) []uuid.UUID {
	if len(skip) == 0 {
		return ids
	}
	drop := make(map[uuid.UUID]struct{}, len(skip))
	for _, id := range skip {
		drop[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
