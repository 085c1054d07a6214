package service

import (
	"context"
	"errors"
	"strings"

	"github.com/chirino/chat-service/internal/cursor"
	"github.com/chirino/chat-service/internal/fanout"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
)

// AttachmentInput is metadata of an attachment uploaded directly to storage.
type AttachmentInput struct {
	PublicID  string  `json:"publicId" validate:"required,max=255"`
	SecureURL string  `json:"secureUrl" validate:"required,url"`
	Width     *int    `json:"width" validate:"omitempty,min=0"`
	Height    *int    `json:"height" validate:"omitempty,min=0"`
	Bytes     *int    `json:"bytes" validate:"omitempty,min=0"`
	Format    *string `json:"format" validate:"omitempty,max=16"`
}

// SendMessageInput is a message to append.
type SendMessageInput struct {
	ConversationID uuid.UUID         `json:"conversationId"`
	Kind           model.MessageKind `json:"kind" validate:"omitempty,oneof=TEXT IMAGE SYSTEM"`
	Body           *string           `json:"body" validate:"omitempty,max=8000"`
	Attachments    []AttachmentInput `json:"attachments" validate:"max=10,dive"`
}

// SendMessage appends a message and fans it out to the other members.
func (c *Chat) SendMessage(ctx context.Context, authorID uuid.UUID, in SendMessageInput) (*model.Message, error) {
	if err := c.check(in); err != nil {
		return nil, err
	}
	if in.ConversationID == uuid.Nil {
		return nil, &registrystore.ValidationError{Field: "conversationId", Message: "is required"}
	}
	if in.Kind == "" {
		in.Kind = model.MessageText
	}
	hasBody := in.Body != nil && strings.TrimSpace(*in.Body) != ""
	if !hasBody {
		in.Body = nil
	}
	switch in.Kind {
	case model.MessageSystem:
		if !hasBody || len(in.Attachments) > 0 {
			return nil, &registrystore.ValidationError{Field: "body", Message: "system messages carry a body and no attachments"}
		}
	default:
		if hasBody == (len(in.Attachments) > 0) {
			return nil, &registrystore.ValidationError{Field: "body", Message: "exactly one of body or attachments is required"}
		}
	}

	req := registrystore.AppendRequest{
		ConversationID: in.ConversationID,
		AuthorID:       authorID,
		Kind:           in.Kind,
		Body:           in.Body,
	}
	for _, a := range in.Attachments {
		req.Attachments = append(req.Attachments, registrystore.AttachmentInput{
			PublicID:  a.PublicID,
			SecureURL: a.SecureURL,
			Width:     a.Width,
			Height:    a.Height,
			Bytes:     a.Bytes,
			Format:    a.Format,
		})
	}

	bctx, cancel := c.bound(ctx)
	defer cancel()
	res, err := c.store.AppendMessage(bctx, req)
	if err != nil {
		return nil, err
	}

	msg := res.Message
	plan := &fanout.Plan{}
	plan.Conversation(msg.ConversationID, model.MessageNew{ConversationID: msg.ConversationID, MessageID: msg.ID, Message: msg})
	plan.Users(without(res.Members, []uuid.UUID{authorID}), model.MessageNew{ConversationID: msg.ConversationID, MessageID: msg.ID})
	c.publish(ctx, plan)
	return msg, nil
}

// Page is one page of messages in ascending order.
type Page struct {
	Items      []model.Message `json:"items"`
	HasMore    bool            `json:"hasMore"`
	NextCursor *string         `json:"nextCursor"`
}

// FetchPageInput selects a page of history. An empty Cursor starts from the newest message.
type FetchPageInput struct {
	ConversationID uuid.UUID
	Limit          int
	Cursor         string
}

// FetchPage returns messages older than the cursor.
func (c *Chat) FetchPage(ctx context.Context, requesterID uuid.UUID, in FetchPageInput) (*Page, error) {
	if in.Limit < 0 || in.Limit > registrystore.MaxPageLimit {
		return nil, &registrystore.ValidationError{Field: "limit", Message: "must be between 1 and 100"}
	}
	req := registrystore.PageRequest{
		ConversationID: in.ConversationID,
		RequesterID:    requesterID,
		Limit:          registrystore.ClampPageLimit(in.Limit),
	}
	if in.Cursor != "" {
		key, err := c.cursors.Decode(in.ConversationID, in.Cursor)
		if errors.Is(err, cursor.ErrInvalid) {
			return nil, &registrystore.ValidationError{Field: "cursor", Message: err.Error()}
		}
		if err != nil {
			return nil, err
		}
		req.Before = &key
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()
	page, err := c.store.FetchPage(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &Page{Items: page.Items, HasMore: page.HasMore}
	if out.Items == nil {
		out.Items = []model.Message{}
	}
	if page.Next != nil {
		next := c.cursors.Encode(in.ConversationID, *page.Next)
		out.NextCursor = &next
	}
	return out, nil
}

// MarkRead acknowledges a message and advances the caller's watermark when it moves forward.
func (c *Chat) MarkRead(ctx context.Context, userID, conversationID, messageID uuid.UUID) (*registrystore.ReadResult, error) {
	bctx, cancel := c.bound(ctx)
	defer cancel()
	res, err := c.store.MarkRead(bctx, conversationID, userID, messageID)
	if err != nil {
		return nil, err
	}
	c.publish(ctx, (&fanout.Plan{}).Conversation(conversationID, model.MessageRead{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		SeenAt:         res.SeenAt,
	}))
	return res, nil
}

// MarkUnread moves the caller's watermark just before the newest message.
func (c *Chat) MarkUnread(ctx context.Context, userID, conversationID uuid.UUID) error {
	bctx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.store.MarkUnread(bctx, conversationID, userID); err != nil {
		return err
	}
	c.publish(ctx, (&fanout.Plan{}).Users([]uuid.UUID{userID}, model.ConversationUpdated{ConversationID: conversationID}))
	return nil
}

// UnreadState is the caller's unread count and flag for one conversation.
type UnreadState struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Unread         int64     `json:"unread"`
	IsUnread       bool      `json:"isUnread"`
}

// Unread computes the caller's unread state.
func (c *Chat) Unread(ctx context.Context, userID, conversationID uuid.UUID) (*UnreadState, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	count, err := c.store.UnreadCount(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	unread, err := c.store.IsConversationUnread(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return &UnreadState{ConversationID: conversationID, Unread: count, IsUnread: unread}, nil
}
