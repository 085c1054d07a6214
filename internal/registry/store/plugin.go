package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
)

// ParticipantView is a participant row together with the resolved user profile.
type ParticipantView struct {
	model.Participant
	User *model.User `json:"user,omitempty"`
}

// ConversationDetail is the full conversation for get/create/update.
type ConversationDetail struct {
	model.Conversation
	Participants  []ParticipantView `json:"participants"`
	LastMessageID *uuid.UUID        `json:"lastMessageId,omitempty"`
	// Rejoined is set by CreateDirect when the caller had left the existing conversation.
	Rejoined bool `json:"-"`
}

// ActiveMemberIDs returns the user ids of participants that have not left.
func (d *ConversationDetail) ActiveMemberIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(d.Participants))
	for _, p := range d.Participants {
		if p.Active() {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// ConversationSummary is a conversation list row as seen by one participant.
type ConversationSummary struct {
	model.Conversation
	Participants       []model.User   `json:"participants"`
	LastMessage        *model.Message `json:"lastMessage"`
	LastMessagePreview string         `json:"lastMessagePreview"`
	ArchivedAt         *time.Time     `json:"archivedAt,omitempty"`
	Unread             int64          `json:"unread"`
	IsUnread           bool           `json:"isUnread"`
}

// ListConversationsQuery selects the active or archived conversation list.
type ListConversationsQuery struct {
	Archived bool
	Query    string
	Limit    int
}

// UserProfile is identity-provider data for a user.
type UserProfile struct {
	ExternalID  string
	Email       string
	DisplayName string
	ImageURL    *string
}

// CreateGroupRequest is the input for creating a group conversation.
type CreateGroupRequest struct {
	CreatorID uuid.UUID
	Title     string
	AvatarURL *string
	MemberIDs []uuid.UUID
}

// MembershipChange describes the effect of a membership mutation.
type MembershipChange struct {
	Conversation model.Conversation
	Added        []uuid.UUID
	Removed      []uuid.UUID
	// Members are the active members after the change.
	Members []uuid.UUID
}

// MetadataUpdate holds optional conversation changes. An empty AvatarURL clears the avatar.
type MetadataUpdate struct {
	Title      *string
	AvatarURL  *string
	IsArchived *bool
}

// AttachmentInput is metadata of an already-uploaded attachment.
type AttachmentInput struct {
	PublicID  string
	SecureURL string
	Width     *int
	Height    *int
	Bytes     *int
	Format    *string
}

// AppendRequest is the input for appending a message.
type AppendRequest struct {
	ConversationID uuid.UUID
	AuthorID       uuid.UUID
	Kind           model.MessageKind
	Body           *string
	Attachments    []AttachmentInput
}

// AppendResult is the stored message and the active members at commit time.
type AppendResult struct {
	Message *model.Message
	Members []uuid.UUID
}

// PageRequest selects up to Limit messages strictly before Before (or from the newest).
type PageRequest struct {
	ConversationID uuid.UUID
	RequesterID    uuid.UUID
	Limit          int
	Before         *model.Key
}

// MessagePage is one page of messages in ascending order. Next is the key of the oldest
// returned message when more messages exist.
type MessagePage struct {
	Items   []model.Message
	HasMore bool
	Next    *model.Key
}

// ReadResult is the outcome of a read acknowledgement.
type ReadResult struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	UserID         uuid.UUID
	SeenAt         time.Time
	// Advanced is false when the acknowledgement was older than the current watermark.
	Advanced bool
}

// ChatStore defines the data access interface for conversations, messages and read state.
type ChatStore interface {
	// Users
	EnsureUser(ctx context.Context, profile UserProfile) (*model.User, error)
	UpsertUser(ctx context.Context, profile UserProfile) (*model.User, error)
	MarkUserDeleted(ctx context.Context, externalID string) error
	GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error)
	SearchUsers(ctx context.Context, excludeUserID uuid.UUID, query string, limit int) ([]model.User, error)

	// Conversations
	CreateDirect(ctx context.Context, userA, userB uuid.UUID) (*ConversationDetail, bool, error)
	CreateGroup(ctx context.Context, req CreateGroupRequest) (*ConversationDetail, error)
	GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*ConversationDetail, error)
	ListConversations(ctx context.Context, userID uuid.UUID, query ListConversationsQuery) ([]ConversationSummary, error)
	ModifyMembers(ctx context.Context, conversationID, requesterID uuid.UUID, add, remove []uuid.UUID) (*MembershipChange, error)
	SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archived bool) error
	Leave(ctx context.Context, conversationID, userID uuid.UUID) ([]uuid.UUID, error)
	UpdateMetadata(ctx context.Context, conversationID, userID uuid.UUID, update MetadataUpdate) (*ConversationDetail, error)
	SoftDelete(ctx context.Context, conversationID, userID uuid.UUID) ([]uuid.UUID, error)
	IsActiveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)

	// Messages
	AppendMessage(ctx context.Context, req AppendRequest) (*AppendResult, error)
	FetchPage(ctx context.Context, req PageRequest) (*MessagePage, error)

	// Read state
	MarkRead(ctx context.Context, conversationID, userID, messageID uuid.UUID) (*ReadResult, error)
	MarkUnread(ctx context.Context, conversationID, userID uuid.UUID) error
	UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int64, error)
	IsConversationUnread(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)

	// Eviction
	CountEvictableConversations(ctx context.Context, cutoff time.Time) (int64, error)
	FindEvictableConversationIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	HardDeleteConversations(ctx context.Context, conversationIDs []uuid.UUID) error
}

// Loader creates a ChatStore from config.
type Loader func(ctx context.Context) (ChatStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}

const (
	// DefaultPageLimit is the message page size used when none is requested.
	DefaultPageLimit = 30
	// MaxPageLimit caps the message page size.
	MaxPageLimit = 100
)

// ClampPageLimit applies the default and maximum message page size.
func ClampPageLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	}
	return limit
}
