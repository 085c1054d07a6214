package model

import (
	"time"

	"github.com/google/uuid"
)

// ConversationKind distinguishes one-to-one and group conversations.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "DIRECT"
	ConversationGroup  ConversationKind = "GROUP"
)

// MessageKind is the content type of a message.
type MessageKind string

const (
	MessageText   MessageKind = "TEXT"
	MessageImage  MessageKind = "IMAGE"
	MessageSystem MessageKind = "SYSTEM"
)

// Valid reports whether k is one of the known message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageImage, MessageSystem:
		return true
	}
	return false
}

// User is the local copy of an identity-provider profile, keyed by ExternalID.
type User struct {
	ID          uuid.UUID  `json:"id"                  gorm:"primaryKey;type:uuid"`
	ExternalID  string     `json:"externalId"          gorm:"not null;uniqueIndex"`
	Email       string     `json:"email,omitempty"     gorm:"not null"`
	DisplayName string     `json:"displayName"         gorm:"not null"`
	ImageURL    *string    `json:"imageUrl,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"           gorm:"not null"`
	UpdatedAt   time.Time  `json:"updatedAt"           gorm:"not null"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

func (User) TableName() string { return "users" }

// Conversation is a DIRECT or GROUP conversation. PairKey is only set for DIRECT conversations.
type Conversation struct {
	ID            uuid.UUID        `json:"id"                  gorm:"primaryKey;type:uuid"`
	Kind          ConversationKind `json:"kind"                gorm:"not null"`
	Title         *string          `json:"title,omitempty"`
	AvatarURL     *string          `json:"avatarUrl,omitempty"`
	PairKey       *string          `json:"-"                   gorm:"uniqueIndex"`
	CreatedByID   *uuid.UUID       `json:"createdById,omitempty" gorm:"type:uuid"`
	LastMessageAt time.Time        `json:"lastMessageAt"       gorm:"not null"`
	CreatedAt     time.Time        `json:"createdAt"           gorm:"not null"`
	UpdatedAt     time.Time        `json:"updatedAt"           gorm:"not null"`
	DeletedAt     *time.Time       `json:"deletedAt,omitempty" gorm:"index"`
}

func (Conversation) TableName() string { return "conversations" }

// Participant joins a user to a conversation and carries that user's read watermark.
//
// The watermark is LastSeenMessageID when set. After a mark-unread it is the
// synthetic timestamp LastSeenAt with LastSeenMessageID cleared. A participant that
// never read anything is watermarked at JoinedAt.
type Participant struct {
	ConversationID    uuid.UUID  `json:"conversationId"              gorm:"primaryKey;type:uuid"`
	UserID            uuid.UUID  `json:"userId"                      gorm:"primaryKey;type:uuid;index"`
	JoinedAt          time.Time  `json:"joinedAt"                    gorm:"not null"`
	ArchivedAt        *time.Time `json:"archivedAt,omitempty"`
	DeletedAt         *time.Time `json:"deletedAt,omitempty"`
	LastSeenAt        *time.Time `json:"lastSeenAt,omitempty"`
	LastSeenMessageID *uuid.UUID `json:"lastSeenMessageId,omitempty" gorm:"type:uuid"`
	// Ordering timestamp of LastSeenMessageID, kept alongside so watermark comparisons need no join.
	LastSeenMessageCreatedAt *time.Time `json:"-"`
}

func (Participant) TableName() string { return "participants" }

// Active reports whether the participant has not left the conversation.
func (p *Participant) Active() bool { return p.DeletedAt == nil }

// Message is an immutable entry of the message log. Its ordering key is (CreatedAt, ID).
type Message struct {
	ID             uuid.UUID   `json:"id"                  gorm:"primaryKey;type:uuid"`
	ConversationID uuid.UUID   `json:"conversationId"      gorm:"not null;type:uuid"`
	AuthorID       uuid.UUID   `json:"authorId"            gorm:"not null;type:uuid"`
	Kind           MessageKind `json:"kind"                gorm:"not null"`
	Body           *string     `json:"body,omitempty"`
	HasImage       bool        `json:"hasImage"            gorm:"not null"`
	CreatedAt      time.Time   `json:"createdAt"           gorm:"not null"`
	DeletedAt      *time.Time  `json:"deletedAt,omitempty"`

	// Resolved by id lookups, never persisted with the row.
	Author       *User         `json:"author,omitempty"       gorm:"-"`
	Attachments  []Attachment  `json:"attachments"            gorm:"-"`
	ReadReceipts []ReadReceipt `json:"readReceipts,omitempty" gorm:"-"`
}

func (Message) TableName() string { return "messages" }

// Key returns the message ordering key.
func (m *Message) Key() Key { return Key{CreatedAt: m.CreatedAt, ID: m.ID} }

// Attachment is already-uploaded media metadata attached to a message.
type Attachment struct {
	ID             uuid.UUID `json:"id"               gorm:"primaryKey;type:uuid"`
	MessageID      uuid.UUID `json:"messageId"        gorm:"not null;type:uuid;index"`
	ConversationID uuid.UUID `json:"conversationId"   gorm:"not null;type:uuid"`
	UploaderID     uuid.UUID `json:"uploaderId"       gorm:"not null;type:uuid"`
	PublicID       string    `json:"publicId"         gorm:"not null"`
	SecureURL      string    `json:"secureUrl"        gorm:"not null"`
	Width          *int      `json:"width,omitempty"`
	Height         *int      `json:"height,omitempty"`
	Bytes          *int      `json:"bytes,omitempty"`
	Format         *string   `json:"format,omitempty"`
	CreatedAt      time.Time `json:"createdAt"        gorm:"not null"`
}

func (Attachment) TableName() string { return "attachments" }

// ReadReceipt records when a user saw a message.
type ReadReceipt struct {
	MessageID uuid.UUID `json:"messageId" gorm:"primaryKey;type:uuid"`
	UserID    uuid.UUID `json:"userId"    gorm:"primaryKey;type:uuid"`
	SeenAt    time.Time `json:"seenAt"    gorm:"not null"`
}

func (ReadReceipt) TableName() string { return "message_read_receipts" }

// Key is the composite message ordering key. Keys compare by CreatedAt first and ID second.
type Key struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool {
	if !k.CreatedAt.Equal(other.CreatedAt) {
		return k.CreatedAt.Before(other.CreatedAt)
	}
	return compareUUID(k.ID, other.ID) < 0
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Preview renders the one-line conversation list preview of a message.
func Preview(m *Message) string {
	if m == nil {
		return ""
	}
	if m.HasImage || m.Kind == MessageImage {
		return "[IMAGE]"
	}
	if m.Kind == MessageSystem {
		if m.Body != nil && *m.Body != "" {
			return "• " + *m.Body
		}
		return "[SYSTEM]"
	}
	if m.Body == nil {
		return ""
	}
	return *m.Body
}

// PairKey is the canonical key of a direct conversation between a and b.
func PairKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + "|" + y
}
