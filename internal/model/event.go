package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventName identifies a realtime event variant.
type EventName string

const (
	EventConversationCreated EventName = "conversation:created"
	EventConversationUpdated EventName = "conversation:updated"
	EventConversationDeleted EventName = "conversation:deleted"
	EventMessageNew          EventName = "message:new"
	EventMessageRead         EventName = "message:read"
	EventParticipantRemoved  EventName = "participant:removed"
)

// Event is the closed set of realtime payloads.
type Event interface {
	EventName() EventName
}

type ConversationCreated struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type ConversationUpdated struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type ConversationDeleted struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

// MessageNew carries the full message on conversation channels. On personal
// channels only the ids are set, as a hint to refresh the conversation list.
type MessageNew struct {
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	Message        *Message  `json:"message,omitempty"`
}

type MessageRead struct {
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	UserID         uuid.UUID `json:"userId"`
	SeenAt         time.Time `json:"seenAt"`
}

type ParticipantRemoved struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
}

func (ConversationCreated) EventName() EventName { return EventConversationCreated }
func (ConversationUpdated) EventName() EventName { return EventConversationUpdated }
func (ConversationDeleted) EventName() EventName { return EventConversationDeleted }
func (MessageNew) EventName() EventName          { return EventMessageNew }
func (MessageRead) EventName() EventName         { return EventMessageRead }
func (ParticipantRemoved) EventName() EventName  { return EventParticipantRemoved }

const (
	conversationChannelPrefix = "conversation-"
	userChannelPrefix         = "user-"
)

// ConversationChannel is the channel every open view of a conversation listens on.
func ConversationChannel(id uuid.UUID) string { return conversationChannelPrefix + id.String() }

// UserChannel is the personal channel of a user.
func UserChannel(id uuid.UUID) string { return userChannelPrefix + id.String() }

// ParseConversationChannel extracts the conversation id from a conversation channel name.
func ParseConversationChannel(channel string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(channel, conversationChannelPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	return id, err == nil
}

// Envelope is the wire form of an event published to a channel.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   EventName       `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// NewEnvelope encodes ev for publication on channel.
func NewEnvelope(channel string, ev Event) (Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	return Envelope{Channel: channel, Event: ev.EventName(), Data: data}, nil
}

// Decode returns the typed event carried by the envelope.
func (e Envelope) Decode() (Event, error) {
	var ev Event
	switch e.Event {
	case EventConversationCreated:
		ev = &ConversationCreated{}
	case EventConversationUpdated:
		ev = &ConversationUpdated{}
	case EventConversationDeleted:
		ev = &ConversationDeleted{}
	case EventMessageNew:
		ev = &MessageNew{}
	case EventMessageRead:
		ev = &MessageRead{}
	case EventParticipantRemoved:
		ev = &ParticipantRemoved{}
	default:
		return nil, fmt.Errorf("unknown event %q", e.Event)
	}
	if err := json.Unmarshal(e.Data, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Event, err)
	}
	return ev, nil
}
