// Package gormstore implements the chat store on top of GORM. Dialect plugins
// (postgres, sqlite) open the connection and supply their error classifier.
package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/chirino/chat-service/internal/ids"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Classifier maps a driver error to a typed store error. It returns nil for
// errors it does not recognize.
type Classifier func(op string, err error) error

// Store implements registrystore.ChatStore.
type Store struct {
	db       *gorm.DB
	ids      *ids.Generator
	classify Classifier
}

var _ registrystore.ChatStore = (*Store)(nil)

// New returns a Store using db. gen supplies message ids and every timestamp the
// store writes.
func New(db *gorm.DB, gen *ids.Generator, classify Classifier) *Store {
	if gen == nil {
		gen = ids.New()
	}
	return &Store{db: db, ids: gen, classify: classify}
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// AutoMigrate creates or updates the tables for every model.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Participant{},
		&model.Message{},
		&model.Attachment{},
		&model.ReadReceipt{},
	)
}

func (s *Store) tx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	return s.wrap(op, s.db.WithContext(ctx).Transaction(fn))
}

func (s *Store) wrap(op string, err error) error {
	if err == nil || isTyped(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &registrystore.TransientError{Op: op, Err: err}
	}
	if s.classify != nil {
		if classified := s.classify(op, err); classified != nil {
			return classified
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTyped(err error) bool {
	var (
		notFound   *registrystore.NotFoundError
		validation *registrystore.ValidationError
		conflict   *registrystore.ConflictError
		forbidden  *registrystore.ForbiddenError
		transient  *registrystore.TransientError
		fatal      *registrystore.FatalError
	)
	return errors.As(err, &notFound) || errors.As(err, &validation) || errors.As(err, &conflict) ||
		errors.As(err, &forbidden) || errors.As(err, &transient) || errors.As(err, &fatal)
}

func conversationNotFound(id uuid.UUID) error {
	return &registrystore.NotFoundError{Resource: "conversation", ID: id.String()}
}

// findOne loads at most one row matching q, returning nil when nothing matches.
// Unlike First, a miss is not an error and is not logged.
func findOne[T any](q *gorm.DB) (*T, error) {
	var rows []T
	if err := q.Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// liveConversation loads a conversation that has not been soft-deleted.
func liveConversation(tx *gorm.DB, id uuid.UUID) (*model.Conversation, error) {
	conv, err := findOne[model.Conversation](tx.Where("id = ? AND deleted_at IS NULL", id))
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, conversationNotFound(id)
	}
	return conv, nil
}

// activeParticipant loads the caller's participant row of a live conversation.
// Missing conversations and non-members are both reported as the conversation not being found.
func activeParticipant(tx *gorm.DB, conversationID, userID uuid.UUID) (*model.Participant, error) {
	p, err := findOne[model.Participant](tx.Table("participants").
		Select("participants.*").
		Joins("JOIN conversations ON conversations.id = participants.conversation_id").
		Where("participants.conversation_id = ? AND participants.user_id = ?", conversationID, userID).
		Where("participants.deleted_at IS NULL AND conversations.deleted_at IS NULL"))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, conversationNotFound(conversationID)
	}
	return p, nil
}

func activeMemberIDs(tx *gorm.DB, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := tx.Model(&model.Participant{}).
		Where("conversation_id = ? AND deleted_at IS NULL", conversationID).
		Order("joined_at, user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

func allMemberIDs(tx *gorm.DB, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := tx.Model(&model.Participant{}).
		Where("conversation_id = ?", conversationID).
		Order("joined_at, user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

func usersByID(tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]*model.User, error) {
	result := make(map[uuid.UUID]*model.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var users []model.User
	if err := tx.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		result[users[i].ID] = &users[i]
	}
	return result, nil
}

func dedupe(ids []uuid.UUID, skip ...uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids)+len(skip))
	for _, id := range skip {
		seen[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
