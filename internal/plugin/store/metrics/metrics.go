package metrics

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a ChatStore that records StoreLatency for every operation.
func Wrap(inner store.ChatStore) store.ChatStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ChatStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (m *metricsStore) EnsureUser(ctx context.Context, profile store.UserProfile) (*model.User, error) {
	defer observe("ensure_user", time.Now())
	return m.inner.EnsureUser(ctx, profile)
}

func (m *metricsStore) UpsertUser(ctx context.Context, profile store.UserProfile) (*model.User, error) {
	defer observe("upsert_user", time.Now())
	return m.inner.UpsertUser(ctx, profile)
}

func (m *metricsStore) MarkUserDeleted(ctx context.Context, externalID string) error {
	defer observe("delete_user", time.Now())
	return m.inner.MarkUserDeleted(ctx, externalID)
}

func (m *metricsStore) GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	defer observe("get_user", time.Now())
	return m.inner.GetUserByExternalID(ctx, externalID)
}

func (m *metricsStore) SearchUsers(ctx context.Context, excludeUserID uuid.UUID, query string, limit int) ([]model.User, error) {
	defer observe("search_users", time.Now())
	return m.inner.SearchUsers(ctx, excludeUserID, query, limit)
}

func (m *metricsStore) CreateDirect(ctx context.Context, userA, userB uuid.UUID) (*store.ConversationDetail, bool, error) {
	defer observe("create_direct", time.Now())
	return m.inner.CreateDirect(ctx, userA, userB)
}

func (m *metricsStore) CreateGroup(ctx context.Context, req store.CreateGroupRequest) (*store.ConversationDetail, error) {
	defer observe("create_group", time.Now())
	return m.inner.CreateGroup(ctx, req)
}

func (m *metricsStore) GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*store.ConversationDetail, error) {
	defer observe("get_conversation", time.Now())
	return m.inner.GetConversation(ctx, userID, conversationID)
}

func (m *metricsStore) ListConversations(ctx context.Context, userID uuid.UUID, query store.ListConversationsQuery) ([]store.ConversationSummary, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, userID, query)
}

func (m *metricsStore) ModifyMembers(ctx context.Context, conversationID, requesterID uuid.UUID, add, remove []uuid.UUID) (*store.MembershipChange, error) {
	defer observe("modify_members", time.Now())
	return m.inner.ModifyMembers(ctx, conversationID, requesterID, add, remove)
}

func (m *metricsStore) SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archived bool) error {
	defer observe("set_archived", time.Now())
	return m.inner.SetArchived(ctx, conversationID, userID, archived)
}

func (m *metricsStore) Leave(ctx context.Context, conversationID, userID uuid.UUID) ([]uuid.UUID, error) {
	defer observe("leave", time.Now())
	return m.inner.Leave(ctx, conversationID, userID)
}

func (m *metricsStore) UpdateMetadata(ctx context.Context, conversationID, userID uuid.UUID, update store.MetadataUpdate) (*store.ConversationDetail, error) {
	defer observe("update_conversation", time.Now())
	return m.inner.UpdateMetadata(ctx, conversationID, userID, update)
}

func (m *metricsStore) SoftDelete(ctx context.Context, conversationID, userID uuid.UUID) ([]uuid.UUID, error) {
	defer observe("delete_conversation", time.Now())
	return m.inner.SoftDelete(ctx, conversationID, userID)
}

func (m *metricsStore) IsActiveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	defer observe("is_active_participant", time.Now())
	return m.inner.IsActiveParticipant(ctx, conversationID, userID)
}

func (m *metricsStore) AppendMessage(ctx context.Context, req store.AppendRequest) (*store.AppendResult, error) {
	defer observe("append_message", time.Now())
	return m.inner.AppendMessage(ctx, req)
}

func (m *metricsStore) FetchPage(ctx context.Context, req store.PageRequest) (*store.MessagePage, error) {
	defer observe("fetch_page", time.Now())
	return m.inner.FetchPage(ctx, req)
}

func (m *metricsStore) MarkRead(ctx context.Context, conversationID, userID, messageID uuid.UUID) (*store.ReadResult, error) {
	defer observe("mark_read", time.Now())
	return m.inner.MarkRead(ctx, conversationID, userID, messageID)
}

func (m *metricsStore) MarkUnread(ctx context.Context, conversationID, userID uuid.UUID) error {
	defer observe("mark_unread", time.Now())
	return m.inner.MarkUnread(ctx, conversationID, userID)
}

func (m *metricsStore) UnreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	defer observe("unread_count", time.Now())
	return m.inner.UnreadCount(ctx, conversationID, userID)
}

func (m *metricsStore) IsConversationUnread(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	defer observe("is_unread", time.Now())
	return m.inner.IsConversationUnread(ctx, conversationID, userID)
}

func (m *metricsStore) CountEvictableConversations(ctx context.Context, cutoff time.Time) (int64, error) {
	defer observe("count_evictable", time.Now())
	return m.inner.CountEvictableConversations(ctx, cutoff)
}

func (m *metricsStore) FindEvictableConversationIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	defer observe("find_evictable", time.Now())
	return m.inner.FindEvictableConversationIDs(ctx, cutoff, limit)
}

func (m *metricsStore) HardDeleteConversations(ctx context.Context, conversationIDs []uuid.UUID) error {
	defer observe("hard_delete_conversations", time.Now())
	return m.inner.HardDeleteConversations(ctx, conversationIDs)
}
