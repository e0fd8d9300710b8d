package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/model"
)

// ConversationRepository 会话、成员与已读水位的数据访问层
type ConversationRepository struct {
	db *pgxpool.Pool
}

// NewConversationRepository 创建会话 Repository
func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// listConversationsQuery 单条语句返回 $1 的全部会话、未读数和成员列表，
// 所有值来自同一快照
const listConversationsQuery = `
	SELECT c.id, c.is_group, c.name, c.last_message_at, c.last_message_preview, c.create_at, c.update_at,
	       me.last_read_at,
	       (SELECT COUNT(*) FROM messages m
	         WHERE m.conversation_id = c.id
	           AND m.is_deleted = FALSE
	           AND m.sender_id <> me.user_id
	           AND (me.last_read_at IS NULL OR m.create_at > me.last_read_at)) AS unread_count,
	       (SELECT COALESCE(json_agg(json_build_object(
	                   'conversation_id', p.conversation_id::text,
	                   'user_id', p.user_id::text,
	                   'joined_at', p.joined_at,
	                   'last_read_at', p.last_read_at,
	                   'display_name', p.display_name,
	                   'avatar_url', p.avatar_url
	               ) ORDER BY p.joined_at, p.user_id), '[]'::json)
	          FROM conversation_participants p
	         WHERE p.conversation_id = c.id) AS participants
	FROM conversation_participants me
	JOIN conversations c ON c.id = me.conversation_id
	WHERE me.user_id = $1
	ORDER BY c.last_message_at DESC NULLS LAST, c.id DESC
`

// ListConversations 获取用户会话列表
func (r *ConversationRepository) ListConversations(ctx context.Context, userID int64) ([]model.ConversationSummary, error) {
	rows, err := r.db.Query(ctx, listConversationsQuery, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	summaries := make([]model.ConversationSummary, 0)
	for rows.Next() {
		var (
			s            model.ConversationSummary
			participants []byte
		)
		err := rows.Scan(
			&s.ID,
			&s.IsGroup,
			&s.Name,
			&s.LastMessageAt,
			&s.LastMessagePreview,
			&s.CreateAt,
			&s.UpdateAt,
			&s.LastReadAt,
			&s.UnreadCount,
			&participants,
		)
		if err != nil {
			return nil, classify(err)
		}
		if err := json.Unmarshal(participants, &s.Participants); err != nil {
			return nil, appErrors.ErrDBError.Wrap(err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return summaries, nil
}

// GetParticipants 获取会话成员，请求者必须是成员
func (r *ConversationRepository) GetParticipants(ctx context.Context, conversationID, requesterID int64) ([]model.Participant, error) {
	if err := r.checkMembership(ctx, conversationID, requesterID); err != nil {
		return nil, err
	}

	query := `
		SELECT conversation_id, user_id, joined_at, last_read_at, display_name, avatar_url
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at, user_id
	`
	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	participants := make([]model.Participant, 0)
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(
			&p.ConversationID,
			&p.UserID,
			&p.JoinedAt,
			&p.LastReadAt,
			&p.DisplayName,
			&p.AvatarURL,
		); err != nil {
			return nil, classify(err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return participants, nil
}

// MarkRead 推进已读水位到 at，更早的 at 不会回退水位，返回最终水位。
// 单聊中同时标记对方消息的 read_at
func (r *ConversationRepository) MarkRead(ctx context.Context, conversationID, userID int64, at time.Time) (time.Time, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return time.Time{}, classify(err)
	}
	defer tx.Rollback(ctx)

	var watermark time.Time
	err = tx.QueryRow(ctx, `
		UPDATE conversation_participants
		SET last_read_at = GREATEST(last_read_at, $3)
		WHERE conversation_id = $1 AND user_id = $2
		RETURNING last_read_at
	`, conversationID, userID, at).Scan(&watermark)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, r.membershipError(ctx, conversationID)
		}
		return time.Time{}, classify(err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE messages m SET read_at = $3
		FROM conversations c
		WHERE c.id = m.conversation_id
		  AND m.conversation_id = $1
		  AND c.is_group = FALSE
		  AND m.sender_id <> $2
		  AND m.read_at IS NULL
		  AND m.create_at <= $3
	`, conversationID, userID, watermark)
	if err != nil {
		return time.Time{}, classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, classify(err)
	}
	return watermark, nil
}

// MarkDelivered 标记对方消息已送达，返回更新行数
func (r *ConversationRepository) MarkDelivered(ctx context.Context, conversationID, userID int64, at time.Time) (int64, error) {
	if err := r.checkMembership(ctx, conversationID, userID); err != nil {
		return 0, err
	}

	result, err := r.db.Exec(ctx, `
		UPDATE messages SET delivered_at = $3
		WHERE conversation_id = $1
		  AND sender_id <> $2
		  AND delivered_at IS NULL
		  AND create_at <= $3
	`, conversationID, userID, at)
	if err != nil {
		return 0, classify(err)
	}
	return result.RowsAffected(), nil
}

// CreateConversation 事务内创建会话及成员，conv.ID 由调用方生成
func (r *ConversationRepository) CreateConversation(ctx context.Context, conv *model.Conversation, members []model.Member) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	var key *string
	if !conv.IsGroup && len(members) == 2 {
		k := directKey(members[0].UserID, members[1].UserID)
		key = &k
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO conversations (id, is_group, name, direct_key, create_at, update_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING create_at, update_at
	`, conv.ID, conv.IsGroup, conv.Name, key).Scan(&conv.CreateAt, &conv.UpdateAt)
	if err != nil {
		return classify(err)
	}

	batch := &pgx.Batch{}
	for _, m := range members {
		batch.Queue(`
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at, display_name, avatar_url)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (conversation_id, user_id) DO NOTHING
		`, conv.ID, m.UserID, conv.CreateAt, m.DisplayName, m.AvatarURL)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// FindDirectConversation 查找 a 与 b 的单聊
func (r *ConversationRepository) FindDirectConversation(ctx context.Context, a, b int64) (*model.Conversation, error) {
	conv := &model.Conversation{}
	err := r.db.QueryRow(ctx, `
		SELECT id, is_group, name, last_message_at, last_message_preview, create_at, update_at
		FROM conversations WHERE direct_key = $1
	`, directKey(a, b)).Scan(
		&conv.ID,
		&conv.IsGroup,
		&conv.Name,
		&conv.LastMessageAt,
		&conv.LastMessagePreview,
		&conv.CreateAt,
		&conv.UpdateAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	return conv, nil
}

// RemoveParticipant 删除成员，会话随之从该用户的聚合中消失
func (r *ConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID int64) error {
	result, err := r.db.Exec(ctx,
		`DELETE FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	)
	if err != nil {
		return classify(err)
	}
	if result.RowsAffected() == 0 {
		return r.membershipError(ctx, conversationID)
	}
	return nil
}

// ParticipantIDs 获取会话成员 ID
func (r *ConversationRepository) ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	return participantIDs(ctx, r.db, conversationID)
}

func (r *ConversationRepository) checkMembership(ctx context.Context, conversationID, userID int64) error {
	var exists, member bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1),
		       EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)
	`, conversationID, userID).Scan(&exists, &member)
	if err != nil {
		return classify(err)
	}
	if !exists {
		return appErrors.ErrConversationNotFound
	}
	if !member {
		return appErrors.ErrForbidden
	}
	return nil
}

// membershipError 区分会话不存在与非成员
func (r *ConversationRepository) membershipError(ctx context.Context, conversationID int64) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, conversationID).Scan(&exists)
	if err != nil {
		return classify(err)
	}
	if !exists {
		return appErrors.ErrConversationNotFound
	}
	return appErrors.ErrForbidden
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func participantIDs(ctx context.Context, q querier, conversationID int64) ([]int64, error) {
	rows, err := q.Query(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1 ORDER BY user_id`,
		conversationID,
	)
	if err != nil {
		return nil, classify(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, classify(err)
	}
	return ids, nil
}
