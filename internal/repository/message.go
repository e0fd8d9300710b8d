package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	appErrors "sudooom.im.messaging/internal/errors"
	"sudooom.im.messaging/internal/model"
)

// MessageRepository 消息数据访问层
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository 创建消息 Repository
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// CreateMessage 插入消息并更新会话最后活跃时间，返回所有成员 ID。
// msg.ID 和 msg.CreateAt 由调用方设置
func (r *MessageRepository) CreateMessage(ctx context.Context, msg *model.Message) ([]int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback(ctx)

	var exists, member bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1),
		       EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)
	`, msg.ConversationID, msg.SenderID).Scan(&exists, &member)
	if err != nil {
		return nil, classify(err)
	}
	if !exists {
		return nil, appErrors.ErrConversationNotFound
	}
	if !member {
		return nil, appErrors.ErrForbidden
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, type, media_ref, create_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, string(msg.Type), msg.MediaRef, msg.CreateAt)
	if err != nil {
		return nil, classify(err)
	}

	// 预览只跟随最新消息
	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET last_message_preview = CASE
		        WHEN last_message_at IS NULL OR $2 >= last_message_at THEN $3
		        ELSE last_message_preview END,
		    last_message_at = GREATEST(last_message_at, $2),
		    update_at = NOW()
		WHERE id = $1
	`, msg.ConversationID, msg.CreateAt, previewOf(msg.Content, string(msg.Type)))
	if err != nil {
		return nil, classify(err)
	}

	ids, err := participantIDs(ctx, tx, msg.ConversationID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	return ids, nil
}

// SoftDeleteMessage 软删除消息，仅作者可删除。
// last_message_at 保持不变，预览按剩余最新消息重算
func (r *MessageRepository) SoftDeleteMessage(ctx context.Context, messageID, userID int64) (*model.Message, []int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, classify(err)
	}
	defer tx.Rollback(ctx)

	msg := &model.Message{}
	var msgType string
	err = tx.QueryRow(ctx, `
		SELECT id, conversation_id, sender_id, content, type, media_ref, is_deleted, delivered_at, read_at, create_at
		FROM messages WHERE id = $1
		FOR UPDATE
	`, messageID).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&msgType,
		&msg.MediaRef,
		&msg.IsDeleted,
		&msg.DeliveredAt,
		&msg.ReadAt,
		&msg.CreateAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, appErrors.ErrMessageNotFound
		}
		return nil, nil, classify(err)
	}
	msg.Type = model.MessageType(msgType)

	if msg.SenderID != userID {
		return nil, nil, appErrors.ErrForbidden
	}

	if !msg.IsDeleted {
		if _, err := tx.Exec(ctx, `UPDATE messages SET is_deleted = TRUE WHERE id = $1`, messageID); err != nil {
			return nil, nil, classify(err)
		}
		msg.IsDeleted = true

		_, err = tx.Exec(ctx, `
			UPDATE conversations c
			SET last_message_preview = COALESCE((
			        SELECT CASE m.type WHEN 'text' THEN LEFT(TRIM(m.content), $2) ELSE '[' || m.type || ']' END
			        FROM messages m
			        WHERE m.conversation_id = c.id AND m.is_deleted = FALSE
			        ORDER BY m.create_at DESC, m.id DESC
			        LIMIT 1), ''),
			    update_at = NOW()
			WHERE c.id = $1
		`, msg.ConversationID, previewLength)
		if err != nil {
			return nil, nil, classify(err)
		}
	}

	ids, err := participantIDs(ctx, tx, msg.ConversationID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, classify(err)
	}
	return msg, ids, nil
}

// ListMessages 按 (create_at, id) 顺序分页获取消息，
// beforeID 非零时返回该消息之前的一页
func (r *MessageRepository) ListMessages(ctx context.Context, conversationID, requesterID, beforeID int64, limit int) ([]*model.Message, error) {
	var member bool
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1),
		       EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)
	`, conversationID, requesterID).Scan(&exists, &member)
	if err != nil {
		return nil, classify(err)
	}
	if !exists {
		return nil, appErrors.ErrConversationNotFound
	}
	if !member {
		return nil, appErrors.ErrForbidden
	}

	var rows pgx.Rows
	if beforeID == 0 {
		rows, err = r.db.Query(ctx, `
			SELECT id, conversation_id, sender_id, content, type, media_ref, is_deleted, delivered_at, read_at, create_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY create_at DESC, id DESC
			LIMIT $2
		`, conversationID, limit)
	} else {
		// 游标必须属于同一会话
		var cursorAt time.Time
		err = r.db.QueryRow(ctx, `
			SELECT create_at FROM messages WHERE id = $1 AND conversation_id = $2
		`, beforeID, conversationID).Scan(&cursorAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appErrors.ErrInvalidParams
		}
		if err != nil {
			return nil, classify(err)
		}

		rows, err = r.db.Query(ctx, `
			SELECT id, conversation_id, sender_id, content, type, media_ref, is_deleted, delivered_at, read_at, create_at
			FROM messages
			WHERE conversation_id = $1
			  AND (create_at, id) < ($2::timestamptz, $3::bigint)
			ORDER BY create_at DESC, id DESC
			LIMIT $4
		`, conversationID, cursorAt, beforeID, limit)
	}
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var page []*model.Message
	for rows.Next() {
		msg := &model.Message{}
		var msgType string
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.Content,
			&msgType,
			&msg.MediaRef,
			&msg.IsDeleted,
			&msg.DeliveredAt,
			&msg.ReadAt,
			&msg.CreateAt,
		); err != nil {
			return nil, classify(err)
		}
		msg.Type = model.MessageType(msgType)
		if msg.IsDeleted {
			msg.Content = ""
			msg.MediaRef = ""
		}
		page = append(page, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}
