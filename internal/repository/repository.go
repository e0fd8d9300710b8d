package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	appErrors "sudooom.im.messaging/internal/errors"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema 建表（已存在则跳过）
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return classify(err)
	}
	return nil
}

// classify 将驱动错误映射为 AppError，非服务端拒绝的错误视为连接问题，可重试
func classify(err error) error {
	if err == nil {
		return nil
	}

	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return appErrors.ErrConversationNotFound.Wrap(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return appErrors.ErrDBError.Wrap(err)
	}

	return appErrors.ErrTransientStore.Wrap(err)
}

// directKey 单聊唯一键
func directKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// previewOf 会话列表中的消息预览
func previewOf(content, msgType string) string {
	switch msgType {
	case "image":
		return "[image]"
	case "audio":
		return "[audio]"
	case "file":
		return "[file]"
	}
	content = strings.TrimSpace(content)
	r := []rune(content)
	if len(r) > previewLength {
		return string(r[:previewLength])
	}
	return content
}

const previewLength = 64
