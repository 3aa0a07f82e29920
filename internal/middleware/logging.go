// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"time"
)

// WriteAuditLog は台帳操作の監査ログを出力する。sequence が0なら世代は未確定。
func WriteAuditLog(ctx context.Context, operation string, ownerID string, sequence uint, result string) {
	slog.InfoContext(ctx, "pointer operation completed",
		"operation", operation,
		"owner_id", ownerID,
		"sequence", sequence,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}
