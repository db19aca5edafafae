package authapi

import (
	"context"
	"log/slog"
)

// Audit events go to the structured log. Token values are never logged.

func (h *Handler) auditRemember(ctx context.Context, userID, ip, ua string) {
	h.log.LogAttrs(ctx, slog.LevelInfo, "auth.remember",
		slog.String("user_id", userID),
		slog.String("ip", ip),
		slog.String("ua", ua),
	)
}

func (h *Handler) auditForget(ctx context.Context, userID, ip, ua string) {
	h.log.LogAttrs(ctx, slog.LevelInfo, "auth.forget",
		slog.String("user_id", userID),
		slog.String("ip", ip),
		slog.String("ua", ua),
	)
}
