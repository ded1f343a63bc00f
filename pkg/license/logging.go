package license

import (
	"context"
	"log/slog"
)

// logAction logs a validation action with the engine's standard
// attributes.
func (v *Validator) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	all := []slog.Attr{
		slog.String("component", "license_validator"),
		slog.String("action", action),
		slog.String("result", result),
		slog.String("sender_id", v.senderID.String()),
	}
	all = append(all, attrs...)
	v.log.LogAttrs(ctx, level, result, all...)
}

func (v *Validator) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (v *Validator) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (v *Validator) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (v *Validator) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	v.logAction(ctx, slog.LevelError, action, result, attrs...)
}

// maskUserID masks a license identity for log output.
func maskUserID(id string) string {
	if len(id) <= 8 {
		return "****"
	}
	return id[:4] + "****" + id[len(id)-4:]
}
