package audit

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/siarheistar/psc-accounting-app-sub002/internal/auth"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with the request id, the acting
// user and, once resolved, the company and role of the request. An event
// without a name is reported at error level instead.
func LogEvent(ctx context.Context, event string, fields map[string]any) {
	event = strings.TrimSpace(event)
	if event == "" {
		obs.Logger().Error("audit event without name",
			zap.String("request_id", RequestIDFromContext(ctx)),
			zap.Any("fields", fields),
		)
		return
	}
	zf := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		zf = append(zf, zap.String("user_id", userID))
	}
	if rc, ok := auth.RequestContextFrom(ctx); ok {
		zf = append(zf,
			zap.String("company_id", rc.Company().ID),
			zap.String("role", string(rc.Role())),
			zap.Bool("demo", rc.IsDemo()),
		)
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	zf = append(zf, zap.Any("fields", copyFields))

	obs.Logger().Info("audit", zf...)
}

// UserProvisioned records a just-in-time user creation. It fits
// auth.WithProvisionHook.
func UserProvisioned(ctx context.Context, u auth.User) {
	obs.UserProvisioned()
	LogEvent(auth.ContextWithUser(ctx, u), "auth.user.provisioned", map[string]any{
		"external_subject": u.ExternalSubject,
		"email":            u.Email,
	})
}
