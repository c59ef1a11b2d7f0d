package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/ids"
	"tradejournal.app/internal/obs"
)

// Actions written by the gateway components.
const (
	ActionLoginSuccess      = "admin_login_success"
	ActionLoginFailed       = "admin_login_failed"
	ActionLoginBlocked      = "admin_login_blocked"
	ActionConnectionWarning = "admin_connection_warning"
	ActionConnectionBlocked = "admin_connection_blocked"
	ActionBanUser           = "ban_user"
	ActionUnbanUser         = "unban_user"
	ActionDisableUser       = "disable_user"
	ActionEnableUser        = "enable_user"
	ActionBanPartialFailure = "ban_partial_failure"
)

// ViewAction names the audit action for reading a data type, e.g. view_settings.
func ViewAction(dataType string) string {
	return "view_" + dataType
}

// Entry is one append-only administrative access event.
type Entry struct {
	ID           string         `json:"id"`
	AdminID      string         `json:"admin_id"`
	TargetUserID string         `json:"target_user_id,omitempty"`
	Action       string         `json:"action"`
	Resource     string         `json:"resource,omitempty"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Details      map[string]any `json:"details,omitempty"`
}

// Store appends entries. Append must return only once the entry is durable.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
}

// Publisher receives entries after they are durable, e.g. the live admin feed.
type Publisher interface {
	Publish(entry Entry)
}

// Log is the single writer of audit entries.
type Log struct {
	store Store
	pub   Publisher
	now   func() time.Time
}

// Option configures Log.
type Option func(*Log)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithPublisher forwards durable entries to p.
func WithPublisher(p Publisher) Option {
	return func(l *Log) { l.pub = p }
}

// NewLog constructs a Log over store.
func NewLog(store Store, opts ...Option) *Log {
	l := &Log{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record durably appends entry. The returned error wraps access.ErrAuditFailure
// whenever the entry may not have been written.
func (l *Log) Record(ctx context.Context, entry Entry) (Entry, error) {
	entry.Action = strings.TrimSpace(entry.Action)
	if entry.Action == "" {
		return Entry{}, fmt.Errorf("%w: action is required", access.ErrAuditFailure)
	}
	if l == nil || l.store == nil {
		obs.ObserveAuditFailure()
		return Entry{}, fmt.Errorf("%w: no audit store", access.ErrAuditFailure)
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = l.now().UTC()
	}
	if entry.ID == "" {
		entry.ID = ids.NewAt(entry.OccurredAt)
	}
	if entry.RequestID == "" {
		entry.RequestID = RequestIDFromContext(ctx)
	}
	entry.Details = copyDetails(entry.Details)

	if err := l.store.Append(ctx, &entry); err != nil {
		obs.ObserveAuditFailure()
		obs.Logger().Error("audit append failed",
			zap.String("action", entry.Action),
			zap.String("admin_id", entry.AdminID),
			zap.String("target_user_id", entry.TargetUserID),
			zap.String("request_id", entry.RequestID),
			zap.Error(err),
		)
		if errors.Is(err, access.ErrAuditFailure) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("%w: %v", access.ErrAuditFailure, err)
	}

	obs.Logger().Info("audit",
		zap.String("type", "audit"),
		zap.String("event", entry.Action),
		zap.String("audit_id", entry.ID),
		zap.String("admin_id", entry.AdminID),
		zap.String("target_user_id", entry.TargetUserID),
		zap.String("resource", entry.Resource),
		zap.String("ip", entry.IP),
		zap.String("request_id", entry.RequestID),
		zap.Any("details", entry.Details),
	)
	if l.pub != nil {
		l.pub.Publish(entry)
	}
	return entry, nil
}

func copyDetails(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

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

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
