package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the sink
	Close() error
}

type contextKey string

// AuditLoggerKey is the context key for the audit logger
const AuditLoggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NoopLogger{}
}

// NoopLogger drops every event
type NoopLogger struct{}

func (NoopLogger) Log(context.Context, *Event) error { return nil }
func (NoopLogger) Close() error                      { return nil }

// NewEvent builds an event stamped now, filling the actor and department
// from observability context values. A non-nil err sets the failure
// status and error fields; a denied error kind sets denied.
func NewEvent(ctx context.Context, eventType EventType, err error) *Event {
	event := &Event{
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		Status:       EventStatusSuccess,
		UserID:       observability.GetUserID(ctx),
		SessionID:    observability.GetSessionID(ctx),
		DepartmentID: observability.GetDepartmentID(ctx),
	}
	if err != nil {
		event.Status = statusFor(err)
		event.ErrorKind = accesserr.Label(err)
		event.ErrorMessage = err.Error()
	}
	return event
}

func statusFor(err error) EventStatus {
	switch accesserr.KindOf(err) {
	case accesserr.ErrInsufficientPrivilege,
		accesserr.ErrInvalidEscalationCredential,
		accesserr.ErrNotAMember,
		accesserr.ErrImmutableRole:
		return EventStatusDenied
	default:
		return EventStatusFailure
	}
}

// SlogLogger writes audit events through the structured service logger
type SlogLogger struct {
	logger *observability.Logger
}

// NewSlogLogger creates an audit logger on top of a service logger
func NewSlogLogger(logger *observability.Logger) *SlogLogger {
	return &SlogLogger{logger: logger.WithField("audit", true)}
}

// Log implements Logger
func (l *SlogLogger) Log(_ context.Context, event *Event) error {
	fields := map[string]interface{}{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}
	if event.SessionID != "" {
		fields["session_id"] = event.SessionID
	}
	if event.Role != "" {
		fields["role"] = event.Role
	}
	if event.DepartmentID != "" {
		fields["department_id"] = event.DepartmentID
	}
	if len(event.Rights) > 0 {
		fields["rights"] = event.Rights
	}
	if event.ErrorKind != "" {
		fields["error_kind"] = event.ErrorKind
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := l.logger.WithFields(fields)
	if event.ErrorMessage != "" {
		entry = entry.WithField("error", event.ErrorMessage)
	}

	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}
	if event.Status == EventStatusSuccess {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}
	return nil
}

// Close implements Logger
func (l *SlogLogger) Close() error {
	return nil
}
