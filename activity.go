package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventStateChanged       ActivityEventType = "auth.state.changed"
	ActivityEventOTPSent            ActivityEventType = "auth.phone.otp_sent"
	ActivityEventPhoneVerified      ActivityEventType = "auth.phone.verified"
	ActivityEventPhoneFailed        ActivityEventType = "auth.phone.failed"
	ActivityEventHostSignIn         ActivityEventType = "auth.host.signin"
	ActivityEventHostSignInFailure  ActivityEventType = "auth.host.signin_failure"
	ActivityEventOrchestrationPhase ActivityEventType = "auth.orchestration.phase"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	SessionID  string
	UserID     string
	FromState  AuthenticationState
	ToState    AuthenticationState
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

// NormalizeActivitySink returns a no-op sink for nil.
func NormalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// RecordActivity emits event best-effort; sink failures are logged and dropped.
func RecordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if event.SessionID == "" {
		event.SessionID = SessionIDFromContext(ctx)
	}
	if err := NormalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink error", "event", event.EventType, "error", err)
	}
}
