package auth_test

import (
	"context"
	"sync"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/stretchr/testify/mock"
)

// MockUserLoader implements auth.UserLoader
type MockUserLoader struct {
	mock.Mock
}

func (m *MockUserLoader) CurrentUser(ctx context.Context, idToken string) (*auth.User, error) {
	args := m.Called(ctx, idToken)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

// MockTokenRefresher implements auth.TokenRefresher
type MockTokenRefresher struct {
	mock.Mock
}

func (m *MockTokenRefresher) Refresh(ctx context.Context, refreshToken string) (*auth.Tokens, error) {
	args := m.Called(ctx, refreshToken)
	tokens, _ := args.Get(0).(*auth.Tokens)
	return tokens, args.Error(1)
}

// MockActivitySink implements auth.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event auth.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockHostBridge implements auth.HostBridge
type MockHostBridge struct {
	mock.Mock
}

func (m *MockHostBridge) Initialize(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockHostBridge) InClient() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockHostBridge) LoggedIn() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockHostBridge) SignInWithHostToken(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }

func (l *captureLogger) levels() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.calls))
	for _, c := range l.calls {
		out = append(out, c.level)
	}
	return out
}

func (l *captureLogger) count(level string) int {
	n := 0
	for _, lvl := range l.levels() {
		if lvl == level {
			n++
		}
	}
	return n
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
