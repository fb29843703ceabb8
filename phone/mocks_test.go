package phone_test

import (
	"context"
	"sync"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/Hopin-inc/civicship-portal-sub002/phone"
	"github.com/stretchr/testify/mock"
)

// MockProvider implements phone.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) SendVerificationCode(ctx context.Context, phoneNumber, challengeToken string) (string, error) {
	args := m.Called(ctx, phoneNumber, challengeToken)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) SignInWithPhoneCode(ctx context.Context, verificationID, code string) (*auth.ProviderUser, error) {
	args := m.Called(ctx, verificationID, code)
	user, _ := args.Get(0).(*auth.ProviderUser)
	return user, args.Error(1)
}

// MockSessionSyncer implements auth.SessionSyncer
type MockSessionSyncer struct {
	mock.Mock
}

func (m *MockSessionSyncer) SyncSessionCookie(ctx context.Context, idToken string) error {
	args := m.Called(ctx, idToken)
	return args.Error(0)
}

type widgetCall struct {
	op        string
	container string
	size      phone.WidgetSize
}

// recordingWidget records render and clear calls in order.
type recordingWidget struct {
	mu       sync.Mutex
	calls    []widgetCall
	token    string
	clearErr error
}

func (w *recordingWidget) Render(_ context.Context, containerID string, size phone.WidgetSize) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, widgetCall{op: "render", container: containerID, size: size})
	return w.token, nil
}

func (w *recordingWidget) Clear(containerID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, widgetCall{op: "clear", container: containerID})
	return w.clearErr
}

func (w *recordingWidget) snapshot() []widgetCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]widgetCall(nil), w.calls...)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return phone.ContainerPrefix + string(rune('a'+n-1))
	}
}

func phoneProviderError(code string) error {
	return &auth.ProviderError{Provider: "test", Operation: "phone", Status: 400, Code: code}
}
