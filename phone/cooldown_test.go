package phone_test

import (
	"context"
	"errors"
	"testing"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/Hopin-inc/civicship-portal-sub002/phone"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCooldown(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cd := phone.NewCooldown(60*time.Second, func() time.Time { return now })

	assert.True(t, cd.Ready())
	cd.Start()
	assert.False(t, cd.Ready())
	assert.Equal(t, 60*time.Second, cd.Remaining())

	now = now.Add(59 * time.Second)
	assert.Equal(t, time.Second, cd.Remaining())

	now = now.Add(time.Second)
	assert.True(t, cd.Ready())

	cd.Start()
	cd.Reset()
	assert.True(t, cd.Ready())
}

func TestResenderBlocksDuringCooldown(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	provider := &MockProvider{}
	provider.On("SendVerificationCode", mock.Anything, mock.Anything, mock.Anything).Return("vid-1", nil).Once()
	provider.On("SendVerificationCode", mock.Anything, mock.Anything, mock.Anything).Return("vid-2", nil).Once()

	resender := phone.NewResender(phone.NewService(provider, nil, nil), phone.NewCooldown(phone.DefaultResendCooldown, clock))

	id, err := resender.Send(context.Background(), "09012345678")
	require.NoError(t, err)
	assert.Equal(t, "vid-1", id)

	now = now.Add(20 * time.Second)
	_, err = resender.Send(context.Background(), "09012345678")
	require.Error(t, err)
	assert.Equal(t, auth.KindRateLimit, auth.KindOf(err))

	var rich *goerrors.Error
	require.True(t, errors.As(err, &rich))
	assert.Equal(t, 40, rich.Metadata["retry_after_seconds"])
	provider.AssertNumberOfCalls(t, "SendVerificationCode", 1)

	now = now.Add(40 * time.Second)
	id, err = resender.Send(context.Background(), "09012345678")
	require.NoError(t, err)
	assert.Equal(t, "vid-2", id)
}

func TestResenderDoesNotStartCooldownOnFailure(t *testing.T) {
	provider := &MockProvider{}
	provider.On("SendVerificationCode", mock.Anything, mock.Anything, mock.Anything).
		Return("", phoneProviderError("QUOTA_EXCEEDED")).Once()

	resender := phone.NewResender(phone.NewService(provider, nil, nil), nil)
	_, err := resender.Send(context.Background(), "09012345678")
	assert.Equal(t, auth.KindRateLimit, auth.KindOf(err))
	assert.True(t, resender.Cooldown().Ready())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind auth.ErrorKind
	}{
		{name: "invalid code", err: phoneProviderError("INVALID_CODE"), kind: auth.KindVerification},
		{name: "code expired", err: phoneProviderError("CODE_EXPIRED"), kind: auth.KindVerification},
		{name: "web sdk code", err: phoneProviderError("auth/invalid-verification-code"), kind: auth.KindVerification},
		{name: "missing session", err: phoneProviderError("MISSING_SESSION_INFO"), kind: auth.KindExpired},
		{name: "http 429", err: &auth.ProviderError{Status: 429}, kind: auth.KindRateLimit},
		{name: "server error", err: &auth.ProviderError{Status: 503}, kind: auth.KindNetwork},
		{name: "transport", err: &auth.ProviderError{Err: context.DeadlineExceeded}, kind: auth.KindNetwork},
		{name: "plain", err: errors.New("boom"), kind: auth.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, auth.KindOf(phone.ClassifyError("phone.verify", tt.err)))
		})
	}
	assert.Nil(t, phone.ClassifyError("op", nil))
}
