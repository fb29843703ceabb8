package auth_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestClassifyAttachesKindAndMetadata(t *testing.T) {
	cause := errors.New("QUOTA_EXCEEDED")
	err := auth.Classify(auth.KindRateLimit, "phone.send", cause, map[string]any{"track": "phone"})

	require.Error(t, err)
	assert.Equal(t, auth.KindRateLimit, auth.KindOf(err))

	var rich *goerrors.Error
	require.True(t, errors.As(err, &rich))
	assert.Equal(t, auth.TextCodeRateLimited, rich.TextCode)
	assert.Equal(t, "phone.send", rich.Metadata["operation"])
	assert.Equal(t, "phone", rich.Metadata["track"])
	assert.Equal(t, "QUOTA_EXCEEDED", rich.Metadata["error"])
	assert.Same(t, cause, rich.Source)
}

func TestClassifyDoesNotMutateSentinel(t *testing.T) {
	_ = auth.Classify(auth.KindNetwork, "op", errors.New("boom"), map[string]any{"k": "v"})
	assert.Nil(t, auth.ErrNetwork.Source)
	assert.NotContains(t, auth.ErrNetwork.Metadata, "k")
}

func TestClassifyKeepsExistingKind(t *testing.T) {
	first := auth.Classify(auth.KindVerification, "phone.verify", errors.New("INVALID_CODE"), nil)
	second := auth.Classify(auth.KindUnknown, "outer", fmt.Errorf("wrapped: %w", first), nil)

	assert.Equal(t, auth.KindVerification, auth.KindOf(second))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind auth.ErrorKind
	}{
		{name: "nil", err: nil, kind: ""},
		{name: "plain error", err: errors.New("nope"), kind: auth.KindUnknown},
		{name: "deadline", err: context.DeadlineExceeded, kind: auth.KindNetwork},
		{name: "net error", err: &net.OpError{Op: "dial", Err: timeoutError{}}, kind: auth.KindNetwork},
		{name: "expired sentinel", err: auth.ErrReauthRequired, kind: auth.KindExpired},
		{name: "configuration sentinel", err: auth.ErrConfiguration, kind: auth.KindConfiguration},
		{name: "transition errors are not kinds", err: auth.ErrInvalidTransition, kind: auth.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, auth.KindOf(tt.err))
		})
	}
}

func TestErrorKindPolicies(t *testing.T) {
	assert.True(t, auth.KindNetwork.Retryable())
	for _, k := range []auth.ErrorKind{auth.KindRateLimit, auth.KindExpired, auth.KindVerification, auth.KindConfiguration, auth.KindUnknown} {
		assert.False(t, k.Retryable(), k)
	}

	assert.True(t, auth.KindConfiguration.Loggable())
	assert.True(t, auth.KindUnknown.Loggable())
	for _, k := range []auth.ErrorKind{auth.KindNetwork, auth.KindRateLimit, auth.KindExpired, auth.KindVerification} {
		assert.False(t, k.Loggable(), k)
	}
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, auth.UserMessage(nil))
	assert.Contains(t, auth.UserMessage(auth.Classify(auth.KindRateLimit, "", nil, nil)), "Too many attempts")
	assert.Contains(t, auth.UserMessage(auth.Classify(auth.KindVerification, "", nil, nil)), "code is incorrect")
	assert.Contains(t, auth.UserMessage(auth.Classify(auth.KindExpired, "", nil, nil)), "sign in again")
	assert.Contains(t, auth.UserMessage(errors.New("weird")), "Something went wrong")
}

func TestReportErrorSeverity(t *testing.T) {
	tests := []struct {
		kind  auth.ErrorKind
		level string
	}{
		{auth.KindNetwork, "debug"},
		{auth.KindRateLimit, "debug"},
		{auth.KindExpired, "debug"},
		{auth.KindVerification, "debug"},
		{auth.KindConfiguration, "error"},
		{auth.KindUnknown, "error"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			logger := &captureLogger{}
			auth.ReportError(logger, "op", auth.Classify(tt.kind, "op", nil, nil))
			assert.Equal(t, []string{tt.level}, logger.levels())
		})
	}

	logger := &captureLogger{}
	auth.ReportError(logger, "op", nil)
	assert.Empty(t, logger.levels())
}

func TestReportErrorIncludesDetails(t *testing.T) {
	logger := &captureLogger{}
	auth.ReportError(logger, "config.load", auth.Classify(auth.KindConfiguration, "config.load", nil, map[string]any{"path": "auth.yml"}))

	require.Len(t, logger.calls, 1)
	args := logger.calls[0].args
	var details string
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "details" {
			details, _ = args[i+1].(string)
		}
	}
	assert.Contains(t, details, "auth.yml")
	assert.Contains(t, details, "config.load")
}

func TestProviderError(t *testing.T) {
	cause := errors.New("bad gateway")
	perr := &auth.ProviderError{
		Provider:  "backend",
		Operation: "exchange",
		Status:    502,
		Code:      "UPSTREAM",
		Err:       cause,
	}

	wrapped := fmt.Errorf("exchange: %w", perr)
	got, ok := auth.AsProviderError(wrapped)
	require.True(t, ok)
	assert.Same(t, perr, got)
	assert.True(t, got.ServerError())
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, 502, got.Metadata()["status"])

	_, ok = auth.AsProviderError(errors.New("plain"))
	assert.False(t, ok)
}
