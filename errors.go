package auth

import (
	"context"
	"errors"
	"net"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// ErrorKind classifies failures surfaced by the auth lifecycle.
type ErrorKind string

const (
	KindNetwork       ErrorKind = "network"
	KindRateLimit     ErrorKind = "rate_limit"
	KindExpired       ErrorKind = "expired"
	KindVerification  ErrorKind = "verification"
	KindConfiguration ErrorKind = "configuration"
	KindUnknown       ErrorKind = "unknown"
)

const (
	TextCodeNetwork            = "AUTH_NETWORK"
	TextCodeRateLimited        = "AUTH_RATE_LIMITED"
	TextCodeReauthRequired     = "AUTH_REAUTH_REQUIRED"
	TextCodeVerificationFailed = "AUTH_VERIFICATION_FAILED"
	TextCodeConfiguration      = "AUTH_CONFIGURATION"
	TextCodeUnknown            = "AUTH_UNKNOWN"

	textCodeInvalidTransition  = "INVALID_AUTH_STATE_TRANSITION"
	textCodeNoopTransition     = "NOOP_AUTH_STATE_TRANSITION"
	textCodeTransitionInFlight = "AUTH_STATE_TRANSITION_IN_FLIGHT"
)

// ErrNetwork is a transport level failure. Callers may retry.
var ErrNetwork = goerrors.New("network request failed", goerrors.CategoryInternal).
	WithTextCode(TextCodeNetwork).
	WithCode(http.StatusServiceUnavailable)

// ErrRateLimited means the provider throttled the request. Callers must wait out a cooldown.
var ErrRateLimited = goerrors.New("too many attempts, try again later", goerrors.CategoryAuth).
	WithTextCode(TextCodeRateLimited).
	WithCode(http.StatusTooManyRequests)

// ErrReauthRequired means the affected credential track must restart from its entry point.
var ErrReauthRequired = goerrors.New("re-authentication required", goerrors.CategoryAuth).
	WithTextCode(TextCodeReauthRequired).
	WithCode(goerrors.CodeUnauthorized)

// ErrVerificationFailed is a bad or expired OTP code. The user may retry without a new SMS.
var ErrVerificationFailed = goerrors.New("verification code is invalid or expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeVerificationFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrConfiguration is a fatal setup problem (bad API key, disabled provider, bad phone format).
var ErrConfiguration = goerrors.New("authentication is misconfigured", goerrors.CategoryInternal).
	WithTextCode(TextCodeConfiguration).
	WithCode(http.StatusInternalServerError)

// ErrUnknown wraps anything that could not be classified.
var ErrUnknown = goerrors.New("unexpected authentication failure", goerrors.CategoryInternal).
	WithTextCode(TextCodeUnknown).
	WithCode(http.StatusInternalServerError)

// ErrInvalidTransition is returned when the requested state is not reachable from the current one.
var ErrInvalidTransition = goerrors.New("invalid auth state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrNoopTransition is returned when the requested state equals the current state.
var ErrNoopTransition = goerrors.New("auth state already current", goerrors.CategoryConflict).
	WithTextCode(textCodeNoopTransition).
	WithCode(goerrors.CodeConflict)

// ErrTransitionInFlight is returned when another transition is being applied.
var ErrTransitionInFlight = goerrors.New("auth state transition in flight", goerrors.CategoryConflict).
	WithTextCode(textCodeTransitionInFlight).
	WithCode(goerrors.CodeConflict)

var kindByTextCode = map[string]ErrorKind{
	TextCodeNetwork:            KindNetwork,
	TextCodeRateLimited:        KindRateLimit,
	TextCodeReauthRequired:     KindExpired,
	TextCodeVerificationFailed: KindVerification,
	TextCodeConfiguration:      KindConfiguration,
	TextCodeUnknown:            KindUnknown,
}

// Retryable reports whether the core considers a failure of this kind safe to retry as-is.
func (k ErrorKind) Retryable() bool {
	return k == KindNetwork
}

// Loggable reports whether failures of this kind need operator follow-up.
func (k ErrorKind) Loggable() bool {
	return k == KindConfiguration || k == KindUnknown
}

// KindOf returns the taxonomy class of err. Unclassified errors are KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var rich *goerrors.Error
	if errors.As(err, &rich) && rich != nil {
		if kind, ok := kindByTextCode[rich.TextCode]; ok {
			return kind
		}
	}

	if isNetworkError(err) {
		return KindNetwork
	}

	return KindUnknown
}

// Classify wraps err with the sentinel for kind, attaching the operation and metadata.
// Errors that are already classified are returned untouched.
func Classify(kind ErrorKind, op string, err error, meta map[string]any) error {
	if err != nil {
		var rich *goerrors.Error
		if errors.As(err, &rich) && rich != nil {
			if _, ok := kindByTextCode[rich.TextCode]; ok {
				return err
			}
		}
	}

	base := sentinelFor(kind)
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if err != nil {
		clone.Source = err
	}

	md := map[string]any{}
	if op != "" {
		md["operation"] = op
	}
	for k, v := range meta {
		md[k] = v
	}
	if err != nil {
		md["error"] = err.Error()
	}
	if len(md) > 0 {
		clone.WithMetadata(md)
	}

	return clone
}

// UserMessage returns the copy shown next to a failed form action.
func UserMessage(err error) string {
	switch KindOf(err) {
	case "":
		return ""
	case KindRateLimit:
		return "Too many attempts. Please wait a moment before trying again."
	case KindVerification:
		return "The code is incorrect or has expired. Check the code and try again."
	case KindNetwork:
		return "Could not reach the server. Please check your connection and retry."
	case KindExpired:
		return "Your session has expired. Please sign in again."
	default:
		return "Something went wrong. Please try again later."
	}
}

// ReportError logs err at error severity only when its kind needs operator follow-up.
func ReportError(logger Logger, op string, err error) {
	if err == nil || logger == nil {
		return
	}
	kind := KindOf(err)
	if !kind.Loggable() {
		logger.Debug("auth operation failed", "operation", op, "kind", kind, "error", err)
		return
	}

	var rich *goerrors.Error
	if errors.As(err, &rich) && rich != nil && len(rich.Metadata) > 0 {
		logger.Error("auth operation failed", "operation", op, "kind", kind, "error", err,
			"details", print.MaybePrettyJSON(rich.Metadata))
		return
	}
	logger.Error("auth operation failed", "operation", op, "kind", kind, "error", err)
}

func sentinelFor(kind ErrorKind) *goerrors.Error {
	switch kind {
	case KindNetwork:
		return ErrNetwork
	case KindRateLimit:
		return ErrRateLimited
	case KindExpired:
		return ErrReauthRequired
	case KindVerification:
		return ErrVerificationFailed
	case KindConfiguration:
		return ErrConfiguration
	default:
		return ErrUnknown
	}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
