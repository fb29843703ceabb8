package phone

import (
	"net/http"
	"strings"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	goerrors "github.com/goliatone/go-errors"
)

// ErrNoVerificationSession is returned by VerifyCode before a code was sent.
var ErrNoVerificationSession = goerrors.New("no verification in progress, request a new code", goerrors.CategoryBadInput).
	WithTextCode(auth.TextCodeReauthRequired).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidPhoneNumber is returned when the input cannot be parsed as a phone number.
var ErrInvalidPhoneNumber = goerrors.New("phone number is invalid", goerrors.CategoryBadInput).
	WithTextCode(auth.TextCodeVerificationFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrAttemptInFlight is returned when a send or verify is already running.
// It reports as a rate limit: the caller has to wait for the running request.
var ErrAttemptInFlight = goerrors.New("a verification request is already in progress", goerrors.CategoryConflict).
	WithTextCode(auth.TextCodeRateLimited).
	WithCode(goerrors.CodeConflict)

// ErrSuperseded is returned when the attempt was reset while its request was running.
var ErrSuperseded = goerrors.New("verification attempt was superseded", goerrors.CategoryConflict).
	WithTextCode(auth.TextCodeReauthRequired).
	WithCode(goerrors.CodeConflict)

var rateLimitCodes = map[string]struct{}{
	"TOO_MANY_ATTEMPTS_TRY_LATER": {},
	"QUOTA_EXCEEDED":              {},
	"auth/too-many-requests":      {},
	"auth/quota-exceeded":         {},
}

var verificationCodes = map[string]struct{}{
	"INVALID_CODE":                   {},
	"CODE_EXPIRED":                   {},
	"SESSION_EXPIRED":                {},
	"auth/invalid-verification-code": {},
	"auth/code-expired":              {},
	"auth/missing-verification-code": {},
}

var expiredCodes = map[string]struct{}{
	"INVALID_SESSION_INFO":         {},
	"MISSING_SESSION_INFO":         {},
	"auth/invalid-verification-id": {},
}

var configurationCodes = map[string]struct{}{
	"INVALID_PHONE_NUMBER":        {},
	"MISSING_PHONE_NUMBER":        {},
	"INVALID_APP_CREDENTIAL":      {},
	"MISSING_APP_CREDENTIAL":      {},
	"CAPTCHA_CHECK_FAILED":        {},
	"OPERATION_NOT_ALLOWED":       {},
	"API_KEY_INVALID":             {},
	"INVALID_API_KEY":             {},
	"TENANT_ID_MISMATCH":          {},
	"auth/invalid-app-credential": {},
	"auth/argument-error":         {},
	"auth/invalid-phone-number":   {},
	"auth/operation-not-allowed":  {},
}

// ClassifyError maps a raw provider failure onto the auth taxonomy. It is the
// only place phone provider errors are interpreted.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if kind := auth.KindOf(err); kind != auth.KindUnknown {
		return auth.Classify(kind, op, err, nil)
	}

	perr, ok := auth.AsProviderError(err)
	if !ok {
		return auth.Classify(auth.KindUnknown, op, err, nil)
	}

	meta := perr.Metadata()
	code := normalizeCode(perr.Code)
	switch {
	case inSet(rateLimitCodes, code) || perr.Status == http.StatusTooManyRequests:
		return auth.Classify(auth.KindRateLimit, op, err, meta)
	case inSet(verificationCodes, code):
		return auth.Classify(auth.KindVerification, op, err, meta)
	case inSet(expiredCodes, code):
		return auth.Classify(auth.KindExpired, op, err, meta)
	case inSet(configurationCodes, code):
		return auth.Classify(auth.KindConfiguration, op, err, meta)
	case perr.ServerError() || (perr.Status == 0 && perr.Err != nil && auth.KindOf(perr.Err) == auth.KindNetwork):
		return auth.Classify(auth.KindNetwork, op, err, meta)
	default:
		return auth.Classify(auth.KindUnknown, op, err, meta)
	}
}

// normalizeCode strips the " : detail" suffix some providers append.
func normalizeCode(code string) string {
	if i := strings.Index(code, " : "); i >= 0 {
		code = code[:i]
	}
	return strings.TrimSpace(code)
}

func inSet(set map[string]struct{}, v string) bool {
	_, ok := set[v]
	return ok
}
