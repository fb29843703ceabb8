package liff

import (
	"net/http"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
)

var configurationCodes = map[string]struct{}{
	"INVALID_CUSTOM_TOKEN":    {},
	"CREDENTIAL_MISMATCH":     {},
	"CONFIGURATION_NOT_FOUND": {},
	"API_KEY_INVALID":         {},
	"INVALID_API_KEY":         {},
	"OPERATION_NOT_ALLOWED":   {},
	"TENANT_ID_MISMATCH":      {},
}

// ClassifyError maps host sign-in failures onto the auth taxonomy.
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
	_, config := configurationCodes[perr.Code]
	switch {
	case perr.ServerError() || (perr.Status == 0 && perr.Err != nil):
		return auth.Classify(auth.KindNetwork, op, err, meta)
	case perr.Status == http.StatusTooManyRequests:
		return auth.Classify(auth.KindRateLimit, op, err, meta)
	case perr.Status == http.StatusUnauthorized:
		return auth.Classify(auth.KindExpired, op, err, meta)
	case config || perr.Status == http.StatusForbidden:
		return auth.Classify(auth.KindConfiguration, op, err, meta)
	default:
		return auth.Classify(auth.KindUnknown, op, err, meta)
	}
}
