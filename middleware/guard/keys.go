package guard

import (
	"errors"
	"fmt"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnsignedToken is returned for stored access tokens whose signature the
// configured key set cannot verify.
var ErrUnsignedToken = errors.New("guard: access token signature not verified")

func multiKeyfunc(urls []string, logger auth.Logger) (jwt.Keyfunc, error) {
	opts := keyfuncOptions(logger)
	m := make(map[string]keyfunc.Options, len(urls))
	for _, url := range urls {
		m[url] = opts
	}
	multi, err := keyfunc.GetMultiple(m, keyfunc.MultipleOptions{
		KeySelector: keyfunc.KeySelectorFirst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get JWK set URLs: %w", err)
	}
	return multi.Keyfunc, nil
}

func keyfuncOptions(logger auth.Logger) keyfunc.Options {
	return keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Warn("background refresh of JWK set failed", "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
}

// SignatureVerifier returns a token verifier that accepts a track only when
// its access token is signed by a key keyFunc resolves. Expiry is left to the
// token store, which refreshes stale tokens instead of dropping them.
func SignatureVerifier(keyFunc jwt.Keyfunc) auth.TokenVerifier {
	return func(track auth.Track, tokens *auth.Tokens) error {
		if tokens == nil || tokens.AccessToken == "" {
			return nil
		}
		token, err := jwt.Parse(tokens.AccessToken, keyFunc, jwt.WithoutClaimsValidation())
		if err != nil {
			return fmt.Errorf("%w: %s track: %v", ErrUnsignedToken, track, err)
		}
		if !token.Valid {
			return fmt.Errorf("%w: %s track", ErrUnsignedToken, track)
		}
		return nil
	}
}
