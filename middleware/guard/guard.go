package guard

import (
	"context"
	"strings"
	"sync"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/Hopin-inc/civicship-portal-sub002/storage/cookie"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultUserKey  = "auth_user"
	DefaultStateKey = "auth_state"
)

// Config configures the route guard.
type Config struct {
	// Filter skips the guard when it returns true.
	Filter func(*fiber.Ctx) bool
	// Policy decides redirects. Defaults to the portal layout.
	Policy *auth.RedirectPolicy
	// Users resolves the registered user of the phone identity.
	Users auth.UserLoader
	// Refreshers refresh near-expiry tracks during state derivation.
	Refreshers map[auth.Track]auth.TokenRefresher
	// Storage returns the credential storage of a request. Defaults to cookies.
	Storage func(*fiber.Ctx) auth.CredentialStorage
	// CookieOptions apply when Storage is not set.
	CookieOptions cookie.Options
	// FreshnessBuffer overrides auth.DefaultFreshnessBuffer.
	FreshnessBuffer time.Duration
	// Embedded reports whether the request comes from the host in-app browser.
	Embedded func(*fiber.Ctx) bool
	// KeyFunc verifies access token signatures of stored tracks. Tracks that
	// fail verification are treated as absent.
	KeyFunc jwt.Keyfunc
	// JWKSetURLs build KeyFunc when it is not set.
	JWKSetURLs []string
	// UserKey and StateKey name the locals the guard fills.
	UserKey  string
	StateKey string
	Logger   auth.Logger
}

// GetDefaultConfig fills the unset fields of config.
func GetDefaultConfig(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Policy == nil {
		cfg.Policy = auth.NewRedirectPolicy(auth.DefaultRedirectConfig(""))
	}
	if cfg.CookieOptions.Path == "" && cfg.CookieOptions.MaxAge == 0 {
		cfg.CookieOptions = cookie.DefaultOptions()
	}
	if cfg.Storage == nil {
		opts := cfg.CookieOptions
		cfg.Storage = func(c *fiber.Ctx) auth.CredentialStorage {
			return cookie.New(c, opts)
		}
	}
	if cfg.FreshnessBuffer <= 0 {
		cfg.FreshnessBuffer = auth.DefaultFreshnessBuffer
	}
	if cfg.Embedded == nil {
		cfg.Embedded = IsEmbeddedBrowser
	}
	if cfg.UserKey == "" {
		cfg.UserKey = DefaultUserKey
	}
	if cfg.StateKey == "" {
		cfg.StateKey = DefaultStateKey
	}
	if cfg.Logger == nil {
		cfg.Logger = auth.DefaultLogger()
	}
	if cfg.KeyFunc == nil && len(cfg.JWKSetURLs) > 0 {
		var err error
		cfg.KeyFunc, err = multiKeyfunc(cfg.JWKSetURLs, cfg.Logger)
		if err != nil {
			panic("Failed to create keyfunc from JWK Set URL: " + err.Error())
		}
	}
	return cfg
}

// IsEmbeddedBrowser detects the host platform's in-app browser from the user agent.
func IsEmbeddedBrowser(c *fiber.Ctx) bool {
	return strings.Contains(c.Get(fiber.HeaderUserAgent), " Line/")
}

// New returns a fiber handler that derives the request's auth state from its
// credential tracks and redirects according to the policy. Allowed requests
// carry the state and user in locals and in the user context.
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		ctx := c.UserContext()
		storage := cfg.Storage(c)

		opts := []auth.TokenStoreOption{
			auth.WithFreshnessBuffer(cfg.FreshnessBuffer),
			auth.WithTokenStoreLogger(cfg.Logger),
		}
		if cfg.KeyFunc != nil {
			opts = append(opts, auth.WithTokenVerifier(SignatureVerifier(cfg.KeyFunc)))
		}
		for track, r := range cfg.Refreshers {
			opts = append(opts, auth.WithRefresher(track, r))
		}
		tokens := auth.NewTokenStore(storage, opts...)

		users := &memoLoader{next: cfg.Users}
		var loader auth.UserLoader
		if cfg.Users != nil {
			loader = users
		}
		machine := auth.NewStateMachine(tokens, loader, auth.WithStateMachineLogger(cfg.Logger))
		state := machine.Initialize(ctx)

		var user *auth.User
		if state.AtLeast(auth.StatePhoneAuthenticated) {
			user = users.cached()
		}

		policy := cfg.Policy.ForHost(cfg.Embedded(c))
		if target, ok := policy.Decide(c.OriginalURL(), state, user); ok {
			cfg.Logger.Debug("route guard redirect", "path", c.Path(), "state", state, "target", target)
			return c.Redirect(target, fiber.StatusFound)
		}

		c.Locals(cfg.StateKey, state)
		c.Locals(cfg.UserKey, user)
		c.SetUserContext(auth.WithStateContext(auth.WithContext(ctx, user), state))
		return c.Next()
	}
}

// memoLoader remembers the last user resolved during state derivation so the
// guard does not query the backend twice per request.
type memoLoader struct {
	next auth.UserLoader

	mu   sync.Mutex
	user *auth.User
}

func (m *memoLoader) CurrentUser(ctx context.Context, idToken string) (*auth.User, error) {
	if m.next == nil {
		return nil, nil
	}
	user, err := m.next.CurrentUser(ctx, idToken)
	m.mu.Lock()
	m.user = user
	m.mu.Unlock()
	return user, err
}

func (m *memoLoader) cached() *auth.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// StateFromLocals returns the state the guard stored on c.
func StateFromLocals(c *fiber.Ctx, key ...string) (auth.AuthenticationState, bool) {
	k := DefaultStateKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}
	state, ok := c.Locals(k).(auth.AuthenticationState)
	return state, ok
}

// UserFromLocals returns the user the guard stored on c.
func UserFromLocals(c *fiber.Ctx, key ...string) (*auth.User, bool) {
	k := DefaultUserKey
	if len(key) > 0 && key[0] != "" {
		k = key[0]
	}
	user, ok := c.Locals(k).(*auth.User)
	return user, ok && user != nil
}
