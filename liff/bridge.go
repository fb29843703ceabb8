package liff

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/Hopin-inc/civicship-portal-sub002/backend"
)

// DefaultSignInTimeout bounds the wait for the provider's auth state listener.
const DefaultSignInTimeout = 30 * time.Second

// HostSDK is the social platform's mini-app SDK.
type HostSDK interface {
	Init(ctx context.Context, liffID string) error
	IsInClient() bool
	IsLoggedIn() bool
	Login(redirectURI string) error
	GetAccessToken() string
}

// Exchanger trades a host access token for a custom sign-in token.
type Exchanger interface {
	ExchangeHostToken(ctx context.Context, accessToken string) (*backend.Exchange, error)
}

// CredentialProvider is the sign-in surface of the credential provider.
type CredentialProvider interface {
	SignInWithCustomToken(ctx context.Context, customToken string) error
	OnAuthStateChanged(fn func(*auth.ProviderUser)) func()
	UpdateProfile(ctx context.Context, displayName, photoURL string) error
	CurrentUser() *auth.ProviderUser
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithLiffID sets the mini-app id passed to HostSDK.Init.
func WithLiffID(id string) Option {
	return func(b *Bridge) {
		b.liffID = id
	}
}

// WithBaseURL sets the origin login redirects resolve against.
func WithBaseURL(baseURL string) Option {
	return func(b *Bridge) {
		b.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTokenStore persists the social track after sign-in.
func WithTokenStore(tokens *auth.TokenStore) Option {
	return func(b *Bridge) {
		b.tokens = tokens
	}
}

// WithStateUpdater sets where line_authenticated is pushed after sign-in.
func WithStateUpdater(state auth.StateUpdater) Option {
	return func(b *Bridge) {
		b.state = state
	}
}

// WithSessionSyncer mirrors the sign-in into the server session cookie.
func WithSessionSyncer(syncer auth.SessionSyncer) Option {
	return func(b *Bridge) {
		b.syncer = syncer
	}
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(b *Bridge) {
		b.retry = policy.normalized()
	}
}

// WithSignInTimeout overrides DefaultSignInTimeout.
func WithSignInTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.signInTimeout = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithActivitySink records host sign-in outcomes.
func WithActivitySink(sink auth.ActivitySink) Option {
	return func(b *Bridge) {
		b.activitySink = auth.NormalizeActivitySink(sink)
	}
}

// Bridge connects the host mini-app SDK to the credential provider.
type Bridge struct {
	sdk           HostSDK
	exchanger     Exchanger
	provider      CredentialProvider
	tokens        *auth.TokenStore
	state         auth.StateUpdater
	syncer        auth.SessionSyncer
	retry         RetryPolicy
	signInTimeout time.Duration
	liffID        string
	baseURL       string
	logger        auth.Logger
	activitySink  auth.ActivitySink

	initOnce sync.Once
	mu       sync.Mutex
	ready    bool
	initErr  error
}

// New returns a Bridge.
func New(sdk HostSDK, exchanger Exchanger, provider CredentialProvider, opts ...Option) *Bridge {
	b := &Bridge{
		sdk:           sdk,
		exchanger:     exchanger,
		provider:      provider,
		retry:         DefaultRetryPolicy(),
		signInTimeout: DefaultSignInTimeout,
		logger:        auth.DefaultLogger(),
		activitySink:  auth.NormalizeActivitySink(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Initialize initializes the host SDK once. Later calls return the first
// outcome without touching the SDK again.
func (b *Bridge) Initialize(ctx context.Context) bool {
	b.initOnce.Do(func() {
		err := b.sdk.Init(ctx, b.liffID)
		b.mu.Lock()
		b.ready = err == nil
		b.initErr = err
		b.mu.Unlock()
		if err != nil {
			auth.ReportError(b.logger, "liff.init", ClassifyError("liff.init", err))
			return
		}
		b.logger.Debug("host sdk initialized", "in_client", b.sdk.IsInClient(), "logged_in", b.sdk.IsLoggedIn())
	})
	return b.Ready()
}

// Ready reports whether Initialize succeeded.
func (b *Bridge) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// InitError returns the Initialize failure, if any.
func (b *Bridge) InitError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initErr
}

// InClient reports whether the app runs inside the host's in-app browser.
func (b *Bridge) InClient() bool {
	return b.sdk.IsInClient()
}

// LoggedIn reports whether the host SDK holds a logged in session.
func (b *Bridge) LoggedIn() bool {
	return b.Ready() && b.sdk.IsLoggedIn()
}

// Login signs in through the host. Outside the host browser, or when the host
// session is missing, it hands over to the SDK login redirect; otherwise it
// runs SignInWithHostToken directly.
func (b *Bridge) Login(ctx context.Context, redirectPath string) error {
	if !b.Initialize(ctx) {
		return auth.Classify(auth.KindConfiguration, "liff.login", b.InitError(), nil)
	}

	if !b.sdk.IsInClient() || !b.sdk.IsLoggedIn() {
		redirect := b.baseURL + redirectPath
		if err := b.sdk.Login(redirect); err != nil {
			return ClassifyError("liff.login", err)
		}
		return nil
	}

	return b.SignInWithHostToken(ctx)
}

// SignInWithHostToken exchanges the host access token for a custom token,
// signs in to the credential provider and waits until the provider reports
// the signed in user. The social track is persisted and line_authenticated
// pushed on success.
func (b *Bridge) SignInWithHostToken(ctx context.Context) error {
	accessToken := b.sdk.GetAccessToken()
	if accessToken == "" {
		return b.fail(ctx, auth.Classify(auth.KindExpired, "liff.sign_in", nil, map[string]any{"reason": "no host access token"}))
	}

	var exchange *backend.Exchange
	err := b.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		ex, err := b.exchanger.ExchangeHostToken(ctx, accessToken)
		if err != nil {
			b.logger.Warn("host token exchange failed", "attempt", attempt, "error", err)
			return err
		}
		exchange = ex
		return nil
	})
	if err != nil {
		return b.fail(ctx, ClassifyError("liff.exchange", err))
	}

	user, err := b.signIn(ctx, exchange.CustomToken)
	if err != nil {
		return b.fail(ctx, err)
	}

	if err := b.provider.UpdateProfile(ctx, exchange.Profile.DisplayName, exchange.Profile.PictureURL); err != nil {
		b.logger.Warn("profile update after host sign in failed", "error", err)
	} else {
		user.DisplayName = exchange.Profile.DisplayName
		user.PhotoURL = exchange.Profile.PictureURL
	}

	if current := b.provider.CurrentUser(); current != nil && current.UID == user.UID {
		user.Tokens = current.Tokens
	}
	tokens := user.Tokens
	if tokens.UID == "" {
		tokens.UID = user.UID
	}

	if b.tokens != nil {
		if err := b.tokens.Save(ctx, auth.TrackLine, tokens); err != nil {
			return b.fail(ctx, err)
		}
	}

	if b.state != nil {
		if err := b.state.UpdateState(ctx, auth.StateLineAuthenticated, "host token sign in"); err != nil {
			b.logger.Debug("line_authenticated not applied", "current", b.state.GetState(), "error", err)
		}
	}

	if b.syncer != nil {
		if err := b.syncer.SyncSessionCookie(ctx, tokens.AccessToken); err != nil {
			b.logger.Warn("session cookie sync failed after host sign in", "error", err)
		}
	}

	auth.RecordActivity(ctx, b.activitySink, b.logger, auth.ActivityEvent{
		EventType: auth.ActivityEventHostSignIn,
		UserID:    user.UID,
	})
	return nil
}

// signIn blocks until the provider's auth state listener reports a user, not
// just until the sign-in call returns.
func (b *Bridge) signIn(ctx context.Context, customToken string) (*auth.ProviderUser, error) {
	resolved := make(chan *auth.ProviderUser, 1)
	unsubscribe := b.provider.OnAuthStateChanged(func(user *auth.ProviderUser) {
		if user == nil || user.UID == "" {
			return
		}
		select {
		case resolved <- user:
		default:
		}
	})
	defer unsubscribe()

	if err := b.provider.SignInWithCustomToken(ctx, customToken); err != nil {
		return nil, ClassifyError("liff.sign_in", err)
	}

	timer := time.NewTimer(b.signInTimeout)
	defer timer.Stop()

	select {
	case user := <-resolved:
		return user, nil
	case <-timer.C:
		return nil, auth.Classify(auth.KindNetwork, "liff.sign_in", errSignInTimeout, map[string]any{"timeout": b.signInTimeout.String()})
	case <-ctx.Done():
		return nil, auth.Classify(auth.KindNetwork, "liff.sign_in", ctx.Err(), nil)
	}
}

var errSignInTimeout = errors.New("timed out waiting for auth state listener")

func (b *Bridge) fail(ctx context.Context, err error) error {
	auth.ReportError(b.logger, "liff.sign_in", err)
	auth.RecordActivity(ctx, b.activitySink, b.logger, auth.ActivityEvent{
		EventType: auth.ActivityEventHostSignInFailure,
		Metadata:  map[string]any{"kind": auth.KindOf(err), "error": err.Error()},
	})
	return err
}
