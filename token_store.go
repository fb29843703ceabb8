package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/singleflight"
)

// Track identifies an independent credential track.
type Track string

const (
	TrackLine  Track = "line"
	TrackPhone Track = "phone"
)

const (
	// DefaultFreshnessBuffer is the window before expiry in which a token counts as expired.
	DefaultFreshnessBuffer = 5 * time.Minute
	// DefaultCredentialTTL is how long persisted credentials are kept (cookie max age).
	DefaultCredentialTTL = 30 * 24 * time.Hour
)

// ErrNotStored is returned by CredentialStorage when a key is missing.
var ErrNotStored = goerrors.New("credential not stored", goerrors.CategoryNotFound).
	WithTextCode("CREDENTIAL_NOT_STORED").
	WithCode(goerrors.CodeNotFound)

// Tokens is the credential material of one track.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UID          string    `json:"uid,omitempty"`
}

// CredentialStorage persists opaque values by key.
type CredentialStorage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// TokenRefresher exchanges a refresh token for a new token set.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)
}

// TokenRefresherFunc adapts a function to TokenRefresher.
type TokenRefresherFunc func(ctx context.Context, refreshToken string) (*Tokens, error)

// Refresh implements TokenRefresher.
func (f TokenRefresherFunc) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	return f(ctx, refreshToken)
}

// TokenStoreOption customizes a TokenStore.
type TokenStoreOption func(*TokenStore)

// WithRefresher sets the refresher used for track.
func WithRefresher(track Track, r TokenRefresher) TokenStoreOption {
	return func(s *TokenStore) {
		if r != nil {
			s.refreshers[track] = r
		}
	}
}

// WithFreshnessBuffer overrides DefaultFreshnessBuffer.
func WithFreshnessBuffer(d time.Duration) TokenStoreOption {
	return func(s *TokenStore) {
		if d > 0 {
			s.buffer = d
		}
	}
}

// WithCredentialTTL overrides DefaultCredentialTTL.
func WithCredentialTTL(d time.Duration) TokenStoreOption {
	return func(s *TokenStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithTokenStoreClock injects a custom clock (useful for tests).
func WithTokenStoreClock(clock func() time.Time) TokenStoreOption {
	return func(s *TokenStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithTokenStoreLogger overrides the logger.
func WithTokenStoreLogger(logger Logger) TokenStoreOption {
	return func(s *TokenStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// TokenVerifier checks credentials read back from storage. Tokens it rejects
// are discarded as if they were never stored.
type TokenVerifier func(track Track, tokens *Tokens) error

// WithTokenVerifier sets the check applied to credentials loaded from storage.
// Tokens passed to Save or produced by a refresh are not re-verified.
func WithTokenVerifier(verify TokenVerifier) TokenStoreOption {
	return func(s *TokenStore) {
		s.verify = verify
	}
}

// TokenStore persists and refreshes both credential tracks. Reads go through an
// in-memory cache first; Fresh only hits the provider when the cached token is
// missing or inside the freshness buffer.
type TokenStore struct {
	storage    CredentialStorage
	refreshers map[Track]TokenRefresher
	buffer     time.Duration
	ttl        time.Duration
	now        func() time.Time
	logger     Logger
	verify     TokenVerifier

	mu       sync.Mutex
	cache    map[Track]*Tokens
	inflight singleflight.Group
}

// NewTokenStore returns a store backed by storage.
func NewTokenStore(storage CredentialStorage, opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{
		storage:    storage,
		refreshers: map[Track]TokenRefresher{},
		buffer:     DefaultFreshnessBuffer,
		ttl:        DefaultCredentialTTL,
		now:        time.Now,
		logger:     defLogger{},
		cache:      map[Track]*Tokens{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// StorageKey returns the persistence key of track.
func StorageKey(track Track) string {
	return string(track) + "_auth_tokens"
}

// Save persists tokens for track and primes the cache.
func (s *TokenStore) Save(ctx context.Context, track Track, tokens Tokens) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return Classify(KindUnknown, "token_store.save", err, map[string]any{"track": track})
	}
	if err := s.storage.Store(ctx, StorageKey(track), raw, s.ttl); err != nil {
		return Classify(KindUnknown, "token_store.save", err, map[string]any{"track": track})
	}

	s.mu.Lock()
	cp := tokens
	s.cache[track] = &cp
	s.mu.Unlock()
	return nil
}

// Get returns the stored tokens for track, or nil when none are stored.
// It never contacts the provider.
func (s *TokenStore) Get(ctx context.Context, track Track) (*Tokens, error) {
	s.mu.Lock()
	if cached, ok := s.cache[track]; ok && cached != nil {
		cp := *cached
		s.mu.Unlock()
		return &cp, nil
	}
	s.mu.Unlock()

	raw, err := s.storage.Load(ctx, StorageKey(track))
	if err != nil {
		if errors.Is(err, ErrNotStored) {
			return nil, nil
		}
		return nil, Classify(KindUnknown, "token_store.get", err, map[string]any{"track": track})
	}

	var tokens Tokens
	if err := json.Unmarshal(raw, &tokens); err != nil {
		s.logger.Warn("discarding unreadable credentials", "track", track, "error", err)
		_ = s.storage.Delete(ctx, StorageKey(track))
		return nil, nil
	}
	if s.verify != nil {
		if err := s.verify(track, &tokens); err != nil {
			s.logger.Warn("discarding unverifiable credentials", "track", track, "error", err)
			_ = s.storage.Delete(ctx, StorageKey(track))
			return nil, nil
		}
	}

	s.mu.Lock()
	cp := tokens
	s.cache[track] = &cp
	s.mu.Unlock()
	return &tokens, nil
}

// Clear removes track from the cache and storage.
func (s *TokenStore) Clear(ctx context.Context, track Track) error {
	s.mu.Lock()
	delete(s.cache, track)
	s.mu.Unlock()

	if err := s.storage.Delete(ctx, StorageKey(track)); err != nil && !errors.Is(err, ErrNotStored) {
		return Classify(KindUnknown, "token_store.clear", err, map[string]any{"track": track})
	}
	return nil
}

// IsValid reports whether tokens carry an access token that expires after the
// freshness buffer.
func (s *TokenStore) IsValid(tokens *Tokens) bool {
	return IsTokenValid(tokens, s.now(), s.buffer)
}

// IsTokenValid is IsValid with an explicit clock and buffer.
func IsTokenValid(tokens *Tokens, now time.Time, buffer time.Duration) bool {
	if tokens == nil || tokens.AccessToken == "" {
		return false
	}
	return tokens.ExpiresAt.Sub(now) > buffer
}

// Fresh returns a token for track that is guaranteed to outlive the freshness
// buffer. A cached valid token is returned without a network call, otherwise a
// hard refresh is attempted. When no fresh token can be produced the track is
// cleared and ErrReauthRequired is returned; callers must restart the track's
// sign-in, not retry the call.
func (s *TokenStore) Fresh(ctx context.Context, track Track) (*Tokens, error) {
	current, err := s.Get(ctx, track)
	if err != nil {
		return nil, err
	}
	if s.IsValid(current) {
		return current, nil
	}
	if current == nil {
		return nil, Classify(KindExpired, "token_store.fresh", nil, map[string]any{"track": track, "reason": "no credentials"})
	}

	return s.refresh(ctx, track, current)
}

// refresh runs at most one refresh per track. The shared refresh is detached
// from the caller's cancellation; each caller stops waiting on its own ctx.
func (s *TokenStore) refresh(ctx context.Context, track Track, current *Tokens) (*Tokens, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.inflight.DoChan(string(track), func() (any, error) {
		return s.doRefresh(shared, track, current)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		tokens, _ := res.Val.(*Tokens)
		return tokens, nil
	case <-ctx.Done():
		return nil, Classify(KindNetwork, "token_store.refresh", ctx.Err(), map[string]any{"track": track})
	}
}

func (s *TokenStore) doRefresh(ctx context.Context, track Track, current *Tokens) (*Tokens, error) {
	refresher := s.refreshers[track]
	if refresher == nil || current.RefreshToken == "" {
		s.discard(ctx, track)
		return nil, Classify(KindExpired, "token_store.refresh", nil, map[string]any{"track": track, "reason": "not refreshable"})
	}

	next, err := refresher.Refresh(ctx, current.RefreshToken)
	if err != nil || next == nil || next.AccessToken == "" {
		s.logger.Warn("silent token refresh failed", "track", track, "error", err)
		s.discard(ctx, track)
		return nil, Classify(KindExpired, "token_store.refresh", err, map[string]any{"track": track})
	}

	fresh := *next
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = current.RefreshToken
	}
	if fresh.UID == "" {
		fresh.UID = current.UID
	}
	if err := s.Save(ctx, track, fresh); err != nil {
		return nil, err
	}

	s.logger.Debug("token refreshed", "track", track, "expires_at", fresh.ExpiresAt)
	return &fresh, nil
}

func (s *TokenStore) discard(ctx context.Context, track Track) {
	if err := s.Clear(ctx, track); err != nil {
		s.logger.Warn("failed to clear credentials", "track", track, "error", err)
	}
}
