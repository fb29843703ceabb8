package liff

import (
	"context"
	"sync"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
)

// TokenSDK is a HostSDK for server side and terminal flows, where the host
// access token was obtained by the client and handed over. It counts as
// running inside the host when an access token is present.
type TokenSDK struct {
	mu          sync.Mutex
	accessToken string
	loginURL    string
}

// NewTokenSDK returns a TokenSDK holding accessToken.
func NewTokenSDK(accessToken string) *TokenSDK {
	return &TokenSDK{accessToken: accessToken}
}

func (s *TokenSDK) Init(context.Context, string) error {
	return nil
}

func (s *TokenSDK) IsInClient() bool {
	return s.GetAccessToken() != ""
}

func (s *TokenSDK) IsLoggedIn() bool {
	return s.GetAccessToken() != ""
}

// Login records redirectURI; the caller is expected to send the user there.
func (s *TokenSDK) Login(redirectURI string) error {
	if redirectURI == "" {
		return auth.Classify(auth.KindConfiguration, "liff.login", nil, map[string]any{"reason": "empty redirect uri"})
	}
	s.mu.Lock()
	s.loginURL = redirectURI
	s.mu.Unlock()
	return nil
}

// LoginURL returns the last redirect requested by Login.
func (s *TokenSDK) LoginURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginURL
}

func (s *TokenSDK) GetAccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// SetAccessToken replaces the held token.
func (s *TokenSDK) SetAccessToken(token string) {
	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()
}
