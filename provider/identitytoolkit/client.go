package identitytoolkit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
)

const (
	providerName = "identitytoolkit"

	defaultBaseURL        = "https://identitytoolkit.googleapis.com"
	defaultSecureTokenURL = "https://securetoken.googleapis.com"
)

// Config holds identity toolkit settings.
type Config struct {
	APIKey         string
	TenantID       string
	BaseURL        string
	SecureTokenURL string
	HTTPClient     *http.Client
	Now            func() time.Time
}

// Client is a REST client for the identity toolkit credential provider. It
// keeps a current user handle that is resolved asynchronously after sign-in,
// the same way the browser SDK does.
type Client struct {
	config     Config
	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	current   *auth.ProviderUser
	listeners map[int]func(*auth.ProviderUser)
	nextID    int
}

// New returns a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.SecureTokenURL == "" {
		cfg.SecureTokenURL = defaultSecureTokenURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.SecureTokenURL = strings.TrimRight(cfg.SecureTokenURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		config:     cfg,
		httpClient: client,
		now:        now,
		listeners:  map[int]func(*auth.ProviderUser){},
	}
}

// Name returns the provider name used in errors.
func (c *Client) Name() string {
	return providerName
}

// CurrentUser returns a copy of the signed-in user handle, or nil.
func (c *Client) CurrentUser() *auth.ProviderUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

// OnAuthStateChanged registers fn for future user changes; a nil user means
// signed out. Listeners are invoked on their own goroutine after the change is
// committed. The returned func removes the listener.
func (c *Client) OnAuthStateChanged(fn func(*auth.ProviderUser)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// SignOut drops the current user handle.
func (c *Client) SignOut() {
	c.setCurrent(nil)
}

type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	PhoneNumber  string `json:"phoneNumber"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
}

// SignInWithCustomToken signs in with a backend minted custom token. The
// current user handle is published to auth state listeners once resolved.
func (c *Client) SignInWithCustomToken(ctx context.Context, customToken string) error {
	payload := map[string]any{
		"token":             customToken,
		"returnSecureToken": true,
	}
	c.withTenant(payload)

	var resp signInResponse
	if err := c.post(ctx, "sign_in_custom_token", "/v1/accounts:signInWithCustomToken", payload, &resp); err != nil {
		return err
	}

	user, err := c.userFromSignIn("sign_in_custom_token", resp)
	if err != nil {
		return err
	}
	c.setCurrent(user)
	return nil
}

type sendCodeResponse struct {
	SessionInfo string `json:"sessionInfo"`
}

// SendVerificationCode sends an OTP to phoneNumber and returns the session info
// used as verification id.
func (c *Client) SendVerificationCode(ctx context.Context, phoneNumber, challengeToken string) (string, error) {
	payload := map[string]any{
		"phoneNumber":    phoneNumber,
		"recaptchaToken": challengeToken,
	}
	c.withTenant(payload)

	var resp sendCodeResponse
	if err := c.post(ctx, "send_verification_code", "/v1/accounts:sendVerificationCode", payload, &resp); err != nil {
		return "", err
	}
	if resp.SessionInfo == "" {
		return "", providerError("send_verification_code", http.StatusOK, "MISSING_SESSION_INFO", "missing session info", nil, nil)
	}
	return resp.SessionInfo, nil
}

// SignInWithPhoneCode completes the OTP flow. The phone identity is returned
// and does not replace the current user handle.
func (c *Client) SignInWithPhoneCode(ctx context.Context, verificationID, code string) (*auth.ProviderUser, error) {
	payload := map[string]any{
		"sessionInfo": verificationID,
		"code":        code,
	}
	c.withTenant(payload)

	var resp signInResponse
	if err := c.post(ctx, "sign_in_phone_number", "/v1/accounts:signInWithPhoneNumber", payload, &resp); err != nil {
		return nil, err
	}
	return c.userFromSignIn("sign_in_phone_number", resp)
}

// UpdateProfile sets display fields on the current user.
func (c *Client) UpdateProfile(ctx context.Context, displayName, photoURL string) error {
	current := c.CurrentUser()
	if current == nil {
		return providerError("update_profile", 0, "NO_CURRENT_USER", "no signed in user", nil, nil)
	}

	payload := map[string]any{
		"idToken":           current.Tokens.AccessToken,
		"returnSecureToken": false,
	}
	if displayName != "" {
		payload["displayName"] = displayName
	}
	if photoURL != "" {
		payload["photoUrl"] = photoURL
	}
	c.withTenant(payload)

	if err := c.post(ctx, "update_profile", "/v1/accounts:update", payload, nil); err != nil {
		return err
	}

	c.mu.Lock()
	if c.current != nil && c.current.UID == current.UID {
		if displayName != "" {
			c.current.DisplayName = displayName
		}
		if photoURL != "" {
			c.current.PhotoURL = photoURL
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) userFromSignIn(op string, resp signInResponse) (*auth.ProviderUser, error) {
	if resp.IDToken == "" {
		return nil, providerError(op, http.StatusOK, "MISSING_ID_TOKEN", "missing id token", nil, nil)
	}

	fallback := c.now()
	if secs, err := strconv.Atoi(resp.ExpiresIn); err == nil && secs > 0 {
		fallback = fallback.Add(time.Duration(secs) * time.Second)
	}
	claims := parseIDToken(resp.IDToken, fallback)

	uid := resp.LocalID
	if uid == "" {
		uid = claims.UID
	}
	phone := resp.PhoneNumber
	if phone == "" {
		phone = claims.PhoneNumber
	}

	return &auth.ProviderUser{
		UID:         uid,
		DisplayName: resp.DisplayName,
		PhotoURL:    resp.PhotoURL,
		PhoneNumber: phone,
		Tokens: auth.Tokens{
			AccessToken:  resp.IDToken,
			RefreshToken: resp.RefreshToken,
			ExpiresAt:    claims.ExpiresAt,
			UID:          uid,
		},
	}, nil
}

func (c *Client) setCurrent(user *auth.ProviderUser) {
	c.mu.Lock()
	c.current = user
	listeners := make([]func(*auth.ProviderUser), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	var snapshot *auth.ProviderUser
	if user != nil {
		cp := *user
		snapshot = &cp
	}
	c.mu.Unlock()

	if len(listeners) == 0 {
		return
	}
	go func() {
		for _, fn := range listeners {
			fn(snapshot)
		}
	}()
}

func (c *Client) withTenant(payload map[string]any) {
	if c.config.TenantID != "" {
		payload["tenantId"] = c.config.TenantID
	}
}

func (c *Client) post(ctx context.Context, op, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return providerError(op, 0, "invalid_request", "failed to encode request", err, nil)
	}

	endpoint := c.config.BaseURL + path + "?key=" + c.config.APIKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return providerError(op, 0, "invalid_request", "failed to build request", err, nil)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providerError(op, 0, "", "", err, nil)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return providerError(op, resp.StatusCode, "", "", err, nil)
	}

	if resp.StatusCode != http.StatusOK {
		code, description, rawErr := parseError(body)
		return providerError(op, resp.StatusCode, code, description, nil, rawErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return providerError(op, resp.StatusCode, "invalid_response", "failed to decode response", err, nil)
	}
	return nil
}
