package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	graphql "github.com/hasura/go-graphql-client"
)

const providerName = "backend"

// DefaultCommunityHeader scopes backend calls to the active community.
const DefaultCommunityHeader = "X-Community-Id"

// Config holds backend endpoints.
type Config struct {
	GraphQLURL       string
	TokenExchangeURL string
	SessionCookieURL string
	CommunityID      string
	CommunityHeader  string
	HTTPClient       *http.Client
}

// Profile is the social profile returned by the host token exchange.
type Profile struct {
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl"`
	UserID      string `json:"userId,omitempty"`
}

// Exchange is the result of trading a host access token for a custom sign-in token.
type Exchange struct {
	CustomToken string  `json:"customToken"`
	Profile     Profile `json:"profile"`
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBearerSource supplies the ID token sent with identity-check calls.
func WithBearerSource(fn func(ctx context.Context) (string, error)) ClientOption {
	return func(c *Client) {
		c.bearer = fn
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client talks to the portal backend: the GraphQL API, the host token
// exchange and the session cookie endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	gql        *graphql.Client
	bearer     func(ctx context.Context) (string, error)
	logger     auth.Logger
}

// New returns a backend client.
func New(cfg Config, opts ...ClientOption) *Client {
	if cfg.CommunityHeader == "" {
		cfg.CommunityHeader = DefaultCommunityHeader
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Client{
		config:     cfg,
		httpClient: client,
		gql:        graphql.NewClient(cfg.GraphQLURL, client),
		logger:     auth.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ExchangeHostToken trades the host SDK access token for a custom sign-in
// token. Failures are returned as *auth.ProviderError so retry policies can
// inspect the status; they are not classified here. A misconfigured endpoint
// is the exception and comes back as a configuration error.
func (c *Client) ExchangeHostToken(ctx context.Context, accessToken string) (*Exchange, error) {
	body, status, err := c.postJSON(ctx, "exchange_host_token", c.config.TokenExchangeURL, "", map[string]string{"accessToken": accessToken})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		code, desc, raw := parseRESTError(body)
		return nil, providerError("exchange_host_token", status, code, desc, nil, raw)
	}

	var out Exchange
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, providerError("exchange_host_token", status, "invalid_response", "failed to decode exchange response", err, nil)
	}
	if out.CustomToken == "" {
		return nil, providerError("exchange_host_token", status, "missing_custom_token", "missing custom token", nil, nil)
	}
	return &out, nil
}

// SyncSessionCookie posts idToken to the session cookie endpoint. It is a no-op
// when no endpoint is configured.
func (c *Client) SyncSessionCookie(ctx context.Context, idToken string) error {
	if c.config.SessionCookieURL == "" {
		return nil
	}
	body, status, err := c.postJSON(ctx, "sync_session_cookie", c.config.SessionCookieURL, idToken, map[string]string{"idToken": idToken})
	if err != nil {
		return Classify("sync_session_cookie", err)
	}
	if status < 200 || status >= 300 {
		code, desc, raw := parseRESTError(body)
		return Classify("sync_session_cookie", providerError("sync_session_cookie", status, code, desc, nil, raw))
	}
	return nil
}

// postJSON sends payload to endpoint. Only transport failures come back as a
// status-less ProviderError; a request that cannot be built is a configuration
// error and is never worth retrying.
func (c *Client) postJSON(ctx context.Context, op, endpoint, bearer string, payload any) ([]byte, int, error) {
	target, err := requestURL(op, endpoint)
	if err != nil {
		return nil, 0, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, auth.Classify(auth.KindConfiguration, "backend."+op, err, nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, auth.Classify(auth.KindConfiguration, "backend."+op, err, map[string]any{"endpoint": endpoint})
	}
	c.setHeaders(req, bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, providerError(op, 0, "request_failed", "", err, nil)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, providerError(op, resp.StatusCode, "request_failed", "", err, nil)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request, bearer string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.CommunityID != "" {
		req.Header.Set(c.config.CommunityHeader, c.config.CommunityID)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
}

// requestURL checks that endpoint is an absolute http(s) URL.
func requestURL(op, endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return u.String(), nil
	}
	if err == nil {
		err = fmt.Errorf("endpoint %q is not an absolute http(s) URL", endpoint)
	}
	return "", auth.Classify(auth.KindConfiguration, "backend."+op, err, map[string]any{"endpoint": endpoint})
}

func providerError(operation string, status int, code, description string, err error, raw map[string]any) error {
	return &auth.ProviderError{
		Provider:    providerName,
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
		Raw:         raw,
	}
}

func parseRESTError(body []byte) (string, string, map[string]any) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", "", nil
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", strings.TrimSpace(string(body)), nil
	}

	code, _ := payload["code"].(string)
	desc, _ := payload["message"].(string)
	if desc == "" {
		desc, _ = payload["error"].(string)
	}
	return code, desc, payload
}

// Classify maps a backend failure onto the auth taxonomy.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	perr, ok := auth.AsProviderError(err)
	if !ok {
		return auth.Classify(auth.KindOf(err), op, err, nil)
	}

	meta := perr.Metadata()
	switch {
	case perr.Status == http.StatusTooManyRequests:
		return auth.Classify(auth.KindRateLimit, op, err, meta)
	case perr.Status == http.StatusUnauthorized || perr.Code == "UNAUTHENTICATED":
		return auth.Classify(auth.KindExpired, op, err, meta)
	case perr.ServerError():
		return auth.Classify(auth.KindNetwork, op, err, meta)
	case perr.Status == 0 && perr.Err != nil && auth.KindOf(perr.Err) == auth.KindNetwork:
		return auth.Classify(auth.KindNetwork, op, err, meta)
	default:
		return auth.Classify(auth.KindUnknown, op, err, meta)
	}
}
