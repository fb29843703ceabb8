package auth

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the auth lifecycle options. Values come from the environment,
// optionally layered over a YAML/JSON/TOML file.
type Config struct {
	CommunityID string `yaml:"community_id" env:"AUTH_COMMUNITY_ID" env-required:"true"`
	BaseURL     string `yaml:"base_url" env:"AUTH_BASE_URL" env-default:"http://localhost:8000"`
	LiffID      string `yaml:"liff_id" env:"AUTH_LIFF_ID"`

	ProviderAPIKey     string `yaml:"provider_api_key" env:"AUTH_PROVIDER_API_KEY"`
	ProviderTenantID   string `yaml:"provider_tenant_id" env:"AUTH_PROVIDER_TENANT_ID"`
	IdentityToolkitURL string `yaml:"identity_toolkit_url" env:"AUTH_IDENTITY_TOOLKIT_URL" env-default:"https://identitytoolkit.googleapis.com"`
	SecureTokenURL     string `yaml:"secure_token_url" env:"AUTH_SECURE_TOKEN_URL" env-default:"https://securetoken.googleapis.com"`
	JWKSetURL          string `yaml:"jwk_set_url" env:"AUTH_JWK_SET_URL"`

	GraphQLURL         string `yaml:"graphql_url" env:"AUTH_GRAPHQL_URL" env-default:"http://localhost:3000/graphql"`
	TokenExchangeURL   string `yaml:"token_exchange_url" env:"AUTH_TOKEN_EXCHANGE_URL" env-default:"http://localhost:3000/line/liff-login"`
	SessionCookieURL   string `yaml:"session_cookie_url" env:"AUTH_SESSION_COOKIE_URL" env-default:"http://localhost:3000/sessionLogin"`
	CommunityHeader    string `yaml:"community_header" env:"AUTH_COMMUNITY_HEADER" env-default:"X-Community-Id"`
	DefaultPhoneRegion string `yaml:"default_phone_region" env:"AUTH_DEFAULT_PHONE_REGION" env-default:"JP"`

	FreshnessBuffer time.Duration `yaml:"freshness_buffer" env:"AUTH_FRESHNESS_BUFFER" env-default:"5m"`
	ResendCooldown  time.Duration `yaml:"resend_cooldown" env:"AUTH_RESEND_COOLDOWN" env-default:"60s"`
	SignInTimeout   time.Duration `yaml:"sign_in_timeout" env:"AUTH_SIGN_IN_TIMEOUT" env-default:"30s"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" env:"AUTH_RETRY_BACKOFF" env-default:"1s"`
	MaxAttempts     int           `yaml:"max_attempts" env:"AUTH_MAX_ATTEMPTS" env-default:"3"`
	HTTPTimeout     time.Duration `yaml:"http_timeout" env:"AUTH_HTTP_TIMEOUT" env-default:"10s"`

	CookieMaxAge      time.Duration `yaml:"cookie_max_age" env:"AUTH_COOKIE_MAX_AGE" env-default:"720h"`
	CookieSecure      bool          `yaml:"cookie_secure" env:"AUTH_COOKIE_SECURE" env-default:"false"`
	CookieMultiTenant bool          `yaml:"cookie_multi_tenant" env:"AUTH_COOKIE_MULTI_TENANT" env-default:"false"`

	DevPhoneNumber string `yaml:"dev_phone_number" env:"AUTH_DEV_PHONE_NUMBER"`
	DevPhoneCode   string `yaml:"dev_phone_code" env:"AUTH_DEV_PHONE_CODE" env-default:"123456"`

	RedisAddr     string `yaml:"redis_addr" env:"AUTH_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"AUTH_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"AUTH_REDIS_DB" env-default:"0"`
	RedisPrefix   string `yaml:"redis_prefix" env:"AUTH_REDIS_PREFIX" env-default:"civicship:auth:"`
}

// LoadConfig reads path (when not empty) and then the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, Classify(KindConfiguration, "config.load", err, map[string]any{"path": path})
	}
	if err := cfg.Validate(); err != nil {
		return nil, Classify(KindConfiguration, "config.validate", err, nil)
	}
	return cfg, nil
}

// Validate checks the option values.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.CommunityID, validation.Required),
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.IdentityToolkitURL, validation.Required, is.URL),
		validation.Field(&c.SecureTokenURL, validation.Required, is.URL),
		validation.Field(&c.JWKSetURL, is.URL),
		validation.Field(&c.GraphQLURL, validation.Required, is.URL),
		validation.Field(&c.TokenExchangeURL, validation.Required, is.URL),
		validation.Field(&c.SessionCookieURL, is.URL),
		validation.Field(&c.DefaultPhoneRegion, validation.Required, validation.Length(2, 2)),
		validation.Field(&c.FreshnessBuffer, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.ResendCooldown, validation.Required),
		validation.Field(&c.SignInTimeout, validation.Required),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1), validation.Max(10)),
	)
}

// CookiePath returns the path credential cookies are scoped to.
func (c *Config) CookiePath() string {
	if c.CookieMultiTenant && c.CommunityID != "" {
		return "/" + c.CommunityID
	}
	return "/"
}
