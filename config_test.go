package auth_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("AUTH_COMMUNITY_ID", "neo88")
	t.Setenv("AUTH_RESEND_COOLDOWN", "90s")

	cfg, err := auth.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "neo88", cfg.CommunityID)
	assert.Equal(t, 5*time.Minute, cfg.FreshnessBuffer)
	assert.Equal(t, 90*time.Second, cfg.ResendCooldown)
	assert.Equal(t, 30*time.Second, cfg.SignInTimeout)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, "JP", cfg.DefaultPhoneRegion)
	assert.Equal(t, "X-Community-Id", cfg.CommunityHeader)
	assert.Equal(t, "/", cfg.CookiePath())
}

func TestLoadConfigRequiresCommunity(t *testing.T) {
	t.Setenv("AUTH_COMMUNITY_ID", "")

	_, err := auth.LoadConfig("")
	require.Error(t, err)
	assert.Equal(t, auth.KindConfiguration, auth.KindOf(err))
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
community_id: kibotcha
graphql_url: https://api.example.com/graphql
cookie_multi_tenant: true
max_attempts: 5
`), 0o600))

	cfg, err := auth.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "kibotcha", cfg.CommunityID)
	assert.Equal(t, "https://api.example.com/graphql", cfg.GraphQLURL)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, "/kibotcha", cfg.CookiePath())
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("AUTH_COMMUNITY_ID", "neo88")
	cfg, err := auth.LoadConfig("")
	require.NoError(t, err)

	bad := *cfg
	bad.GraphQLURL = "not a url"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.MaxAttempts = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.DefaultPhoneRegion = "JPN"
	assert.Error(t, bad.Validate())

	assert.NoError(t, cfg.Validate())
}
