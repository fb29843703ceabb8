package guard_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/Hopin-inc/civicship-portal-sub002/middleware/guard"
	"github.com/Hopin-inc/civicship-portal-sub002/storage/memory"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const community = "neo88"

type userLoaderFunc func(ctx context.Context, idToken string) (*auth.User, error)

func (f userLoaderFunc) CurrentUser(ctx context.Context, idToken string) (*auth.User, error) {
	return f(ctx, idToken)
}

func seed(t *testing.T, storage auth.CredentialStorage, track auth.Track, token string) {
	t.Helper()
	raw, err := json.Marshal(auth.Tokens{AccessToken: token, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, storage.Store(context.Background(), auth.StorageKey(track), raw, 0))
}

func newApp(cfg guard.Config) *fiber.App {
	app := fiber.New()
	app.Use(guard.New(cfg))
	app.Get("/*", func(c *fiber.Ctx) error {
		state, _ := guard.StateFromLocals(c)
		resp := fiber.Map{"state": state}
		if user, ok := guard.UserFromLocals(c); ok {
			resp["user"] = user.ID
		}
		if ctxState, ok := auth.StateFromContext(c.UserContext()); ok {
			resp["ctx_state"] = ctxState
		}
		return c.JSON(resp)
	})
	return app
}

func get(t *testing.T, app *fiber.App, target string, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func staticStorage(storage auth.CredentialStorage) func(*fiber.Ctx) auth.CredentialStorage {
	return func(*fiber.Ctx) auth.CredentialStorage { return storage }
}

func TestGuardRedirectsAnonymousFromProtectedPath(t *testing.T) {
	app := newApp(guard.Config{Storage: staticStorage(memory.New())})

	resp := get(t, app, "/wallets", nil)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?next=%2Fwallets", resp.Header.Get(fiber.HeaderLocation))

	resp = get(t, app, "/login", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, string(auth.StateUnauthenticated), decode(t, resp)["state"])
}

func TestGuardSendsSocialOnlyToPhoneVerification(t *testing.T) {
	storage := memory.New()
	seed(t, storage, auth.TrackLine, "line")

	app := newApp(guard.Config{Storage: staticStorage(storage)})
	resp := get(t, app, "/login", nil)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/sign-up/phone-verification", resp.Header.Get(fiber.HeaderLocation))
}

func TestGuardRegisteredUser(t *testing.T) {
	storage := memory.New()
	seed(t, storage, auth.TrackLine, "line")
	seed(t, storage, auth.TrackPhone, "phone")

	calls := 0
	users := userLoaderFunc(func(_ context.Context, idToken string) (*auth.User, error) {
		calls++
		assert.Equal(t, "phone", idToken)
		return &auth.User{
			ID:          "user-1",
			Memberships: []auth.Membership{{CommunityID: community, Role: auth.RoleMember}},
		}, nil
	})

	app := newApp(guard.Config{
		Storage: staticStorage(storage),
		Users:   users,
		Policy:  auth.NewRedirectPolicy(auth.DefaultRedirectConfig(community)),
	})

	resp := get(t, app, "/sign-up", nil)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get(fiber.HeaderLocation))

	resp = get(t, app, "/wallets", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, string(auth.StateUserRegistered), body["state"])
	assert.Equal(t, string(auth.StateUserRegistered), body["ctx_state"])
	assert.Equal(t, "user-1", body["user"])

	resp = get(t, app, "/admin", nil)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get(fiber.HeaderLocation))

	assert.Equal(t, 3, calls, "one backend lookup per request")
}

func TestGuardEmbeddedOutsiderGoesToPhoneVerification(t *testing.T) {
	storage := memory.New()
	seed(t, storage, auth.TrackLine, "line")
	seed(t, storage, auth.TrackPhone, "phone")

	app := newApp(guard.Config{
		Storage: staticStorage(storage),
		Users: userLoaderFunc(func(context.Context, string) (*auth.User, error) {
			return &auth.User{ID: "user-2"}, nil
		}),
		Policy: auth.NewRedirectPolicy(auth.DefaultRedirectConfig(community)),
	})

	resp := get(t, app, "/admin", map[string]string{
		fiber.HeaderUserAgent: "Mozilla/5.0 (iPhone) Mobile/15E148 Safari Line/13.1.0",
	})
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/sign-up/phone-verification?next=%2Fadmin", resp.Header.Get(fiber.HeaderLocation))

	resp = get(t, app, "/admin", nil)
	assert.Equal(t, "/login?next=%2Fadmin", resp.Header.Get(fiber.HeaderLocation))
}

func TestGuardFilterSkips(t *testing.T) {
	app := newApp(guard.Config{
		Storage: staticStorage(memory.New()),
		Filter:  func(c *fiber.Ctx) bool { return c.Path() == "/wallets" },
	})

	resp := get(t, app, "/wallets", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	_, hasState := decode(t, resp)["ctx_state"]
	assert.False(t, hasState)
}

func TestGuardReadsCookieTracks(t *testing.T) {
	raw, err := json.Marshal(auth.Tokens{AccessToken: "line", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	value := base64.RawURLEncoding.EncodeToString(raw)

	app := newApp(guard.Config{})
	resp := get(t, app, "/wallets", map[string]string{
		fiber.HeaderCookie: auth.StorageKey(auth.TrackLine) + "=" + value,
	})
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/sign-up/phone-verification?next=%2Fwallets", resp.Header.Get(fiber.HeaderLocation))
}

func TestGuardClearsExpiredCookieTrack(t *testing.T) {
	raw, err := json.Marshal(auth.Tokens{AccessToken: "line", ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)
	value := base64.RawURLEncoding.EncodeToString(raw)

	app := newApp(guard.Config{})
	resp := get(t, app, "/wallets", map[string]string{
		fiber.HeaderCookie: auth.StorageKey(auth.TrackLine) + "=" + value,
	})
	assert.Equal(t, "/login?next=%2Fwallets", resp.Header.Get(fiber.HeaderLocation))

	cleared := false
	for _, c := range resp.Cookies() {
		if c.Name == auth.StorageKey(auth.TrackLine) && c.Value == "" && c.Expires.Before(time.Now()) {
			cleared = true
		}
	}
	assert.True(t, cleared, "unrefreshable track is removed from the browser")
}

func TestIsEmbeddedBrowser(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		if guard.IsEmbeddedBrowser(c) {
			return c.SendString("embedded")
		}
		return c.SendString("browser")
	})

	cases := []struct {
		ua   string
		want string
	}{
		{ua: "Mozilla/5.0 (Linux; Android 13) Chrome/120.0 Mobile Safari/537.36 Line/13.20.1", want: "embedded"},
		{ua: "Mozilla/5.0 (Macintosh) Safari/605.1.15", want: "browser"},
	}
	for _, tc := range cases {
		resp := get(t, app, "/", map[string]string{fiber.HeaderUserAgent: tc.ua})
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(body), tc.ua)
	}
}

func TestGuardDropsTracksWithForgedSignatures(t *testing.T) {
	key := []byte("guard-signing-key")
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "line-uid"}).SignedString(key)
	require.NoError(t, err)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "phone-uid"}).SignedString([]byte("other-key"))
	require.NoError(t, err)

	storage := memory.New()
	seed(t, storage, auth.TrackLine, signed)
	seed(t, storage, auth.TrackPhone, forged)

	loaded := false
	app := newApp(guard.Config{
		Storage: staticStorage(storage),
		Users: userLoaderFunc(func(context.Context, string) (*auth.User, error) {
			loaded = true
			return nil, nil
		}),
		KeyFunc: func(*jwt.Token) (any, error) { return key, nil },
	})

	resp := get(t, app, "/login", nil)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "/sign-up/phone-verification", resp.Header.Get(fiber.HeaderLocation))
	assert.False(t, loaded, "forged phone track must not reach the backend")

	_, err = storage.Load(context.Background(), auth.StorageKey(auth.TrackPhone))
	assert.ErrorIs(t, err, auth.ErrNotStored)
}

func TestSignatureVerifier(t *testing.T) {
	key := []byte("k")
	verify := guard.SignatureVerifier(func(*jwt.Token) (any, error) { return key, nil })

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()}).SignedString(key)
	require.NoError(t, err)

	assert.NoError(t, verify(auth.TrackLine, &auth.Tokens{AccessToken: signed}), "expiry is not checked here")
	assert.NoError(t, verify(auth.TrackLine, &auth.Tokens{}))
	assert.ErrorIs(t, verify(auth.TrackPhone, &auth.Tokens{AccessToken: "not-a-jwt"}), guard.ErrUnsignedToken)
}
