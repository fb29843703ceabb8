package main

import (
	"context"
	"fmt"
	"net/http"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/Hopin-inc/civicship-portal-sub002/activitymap"
	"github.com/Hopin-inc/civicship-portal-sub002/backend"
	"github.com/Hopin-inc/civicship-portal-sub002/liff"
	"github.com/Hopin-inc/civicship-portal-sub002/phone"
	"github.com/Hopin-inc/civicship-portal-sub002/provider/identitytoolkit"
	"github.com/Hopin-inc/civicship-portal-sub002/provider/memory"
	memstore "github.com/Hopin-inc/civicship-portal-sub002/storage/memory"
	redisstore "github.com/Hopin-inc/civicship-portal-sub002/storage/redis"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-logger/glog"
)

// credentialProvider is what the composition root needs from either provider.
type credentialProvider interface {
	auth.TokenRefresher
	phone.Provider
	liff.CredentialProvider
}

// App holds the collaborators of one process. Each is constructed once.
type App struct {
	config    *auth.Config
	logger    *glog.BaseLogger
	storage   auth.CredentialStorage
	sessionID string

	provider  credentialProvider
	keyFunc   jwt.Keyfunc
	backend   *backend.Client
	tokens    *auth.TokenStore
	machine   *auth.StateMachine
	policy    *auth.RedirectPolicy
	phone     *phone.Service
	resender  *phone.Resender
	registrar *backend.Registrar
	hostSDK   *liff.TokenSDK
	bridge    *liff.Bridge
	orch      *auth.Orchestrator
	activity  auth.ActivitySink
}

func newApp(ctx context.Context, cfg *auth.Config, logger *glog.BaseLogger, hostToken string) (*App, error) {
	a := &App{config: cfg, logger: logger}

	if err := a.setupStorage(ctx); err != nil {
		return nil, err
	}

	id, err := auth.EnsureSessionID(ctx, a.storage)
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	a.sessionID = id
	a.logger.SetGlobalFields(map[string]any{"session_id": id})

	a.activity = activitymap.Sink(func(_ context.Context, r activitymap.Record) error {
		a.GetLogger("activity").Debug("activity", "verb", r.Verb, "actor", r.ActorID, "outcome", r.Outcome, "kind", r.Kind, "metadata", r.Metadata)
		return nil
	}, activitymap.WithChannel("portal-auth"))

	a.setupProvider()

	a.tokens = auth.NewTokenStore(a.storage,
		auth.WithRefresher(auth.TrackLine, a.provider),
		auth.WithRefresher(auth.TrackPhone, a.provider),
		auth.WithFreshnessBuffer(cfg.FreshnessBuffer),
		auth.WithCredentialTTL(cfg.CookieMaxAge),
		auth.WithTokenStoreLogger(a.GetLogger("tokens")),
	)

	a.backend = backend.New(backend.Config{
		GraphQLURL:       cfg.GraphQLURL,
		TokenExchangeURL: cfg.TokenExchangeURL,
		SessionCookieURL: cfg.SessionCookieURL,
		CommunityID:      cfg.CommunityID,
		CommunityHeader:  cfg.CommunityHeader,
		HTTPClient:       &http.Client{Timeout: cfg.HTTPTimeout},
	},
		backend.WithLogger(a.GetLogger("backend")),
		backend.WithBearerSource(func(ctx context.Context) (string, error) {
			t, err := a.tokens.Fresh(ctx, auth.TrackLine)
			if err != nil {
				return "", err
			}
			return t.AccessToken, nil
		}),
	)

	a.machine = auth.NewStateMachine(a.tokens, a.backend,
		auth.WithStateMachineLogger(a.GetLogger("state")),
		auth.WithStateMachineActivitySink(a.activity),
	)
	a.machine.Subscribe(func(next, prev auth.AuthenticationState) {
		a.logger.Info("auth state changed", "from", prev, "to", next)
	})

	a.policy = auth.NewRedirectPolicy(auth.DefaultRedirectConfig(cfg.CommunityID))

	a.hostSDK = liff.NewTokenSDK(hostToken)
	a.bridge = liff.New(a.hostSDK, a.backend, a.provider,
		liff.WithLiffID(cfg.LiffID),
		liff.WithBaseURL(cfg.BaseURL),
		liff.WithTokenStore(a.tokens),
		liff.WithStateUpdater(a.machine),
		liff.WithSessionSyncer(a.backend),
		liff.WithSignInTimeout(cfg.SignInTimeout),
		liff.WithRetryPolicy(liff.RetryPolicy{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.RetryBackoff}),
		liff.WithLogger(a.GetLogger("liff")),
		liff.WithActivitySink(a.activity),
	)

	a.phone = phone.NewService(a.provider, phone.StaticWidget{}, a.tokens,
		phone.WithStateUpdater(a.machine),
		phone.WithSessionSyncer(a.backend),
		phone.WithEmbedded(a.hostSDK.IsInClient),
		phone.WithRegion(cfg.DefaultPhoneRegion),
		phone.WithLogger(a.GetLogger("phone")),
		phone.WithActivitySink(a.activity),
	)
	a.resender = phone.NewResender(a.phone, phone.NewCooldown(cfg.ResendCooldown, nil))
	a.registrar = backend.NewRegistrar(a.backend, a.machine, a.GetLogger("registrar"))

	a.orch = auth.NewOrchestrator(a.machine,
		auth.WithHostBridge(a.bridge),
		auth.WithOrchestratorLogger(a.GetLogger("bootstrap")),
		auth.WithOrchestratorSessionID(a.sessionID),
		auth.WithOrchestratorActivitySink(a.activity),
	)
	a.orch.Subscribe(func(p auth.Progress) {
		a.logger.Debug("bootstrap progress", "phase", p.Phase, "done", p.PhaseDone)
	})

	return a, nil
}

func (a *App) setupStorage(ctx context.Context) error {
	if a.config.RedisAddr == "" {
		a.storage = memstore.New()
		a.logger.Warn("AUTH_REDIS_ADDR not set, credentials are kept in memory")
		return nil
	}
	store, err := redisstore.Connect(ctx, a.config.RedisAddr, a.config.RedisPassword, a.config.RedisDB, a.config.RedisPrefix)
	if err != nil {
		return err
	}
	a.storage = store
	return nil
}

func (a *App) setupProvider() {
	if a.config.ProviderAPIKey == "" {
		a.logger.Warn("AUTH_PROVIDER_API_KEY not set, using the in-process development provider")
		opts := []memory.Option{memory.WithLogger(a.GetLogger("provider"))}
		if a.config.DevPhoneNumber != "" {
			if e164, err := phone.Normalize(a.config.DevPhoneNumber, a.config.DefaultPhoneRegion); err == nil {
				opts = append(opts, memory.WithTestPhoneNumber(e164, a.config.DevPhoneCode))
			} else {
				a.logger.Warn("ignoring invalid AUTH_DEV_PHONE_NUMBER", "error", err)
			}
		}
		dev := memory.New(opts...)
		a.provider = dev
		a.keyFunc = dev.Keyfunc()
		return
	}
	a.provider = identitytoolkit.New(identitytoolkit.Config{
		APIKey:         a.config.ProviderAPIKey,
		TenantID:       a.config.ProviderTenantID,
		BaseURL:        a.config.IdentityToolkitURL,
		SecureTokenURL: a.config.SecureTokenURL,
		HTTPClient:     &http.Client{Timeout: a.config.HTTPTimeout},
	})
}

// Close releases external resources.
func (a *App) Close() error {
	if closer, ok := a.storage.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (a *App) fiberConfig() fiber.Config {
	return fiber.Config{
		AppName:               "portalauth",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			auth.ReportError(a.GetLogger("http"), "http."+c.Path(), err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   auth.UserMessage(err),
				"kind":    auth.KindOf(err),
				"success": false,
			})
		},
	}
}
