package main

import (
	"context"
	"strings"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/Hopin-inc/civicship-portal-sub002/middleware/guard"
	"github.com/Hopin-inc/civicship-portal-sub002/storage/cookie"
	"github.com/gofiber/fiber/v2"
)

func (a *App) jwkSetURLs() []string {
	if a.keyFunc != nil || a.config.JWKSetURL == "" {
		return nil
	}
	return []string{a.config.JWKSetURL}
}

func (a *App) serve(ctx context.Context, addr string) error {
	app := fiber.New(a.fiberConfig())

	cookies := cookie.Options{
		Path:   a.config.CookiePath(),
		MaxAge: a.config.CookieMaxAge,
		Secure: a.config.CookieSecure,
	}

	app.Use(guard.New(guard.Config{
		Filter: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/api/")
		},
		Policy: a.policy,
		Users:  a.backend,
		Refreshers: map[auth.Track]auth.TokenRefresher{
			auth.TrackLine:  a.provider,
			auth.TrackPhone: a.provider,
		},
		CookieOptions:   cookies,
		KeyFunc:         a.keyFunc,
		JWKSetURLs:      a.jwkSetURLs(),
		FreshnessBuffer: a.config.FreshnessBuffer,
		Logger:          a.GetLogger("guard"),
	}))

	app.Post("/api/logout", func(c *fiber.Ctx) error {
		store := auth.NewTokenStore(cookie.New(c, cookies))
		machine := auth.NewStateMachine(store, nil, auth.WithStateMachineLogger(a.GetLogger("state")))
		if err := machine.Logout(c.UserContext()); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"success": true, "state": machine.GetState()})
	})

	app.Get("/*", func(c *fiber.Ctx) error {
		state, _ := guard.StateFromLocals(c)
		resp := fiber.Map{"path": c.Path(), "state": state}
		if user, ok := guard.UserFromLocals(c); ok {
			resp["user_id"] = user.ID
		}
		return c.JSON(resp)
	})

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	a.logger.Info("serving route guard", "addr", addr, "community", a.config.CommunityID)
	return app.Listen(addr)
}
