package identitytoolkit

import (
	"context"
	"errors"
	"strconv"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

type idTokenClaims struct {
	UID         string
	PhoneNumber string
	ExpiresAt   time.Time
}

// parseIDToken reads uid, phone and expiry from an ID token without verifying
// it. The signature is checked by the backend, not by the client.
func parseIDToken(idToken string, fallbackExpiry time.Time) idTokenClaims {
	out := idTokenClaims{ExpiresAt: fallbackExpiry}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return out
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		out.UID = sub
	}
	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		out.UID = uid
	}
	if phone, ok := claims["phone_number"].(string); ok {
		out.PhoneNumber = phone
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out
}

// Refresh exchanges refreshToken at the secure token endpoint. It implements
// auth.TokenRefresher; the returned access token is the new ID token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*auth.Tokens, error) {
	if refreshToken == "" {
		return nil, providerError("refresh", 0, "MISSING_REFRESH_TOKEN", "missing refresh token", nil, nil)
	}

	cfg := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.config.SecureTokenURL + "/v1/token?key=" + c.config.APIKey,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			code, description, raw := parseError(rerr.Body)
			if code == "" {
				code = rerr.ErrorCode
			}
			return nil, providerError("refresh", rerr.Response.StatusCode, code, description, err, raw)
		}
		return nil, providerError("refresh", 0, "", "", err, nil)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		idToken = tok.AccessToken
	}
	if idToken == "" {
		return nil, providerError("refresh", 200, "MISSING_ID_TOKEN", "missing id token", nil, nil)
	}

	fallback := tok.Expiry
	if fallback.IsZero() {
		fallback = c.now().Add(time.Hour)
		if raw, ok := tok.Extra("expires_in").(string); ok {
			if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
				fallback = c.now().Add(time.Duration(secs) * time.Second)
			}
		}
	}
	claims := parseIDToken(idToken, fallback)

	uid, _ := tok.Extra("user_id").(string)
	if uid == "" {
		uid = claims.UID
	}

	next := &auth.Tokens{
		AccessToken:  idToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    claims.ExpiresAt,
		UID:          uid,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = refreshToken
	}

	c.mu.Lock()
	if c.current != nil && c.current.UID == uid {
		c.current.Tokens = *next
	}
	c.mu.Unlock()

	return next, nil
}
