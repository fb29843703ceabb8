// Package cookie is a request scoped CredentialStorage that keeps credential
// tracks in browser cookies.
package cookie

import (
	"context"
	"encoding/base64"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/gofiber/fiber/v2"
)

var _ auth.CredentialStorage = (*Storage)(nil)

// Options controls the cookie attributes.
type Options struct {
	Path     string
	Domain   string
	MaxAge   time.Duration
	Secure   bool
	HTTPOnly bool
}

// DefaultOptions returns root scoped, 30 day, SameSite=Lax cookies.
func DefaultOptions() Options {
	return Options{
		Path:     "/",
		MaxAge:   auth.DefaultCredentialTTL,
		HTTPOnly: true,
	}
}

// Storage reads request cookies and writes response cookies of one fiber
// request. Values written during the request shadow the request cookies.
type Storage struct {
	c       *fiber.Ctx
	opts    Options
	written map[string][]byte
	deleted map[string]struct{}
}

// New returns a Storage bound to c.
func New(c *fiber.Ctx, opts Options) *Storage {
	if opts.Path == "" {
		opts.Path = "/"
	}
	return &Storage{
		c:       c,
		opts:    opts,
		written: map[string][]byte{},
		deleted: map[string]struct{}{},
	}
}

func (s *Storage) Load(_ context.Context, key string) ([]byte, error) {
	if _, gone := s.deleted[key]; gone {
		return nil, auth.ErrNotStored
	}
	if v, ok := s.written[key]; ok {
		return append([]byte(nil), v...), nil
	}

	raw := s.c.Cookies(key)
	if raw == "" {
		return nil, auth.ErrNotStored
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		// surfaced as-is so the caller discards it
		return []byte(raw), nil
	}
	return decoded, nil
}

func (s *Storage) Store(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.opts.MaxAge
	}
	cookie := s.cookie(key, base64.RawURLEncoding.EncodeToString(value))
	if ttl > 0 {
		cookie.MaxAge = int(ttl / time.Second)
		cookie.Expires = time.Now().Add(ttl)
	}
	s.c.Cookie(cookie)

	delete(s.deleted, key)
	s.written[key] = append([]byte(nil), value...)
	return nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	cookie := s.cookie(key, "")
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	s.c.Cookie(cookie)

	delete(s.written, key)
	s.deleted[key] = struct{}{}
	return nil
}

func (s *Storage) cookie(name, value string) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     s.opts.Path,
		Domain:   s.opts.Domain,
		Secure:   s.opts.Secure,
		HTTPOnly: s.opts.HTTPOnly,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
}
