package auth

import (
	"net/url"
	"strings"
)

// RoleRule restricts a path prefix to members holding at least MinRole in the
// active community.
type RoleRule struct {
	Prefix  string
	MinRole Role
}

// RedirectConfig holds the path layout the redirect policy reasons about.
type RedirectConfig struct {
	LoginPath             string
	SignUpPath            string
	PhoneVerificationPath string
	HomePath              string
	NextParam             string
	ProtectedPrefixes     []string
	RoleRules             []RoleRule
	RoleFallbacks         map[Role]string
	CommunityID           string
}

// DefaultRedirectConfig returns the portal's path layout.
func DefaultRedirectConfig(communityID string) RedirectConfig {
	return RedirectConfig{
		LoginPath:             "/login",
		SignUpPath:            "/sign-up",
		PhoneVerificationPath: "/sign-up/phone-verification",
		HomePath:              "/",
		NextParam:             "next",
		ProtectedPrefixes:     []string{"/users/me", "/wallets", "/admin", "/tickets"},
		RoleRules: []RoleRule{
			{Prefix: "/admin", MinRole: RoleManager},
			{Prefix: "/admin/settings", MinRole: RoleOwner},
		},
		RoleFallbacks: map[Role]string{
			RoleManager: "/admin",
			RoleMember:  "/",
		},
		CommunityID: communityID,
	}
}

// RedirectPolicy decides where a navigation should go given the auth state.
// It holds no session state; Decide is a pure function of its inputs.
type RedirectPolicy struct {
	cfg      RedirectConfig
	embedded bool
}

// NewRedirectPolicy fills missing paths from DefaultRedirectConfig.
func NewRedirectPolicy(cfg RedirectConfig) *RedirectPolicy {
	def := DefaultRedirectConfig(cfg.CommunityID)
	if cfg.LoginPath == "" {
		cfg.LoginPath = def.LoginPath
	}
	if cfg.SignUpPath == "" {
		cfg.SignUpPath = def.SignUpPath
	}
	if cfg.PhoneVerificationPath == "" {
		cfg.PhoneVerificationPath = def.PhoneVerificationPath
	}
	if cfg.HomePath == "" {
		cfg.HomePath = def.HomePath
	}
	if cfg.NextParam == "" {
		cfg.NextParam = def.NextParam
	}
	if cfg.ProtectedPrefixes == nil {
		cfg.ProtectedPrefixes = def.ProtectedPrefixes
	}
	if cfg.RoleRules == nil {
		cfg.RoleRules = def.RoleRules
	}
	if cfg.RoleFallbacks == nil {
		cfg.RoleFallbacks = def.RoleFallbacks
	}
	return &RedirectPolicy{cfg: cfg}
}

// ForHost returns a copy of the policy for a request made inside (or outside)
// the embedded host browser.
func (p *RedirectPolicy) ForHost(embedded bool) *RedirectPolicy {
	cp := *p
	cp.embedded = embedded
	return &cp
}

// Config returns the effective configuration.
func (p *RedirectPolicy) Config() RedirectConfig {
	return p.cfg
}

// Decide returns the path to redirect to and true, or "" and false to stay.
// Rules are evaluated in order and the first match wins: entry flow, protected
// paths, then role restrictions.
func (p *RedirectPolicy) Decide(rawPath string, state AuthenticationState, user *User) (string, bool) {
	path, next := p.split(rawPath)

	if p.isEntryFlow(path) {
		return p.decideEntry(path, next, state, user)
	}

	if p.isProtected(path) {
		if target, ok, done := p.decideProtected(rawPath, state, user); done {
			return target, ok
		}
	}

	if state == StateUserRegistered || (user != nil && state.AtLeast(StateLineAuthenticated)) {
		if target, ok := p.decideRole(path, rawPath, user); ok {
			return target, true
		}
	}

	return "", false
}

func (p *RedirectPolicy) decideEntry(path, next string, state AuthenticationState, user *User) (string, bool) {
	switch state {
	case StateUnauthenticated:
		return p.redirectUnless(path, p.cfg.LoginPath, p.safeNext(next))
	case StateLineAuthenticated:
		return p.redirectUnless(path, p.cfg.PhoneVerificationPath, p.safeNext(next))
	case StatePhoneAuthenticated:
		return p.redirectUnless(path, p.cfg.SignUpPath, p.safeNext(next))
	case StateUserRegistered:
		if path == p.cfg.PhoneVerificationPath && next != "" {
			return "", false
		}
		return p.landing(p.safeNext(next), user), true
	default:
		return "", false
	}
}

// decideProtected reports done=false when the request should fall through to
// the role checks. A partially authenticated session with a resolved user
// record is judged by its membership like a registered one.
func (p *RedirectPolicy) decideProtected(rawPath string, state AuthenticationState, user *User) (string, bool, bool) {
	switch state {
	case StateUnauthenticated:
		return p.withNext(p.cfg.LoginPath, rawPath), true, true
	case StateLineAuthenticated:
		if user == nil {
			return p.withNext(p.cfg.PhoneVerificationPath, rawPath), true, true
		}
		return "", false, false
	case StatePhoneAuthenticated:
		if user == nil {
			return p.withNext(p.cfg.SignUpPath, rawPath), true, true
		}
		return "", false, false
	case StateUserRegistered:
		return "", false, false
	default:
		return "", false, true
	}
}

func (p *RedirectPolicy) decideRole(path, rawPath string, user *User) (string, bool) {
	required, restricted := p.requiredRole(path)
	if !restricted {
		return "", false
	}

	membership, ok := user.MembershipIn(p.cfg.CommunityID)
	if !ok {
		if p.embedded {
			return p.withNext(p.cfg.PhoneVerificationPath, rawPath), true
		}
		return p.withNext(p.cfg.LoginPath, rawPath), true
	}

	if membership.Role.IsAtLeast(required) {
		return "", false
	}

	fallback := p.cfg.RoleFallbacks[membership.Role]
	if fallback == "" || fallback == path {
		fallback = p.cfg.HomePath
	}
	if need, restricted := p.requiredRole(fallback); restricted && !membership.Role.IsAtLeast(need) {
		fallback = p.cfg.HomePath
	}
	return fallback, true
}

// landing picks where a registered user leaves the entry flow to. A next target
// that the role rules would bounce back into the entry flow is replaced by home.
func (p *RedirectPolicy) landing(next string, user *User) string {
	if next == "" {
		return p.cfg.HomePath
	}
	path, _ := p.split(next)
	if target, ok := p.decideRole(path, next, user); ok {
		targetPath, _ := p.split(target)
		if p.isEntryFlow(targetPath) {
			return p.cfg.HomePath
		}
	}
	return next
}

func (p *RedirectPolicy) redirectUnless(current, target, next string) (string, bool) {
	if current == target {
		return "", false
	}
	return p.withNext(target, next), true
}

func (p *RedirectPolicy) requiredRole(path string) (Role, bool) {
	var required Role
	found := false
	for _, rule := range p.cfg.RoleRules {
		if !matchPrefix(path, rule.Prefix) {
			continue
		}
		if !found || rule.MinRole.IsAtLeast(required) {
			required = rule.MinRole
			found = true
		}
	}
	return required, found
}

func (p *RedirectPolicy) isEntryFlow(path string) bool {
	return matchPrefix(path, p.cfg.LoginPath) ||
		matchPrefix(path, p.cfg.SignUpPath) ||
		matchPrefix(path, p.cfg.PhoneVerificationPath)
}

func (p *RedirectPolicy) isProtected(path string) bool {
	for _, prefix := range p.cfg.ProtectedPrefixes {
		if matchPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// safeNext accepts only local absolute paths outside the entry flow.
func (p *RedirectPolicy) safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	if p.isEntryFlow(u.Path) {
		return ""
	}
	return next
}

func (p *RedirectPolicy) withNext(base, next string) string {
	if next == "" {
		return base
	}
	return base + "?" + url.Values{p.cfg.NextParam: {next}}.Encode()
}

func (p *RedirectPolicy) split(raw string) (string, string) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, ""
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path, u.Query().Get(p.cfg.NextParam)
}

func matchPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if prefix == "/" {
		return path == "/"
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
