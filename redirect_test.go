package auth_test

import (
	"testing"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/stretchr/testify/assert"
)

const testCommunity = "neo88"

func member(role auth.Role) *auth.User {
	return &auth.User{
		ID:          "user-1",
		Memberships: []auth.Membership{{CommunityID: testCommunity, Role: role}},
	}
}

func TestRedirectPolicyDecide(t *testing.T) {
	policy := auth.NewRedirectPolicy(auth.DefaultRedirectConfig(testCommunity))

	tests := []struct {
		name     string
		path     string
		state    auth.AuthenticationState
		user     *auth.User
		target   string
		redirect bool
	}{
		{name: "unauthenticated on login stays", path: "/login", state: auth.StateUnauthenticated},
		{name: "unauthenticated on sign-up goes to login", path: "/sign-up", state: auth.StateUnauthenticated, target: "/login", redirect: true},
		{name: "unauthenticated on public page stays", path: "/", state: auth.StateUnauthenticated},
		{name: "unauthenticated on protected page", path: "/wallets", state: auth.StateUnauthenticated, target: "/login?next=%2Fwallets", redirect: true},
		{name: "line on login goes to phone verification", path: "/login", state: auth.StateLineAuthenticated, target: "/sign-up/phone-verification", redirect: true},
		{name: "line keeps next", path: "/login?next=/wallets", state: auth.StateLineAuthenticated, target: "/sign-up/phone-verification?next=%2Fwallets", redirect: true},
		{name: "line on phone verification stays", path: "/sign-up/phone-verification", state: auth.StateLineAuthenticated},
		{name: "line on protected page", path: "/users/me", state: auth.StateLineAuthenticated, target: "/sign-up/phone-verification?next=%2Fusers%2Fme", redirect: true},
		{name: "phone on phone verification goes to sign-up", path: "/sign-up/phone-verification", state: auth.StatePhoneAuthenticated, target: "/sign-up", redirect: true},
		{name: "phone on sign-up stays", path: "/sign-up", state: auth.StatePhoneAuthenticated},
		{name: "phone unregistered on protected page", path: "/tickets", state: auth.StatePhoneAuthenticated, target: "/sign-up?next=%2Ftickets", redirect: true},
		{name: "phone with user on protected page stays", path: "/wallets", state: auth.StatePhoneAuthenticated, user: member(auth.RoleMember)},
		{name: "line with user on protected page stays", path: "/wallets", state: auth.StateLineAuthenticated, user: member(auth.RoleMember)},
		{name: "line without user on wallets", path: "/wallets", state: auth.StateLineAuthenticated, target: "/sign-up/phone-verification?next=%2Fwallets", redirect: true},
		{name: "line member on owner settings goes home", path: "/admin/settings", state: auth.StateLineAuthenticated, user: member(auth.RoleMember), target: "/", redirect: true},
		{name: "line without user on owner settings", path: "/admin/settings", state: auth.StateLineAuthenticated, target: "/sign-up/phone-verification?next=%2Fadmin%2Fsettings", redirect: true},
		{name: "phone without user on wallets", path: "/wallets", state: auth.StatePhoneAuthenticated, target: "/sign-up?next=%2Fwallets", redirect: true},
		{name: "phone member on owner settings goes home", path: "/admin/settings", state: auth.StatePhoneAuthenticated, user: member(auth.RoleMember), target: "/", redirect: true},
		{name: "phone manager on owner settings falls back to admin", path: "/admin/settings", state: auth.StatePhoneAuthenticated, user: member(auth.RoleManager), target: "/admin", redirect: true},
		{name: "phone without user on owner settings", path: "/admin/settings", state: auth.StatePhoneAuthenticated, target: "/sign-up?next=%2Fadmin%2Fsettings", redirect: true},
		{name: "registered leaves sign-up for home", path: "/sign-up", state: auth.StateUserRegistered, user: member(auth.RoleMember), target: "/", redirect: true},
		{name: "registered honours next", path: "/login?next=/wallets", state: auth.StateUserRegistered, user: member(auth.RoleMember), target: "/wallets", redirect: true},
		{name: "registered ignores absolute next", path: "/login?next=https://evil.example/x", state: auth.StateUserRegistered, user: member(auth.RoleMember), target: "/", redirect: true},
		{name: "registered ignores protocol relative next", path: "/login?next=//evil.example", state: auth.StateUserRegistered, user: member(auth.RoleMember), target: "/", redirect: true},
		{name: "registered ignores entry flow next", path: "/login?next=/sign-up", state: auth.StateUserRegistered, user: member(auth.RoleMember), target: "/", redirect: true},
		{name: "registered re-verifying with next stays", path: "/sign-up/phone-verification?next=/wallets", state: auth.StateUserRegistered, user: member(auth.RoleMember)},
		{name: "registered on protected page stays", path: "/wallets", state: auth.StateUserRegistered, user: member(auth.RoleMember)},
		{name: "manager on admin stays", path: "/admin", state: auth.StateUserRegistered, user: member(auth.RoleManager)},
		{name: "member on admin goes home", path: "/admin/users", state: auth.StateUserRegistered, user: member(auth.RoleMember), target: "/", redirect: true},
		{name: "manager on owner settings falls back to admin", path: "/admin/settings", state: auth.StateUserRegistered, user: member(auth.RoleManager), target: "/admin", redirect: true},
		{name: "owner on settings stays", path: "/admin/settings", state: auth.StateUserRegistered, user: member(auth.RoleOwner)},
		{name: "registered outside community on admin", path: "/admin", state: auth.StateUserRegistered, user: &auth.User{ID: "u2"}, target: "/login?next=%2Fadmin", redirect: true},
		{name: "outside community next is not bounced back into login", path: "/login?next=/admin", state: auth.StateUserRegistered, user: &auth.User{ID: "u2"}, target: "/", redirect: true},
		{name: "loading never redirects protected", path: "/wallets", state: auth.StateLoading},
		{name: "loading never redirects entry", path: "/login", state: auth.StateLoading},
		{name: "authenticating never redirects", path: "/sign-up", state: auth.StateAuthenticating},
		{name: "trailing slash is normalized", path: "/login/", state: auth.StateUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, redirect := policy.Decide(tt.path, tt.state, tt.user)
			assert.Equal(t, tt.redirect, redirect)
			assert.Equal(t, tt.target, target)
		})
	}
}

func TestRedirectPolicyEmbeddedHostSendsOutsidersToPhoneVerification(t *testing.T) {
	policy := auth.NewRedirectPolicy(auth.DefaultRedirectConfig(testCommunity)).ForHost(true)

	target, redirect := policy.Decide("/admin", auth.StateUserRegistered, &auth.User{ID: "u2"})
	assert.True(t, redirect)
	assert.Equal(t, "/sign-up/phone-verification?next=%2Fadmin", target)
}

func TestRedirectPolicyIsPure(t *testing.T) {
	policy := auth.NewRedirectPolicy(auth.RedirectConfig{CommunityID: testCommunity})
	user := member(auth.RoleMember)

	first, ok1 := policy.Decide("/login?next=/wallets", auth.StateUserRegistered, user)
	second, ok2 := policy.Decide("/login?next=/wallets", auth.StateUserRegistered, user)
	assert.Equal(t, first, second)
	assert.Equal(t, ok1, ok2)

	embedded := policy.ForHost(true)
	assert.NotSame(t, policy, embedded)
	target, _ := policy.Decide("/admin", auth.StateUserRegistered, &auth.User{})
	assert.Equal(t, "/login?next=%2Fadmin", target, "ForHost does not mutate the receiver")
}

func TestRedirectPolicyFillsDefaults(t *testing.T) {
	policy := auth.NewRedirectPolicy(auth.RedirectConfig{CommunityID: testCommunity, LoginPath: "/signin"})
	cfg := policy.Config()

	assert.Equal(t, "/signin", cfg.LoginPath)
	assert.Equal(t, "/sign-up", cfg.SignUpPath)
	assert.Equal(t, "next", cfg.NextParam)

	target, redirect := policy.Decide("/wallets", auth.StateUnauthenticated, nil)
	assert.True(t, redirect)
	assert.Equal(t, "/signin?next=%2Fwallets", target)
}
