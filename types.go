package auth

import (
	"context"
	"fmt"
	"strings"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// User is the backend identity snapshot the redirect policy and route guards read.
type User struct {
	ID          string
	Name        string
	PhoneUID    string
	Memberships []Membership
}

// Membership links a user to a community with a role.
type Membership struct {
	CommunityID string
	Role        Role
}

// MembershipIn returns the membership for communityID, if any.
func (u *User) MembershipIn(communityID string) (Membership, bool) {
	if u == nil {
		return Membership{}, false
	}
	for _, m := range u.Memberships {
		if m.CommunityID == communityID {
			return m, true
		}
	}
	return Membership{}, false
}

// ProviderUser is the credential provider's "current user" handle.
type ProviderUser struct {
	UID         string
	DisplayName string
	PhotoURL    string
	PhoneNumber string
	Tokens      Tokens
}

// UserLoader resolves the registered backend user for a signed-in identity.
// A nil user with a nil error means the identity is not registered.
type UserLoader interface {
	CurrentUser(ctx context.Context, idToken string) (*User, error)
}

// SessionSyncer mirrors client auth into a server readable cookie.
type SessionSyncer interface {
	SyncSessionCookie(ctx context.Context, idToken string) error
}

// StateUpdater is the narrow view collaborators use to push transitions.
type StateUpdater interface {
	GetState() AuthenticationState
	UpdateState(ctx context.Context, next AuthenticationState, reason string, opts ...TransitionOption) error
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print("[ERR] AUTH " + render(msg, args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print("[WRN] AUTH " + render(msg, args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print("[INF] AUTH " + render(msg, args))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print("[DBG] AUTH " + render(msg, args))
}

// DefaultLogger returns the stdout logger used when none is injected.
func DefaultLogger() Logger {
	return defLogger{}
}

func render(msg string, args []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	return newline(b.String())
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
