package auth

import "fmt"

// AuthenticationState is the coarse authentication phase of a session.
type AuthenticationState string

const (
	StateLoading            AuthenticationState = "loading"
	StateUnauthenticated    AuthenticationState = "unauthenticated"
	StateAuthenticating     AuthenticationState = "authenticating"
	StateLineAuthenticated  AuthenticationState = "line_authenticated"
	StatePhoneAuthenticated AuthenticationState = "phone_authenticated"
	StateUserRegistered     AuthenticationState = "user_registered"
)

// stateRank is the privilege order. It is spelled out rather than derived from
// declaration order so the downgrade rules stay visible.
var stateRank = map[AuthenticationState]int{
	StateLoading:            0,
	StateUnauthenticated:    1,
	StateAuthenticating:     2,
	StateLineAuthenticated:  3,
	StatePhoneAuthenticated: 4,
	StateUserRegistered:     5,
}

// AllStates returns every state in privilege order.
func AllStates() []AuthenticationState {
	return []AuthenticationState{
		StateLoading,
		StateUnauthenticated,
		StateAuthenticating,
		StateLineAuthenticated,
		StatePhoneAuthenticated,
		StateUserRegistered,
	}
}

// IsValid reports whether s is a known state.
func (s AuthenticationState) IsValid() bool {
	_, ok := stateRank[s]
	return ok
}

// Rank returns the privilege rank of s, or -1 for unknown states.
func (s AuthenticationState) Rank() int {
	if r, ok := stateRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s carries at least the privilege of other.
func (s AuthenticationState) AtLeast(other AuthenticationState) bool {
	return s.IsValid() && other.IsValid() && s.Rank() >= other.Rank()
}

// Settled is false while the session is still resolving.
func (s AuthenticationState) Settled() bool {
	return s != StateLoading && s != StateAuthenticating
}

func (s AuthenticationState) String() string {
	return string(s)
}

// ParseState parses a persisted or wire state value.
func ParseState(v string) (AuthenticationState, error) {
	s := AuthenticationState(v)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown authentication state %q", v)
	}
	return s, nil
}
