package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var userCtxKey = &contextKey{"user"}
var sessionIDCtxKey = &contextKey{"session_id"}
var stateCtxKey = &contextKey{"auth_state"}

type contextKey struct {
	name string
}

// SessionIDKey is the storage key holding the log correlation id.
const SessionIDKey = "auth_session_id"

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok
}

// WithStateContext stores the resolved authentication state in ctx.
func WithStateContext(ctx context.Context, state AuthenticationState) context.Context {
	return context.WithValue(ctx, stateCtxKey, state)
}

// StateFromContext returns the authentication state stored by a route guard.
func StateFromContext(ctx context.Context) (AuthenticationState, bool) {
	raw, ok := ctx.Value(stateCtxKey).(AuthenticationState)
	return raw, ok
}

// WithSessionID tags ctx with the session correlation id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDCtxKey, id)
}

// SessionIDFromContext returns the correlation id, or "".
func SessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	raw, _ := ctx.Value(sessionIDCtxKey).(string)
	return raw
}

// EnsureSessionID loads the correlation id from storage, minting one on first use.
func EnsureSessionID(ctx context.Context, storage CredentialStorage) (string, error) {
	raw, err := storage.Load(ctx, SessionIDKey)
	if err == nil && len(raw) > 0 {
		return string(raw), nil
	}
	if err != nil && !errors.Is(err, ErrNotStored) {
		return "", err
	}

	id := uuid.NewString()
	if err := storage.Store(ctx, SessionIDKey, []byte(id), 0); err != nil {
		return "", err
	}
	return id, nil
}
