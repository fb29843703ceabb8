package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// StateListener observes accepted transitions.
type StateListener func(next, prev AuthenticationState)

// TransitionOption customizes a single UpdateState call.
type TransitionOption func(*transitionOptions)

type transitionOptions struct {
	force    bool
	metadata map[string]any
}

// WithForceTransition bypasses the transition table and the downgrade rule.
// Reserved for credential expiry and logout.
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// WithTransitionMetadata merges metadata into the recorded activity event.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata == nil {
			opts.metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata[k] = v
		}
	}
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*StateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *StateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish transitions.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *StateMachine) {
		sm.activitySink = NormalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *StateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithInitialState overrides the loading start state. Route guards use this to
// evaluate a request-scoped machine.
func WithInitialState(state AuthenticationState) StateMachineOption {
	return func(sm *StateMachine) {
		if state.IsValid() {
			sm.state = state
		}
	}
}

type listenerEntry struct {
	id int
	fn StateListener
}

// StateMachine is the single source of truth for the session's AuthenticationState.
//
// Only one transition is applied at a time. A request arriving while another is
// being applied is dropped, not queued: the async signals that drive transitions
// resubmit the same facts, and dropping keeps a slow response from regressing a
// state reached through a faster path.
type StateMachine struct {
	tokens       *TokenStore
	users        UserLoader
	transitions  map[AuthenticationState]map[AuthenticationState]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger

	mu        sync.Mutex
	state     AuthenticationState
	applying  bool
	pending   AuthenticationState
	listeners []listenerEntry
	nextID    int
}

// NewStateMachine returns a machine in the loading state. tokens and users back
// Initialize; either may be nil for a machine that is only driven externally.
func NewStateMachine(tokens *TokenStore, users UserLoader, opts ...StateMachineOption) *StateMachine {
	settled := map[AuthenticationState]struct{}{
		StateUnauthenticated:    {},
		StateLineAuthenticated:  {},
		StatePhoneAuthenticated: {},
		StateUserRegistered:     {},
	}

	sm := &StateMachine{
		tokens: tokens,
		users:  users,
		transitions: map[AuthenticationState]map[AuthenticationState]struct{}{
			StateLoading:        settled,
			StateAuthenticating: settled,
			StateUnauthenticated: {
				StateAuthenticating:    {},
				StateLineAuthenticated: {},
			},
			StateLineAuthenticated: {
				StatePhoneAuthenticated: {},
				StateUserRegistered:     {},
			},
			StatePhoneAuthenticated: {
				StateUserRegistered: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		state:        StateLoading,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

// GetState returns the current state.
func (sm *StateMachine) GetState() AuthenticationState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// CanTransition reports whether the table allows from -> to on the normal path.
func (sm *StateMachine) CanTransition(from, to AuthenticationState) bool {
	if to == StateUnauthenticated && from != StateLoading {
		return false
	}
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// Subscribe registers fn for accepted transitions. Listeners run synchronously in
// registration order. The returned func removes the listener.
func (sm *StateMachine) Subscribe(fn StateListener) func() {
	if fn == nil {
		return func() {}
	}

	sm.mu.Lock()
	sm.nextID++
	id := sm.nextID
	sm.listeners = append(sm.listeners, listenerEntry{id: id, fn: fn})
	sm.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			for i, l := range sm.listeners {
				if l.id == id {
					sm.listeners = append(sm.listeners[:i:i], sm.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// UpdateState requests a transition to next. Rejected requests leave the state
// untouched, notify nobody, and return ErrInvalidTransition, ErrNoopTransition or
// ErrTransitionInFlight; callers are free to ignore those.
func (sm *StateMachine) UpdateState(ctx context.Context, next AuthenticationState, reason string, opts ...TransitionOption) error {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	if !next.IsValid() {
		sm.logger.Warn("auth state transition rejected", "to", next, "reason", reason, "cause", "unknown state")
		return ErrInvalidTransition
	}

	sm.mu.Lock()
	if sm.applying {
		pending := sm.pending
		sm.mu.Unlock()
		sm.logger.Debug("auth state transition dropped", "to", next, "pending", pending, "reason", reason)
		return ErrTransitionInFlight
	}

	from := sm.state
	if from == next {
		sm.mu.Unlock()
		sm.logger.Debug("auth state transition skipped", "state", next, "reason", reason)
		return ErrNoopTransition
	}

	if !options.force && !sm.CanTransition(from, next) {
		sm.mu.Unlock()
		sm.logger.Warn("auth state transition rejected", "from", from, "to", next, "reason", reason)
		return ErrInvalidTransition
	}

	sm.applying = true
	sm.pending = next
	sm.state = next
	listeners := make([]listenerEntry, len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	defer func() {
		sm.mu.Lock()
		sm.applying = false
		sm.pending = ""
		sm.mu.Unlock()
	}()

	sm.logger.Info("auth state transition", "from", from, "to", next, "reason", reason, "forced", options.force)

	for _, l := range listeners {
		sm.notify(l, next, from)
	}

	meta := map[string]any{"reason": reason}
	if options.force {
		meta["forced"] = true
	}
	for k, v := range options.metadata {
		meta[k] = v
	}
	RecordActivity(ctx, sm.activitySink, sm.logger, ActivityEvent{
		EventType:  ActivityEventStateChanged,
		FromState:  from,
		ToState:    next,
		Metadata:   meta,
		OccurredAt: sm.now(),
	})

	return nil
}

func (sm *StateMachine) notify(l listenerEntry, next, prev AuthenticationState) {
	defer func() {
		if r := recover(); r != nil {
			sm.logger.Error("auth state listener panicked", "listener", l.id, "to", next, "panic", fmt.Sprint(r))
		}
	}()
	l.fn(next, prev)
}

// Initialize derives the state from both credential tracks and the backend
// registration check, then applies it through the normal path. It is safe to
// call again after a sign-in to pick up a higher state.
func (sm *StateMachine) Initialize(ctx context.Context) AuthenticationState {
	derived := sm.derive(ctx)
	if err := sm.UpdateState(ctx, derived, "initialize"); err != nil {
		sm.logger.Debug("derived auth state not applied", "derived", derived, "current", sm.GetState(), "error", err)
	}
	return sm.GetState()
}

func (sm *StateMachine) derive(ctx context.Context) AuthenticationState {
	if sm.tokens == nil {
		return StateUnauthenticated
	}

	if _, err := sm.tokens.Fresh(ctx, TrackLine); err != nil {
		ReportError(sm.logger, "state.derive.line", err)
		return StateUnauthenticated
	}

	phone, err := sm.tokens.Fresh(ctx, TrackPhone)
	if err != nil {
		ReportError(sm.logger, "state.derive.phone", err)
		return StateLineAuthenticated
	}

	if sm.users == nil {
		return StatePhoneAuthenticated
	}

	user, err := sm.users.CurrentUser(ctx, phone.AccessToken)
	if err != nil {
		ReportError(sm.logger, "state.derive.user", err)
		return StatePhoneAuthenticated
	}
	if user == nil {
		return StatePhoneAuthenticated
	}
	return StateUserRegistered
}

// HandleCredentialExpired downgrades the state after a track could not be refreshed.
// Social expiry drops the session to unauthenticated, phone expiry back to line_authenticated.
func (sm *StateMachine) HandleCredentialExpired(ctx context.Context, track Track) error {
	current := sm.GetState()
	switch track {
	case TrackLine:
		if current == StateUnauthenticated {
			return nil
		}
		return sm.UpdateState(ctx, StateUnauthenticated, "line token expired", WithForceTransition())
	case TrackPhone:
		if !current.AtLeast(StatePhoneAuthenticated) {
			return nil
		}
		return sm.UpdateState(ctx, StateLineAuthenticated, "phone token expired", WithForceTransition())
	default:
		return ErrInvalidTransition
	}
}

// MarkRegistered records that the backend confirmed the identity as a registered user.
func (sm *StateMachine) MarkRegistered(ctx context.Context, reason string) error {
	return sm.UpdateState(ctx, StateUserRegistered, reason)
}

// Logout clears both credential tracks and forces the unauthenticated state.
func (sm *StateMachine) Logout(ctx context.Context) error {
	if sm.tokens != nil {
		for _, track := range []Track{TrackLine, TrackPhone} {
			if err := sm.tokens.Clear(ctx, track); err != nil {
				sm.logger.Warn("logout could not clear credentials", "track", track, "error", err)
			}
		}
	}
	err := sm.UpdateState(ctx, StateUnauthenticated, "logout", WithForceTransition())
	if errors.Is(err, ErrNoopTransition) {
		return nil
	}
	return err
}
