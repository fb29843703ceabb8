// Package auth reconciles the portal's independent identity signals (a social
// mini-app login, a phone OTP sign-in and the backend registration check) into
// one AuthenticationState, keeps the underlying credentials fresh, and turns
// the state into navigation decisions.
//
// State machine:
//   - StateMachine is the single source of truth for the session state. The
//     transition table only moves forward; downgrades go through
//     WithForceTransition and are reserved for credential expiry and logout.
//   - A transition requested while another is being applied is dropped, so a
//     slow async response cannot regress a state reached by a faster one.
//   - Initialize derives the state from both credential tracks and the
//     backend current-user query.
//
// Credentials:
//   - TokenStore persists the social ("line") and phone tracks through a
//     CredentialStorage (see storage/memory, storage/redis, storage/cookie).
//     Fresh returns a cached token while it outlives the freshness buffer and
//     otherwise refreshes it once, concurrently safe per track.
//   - WithTokenVerifier drops stored tracks whose tokens fail a check, such as
//     the signature check middleware/guard applies to cookie credentials.
//
// Bootstrap and navigation:
//   - Orchestrator runs host SDK init, state derivation and host auto-login
//     exactly once per instance and publishes phase progress.
//   - RedirectPolicy maps (path, state, user) to a redirect target. It is a
//     pure function of its inputs and is used by middleware/guard.
//
// Errors:
//   - Provider and backend failures are classified once at the boundary into
//     ErrorKind values (network, rate_limit, expired, verification,
//     configuration, unknown) carried by go-errors sentinels. Only
//     configuration and unknown failures are logged at error severity.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the state machine,
//     the orchestrator, the phone service and the host bridge. Sinks run
//     best-effort (errors are logged) so you can forward to a queue without
//     blocking authentication.
package auth
