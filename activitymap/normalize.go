// Package activitymap flattens auth activity events into records that audit
// pipelines and queues can consume without importing the auth package.
package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
)

const (
	// MetadataKeyFromState stores the source state of a transition.
	MetadataKeyFromState = "from_state"
	// MetadataKeyToState stores the target state of a transition.
	MetadataKeyToState = "to_state"
	// MetadataKeySessionID stores the session correlation id.
	MetadataKeySessionID = "session_id"
)

// Outcome tells successful steps from failed ones.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

const (
	defaultChannel = "auth"
	anonymousActor = "anonymous"
)

var defaultRedactedKeys = []string{"phone", "phone_number"}

var failureEvents = map[auth.ActivityEventType]struct{}{
	auth.ActivityEventPhoneFailed:       {},
	auth.ActivityEventHostSignInFailure: {},
}

// Record is the flattened shape of one auth activity event. The session is
// the object; the signed in user, when known, is the actor.
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	SessionID  string         `json:"session_id,omitempty"`
	Outcome    Outcome        `json:"outcome"`
	Kind       auth.ErrorKind `json:"kind,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes Normalize.
type Option func(*config)

type config struct {
	channel   string
	anonymous string
	redact    map[string]struct{}
}

// WithChannel overrides the "auth" channel.
func WithChannel(channel string) Option {
	return func(c *config) {
		if channel = strings.TrimSpace(channel); channel != "" {
			c.channel = channel
		}
	}
}

// WithAnonymousActor sets the actor id used before a user is known.
func WithAnonymousActor(actorID string) Option {
	return func(c *config) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			c.anonymous = actorID
		}
	}
}

// WithRedactedKeys masks additional metadata keys.
func WithRedactedKeys(keys ...string) Option {
	return func(c *config) {
		for _, k := range keys {
			c.redact[k] = struct{}{}
		}
	}
}

// Normalize flattens event. Phone numbers in metadata are masked to their
// last four digits.
func Normalize(event auth.ActivityEvent, opts ...Option) Record {
	cfg := config{channel: defaultChannel, anonymous: anonymousActor, redact: map[string]struct{}{}}
	for _, k := range defaultRedactedKeys {
		cfg.redact[k] = struct{}{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	actor := strings.TrimSpace(event.UserID)
	if actor == "" {
		actor = cfg.anonymous
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	rec := Record{
		ActorID:    actor,
		Verb:       string(event.EventType),
		SessionID:  strings.TrimSpace(event.SessionID),
		Outcome:    OutcomeSuccess,
		Channel:    cfg.channel,
		Metadata:   metadata(event, cfg.redact),
		OccurredAt: occurredAt,
	}

	if _, failed := failureEvents[event.EventType]; failed {
		rec.Outcome = OutcomeFailure
	}
	if kind, ok := event.Metadata["kind"].(auth.ErrorKind); ok {
		rec.Kind = kind
		rec.Outcome = OutcomeFailure
	}
	return rec
}

// Sink adapts fn into an auth.ActivitySink that receives normalized records.
func Sink(fn func(context.Context, Record) error, opts ...Option) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		if fn == nil {
			return nil
		}
		return fn(ctx, Normalize(event, opts...))
	})
}

func metadata(event auth.ActivityEvent, redact map[string]struct{}) map[string]any {
	out := make(map[string]any, len(event.Metadata)+3)
	for k, v := range event.Metadata {
		if s, ok := v.(string); ok {
			if _, masked := redact[k]; masked {
				v = maskPhone(s)
			}
		}
		out[k] = v
	}

	if event.FromState != "" {
		out[MetadataKeyFromState] = string(event.FromState)
	}
	if event.ToState != "" {
		out[MetadataKeyToState] = string(event.ToState)
	}
	if _, ok := out[MetadataKeySessionID]; !ok && event.SessionID != "" {
		out[MetadataKeySessionID] = event.SessionID
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func maskPhone(v string) string {
	digits := 0
	for _, r := range v {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits <= 4 {
		return v
	}

	var b strings.Builder
	b.Grow(len(v))
	seen := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			b.WriteRune(r)
			continue
		}
		seen++
		if seen <= digits-4 {
			b.WriteByte('*')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
