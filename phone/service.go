package phone

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used to parse numbers entered without a country code.
const DefaultRegion = "JP"

var codePattern = regexp.MustCompile(`^\d{6}$`)

// Status is the lifecycle of one verification attempt.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSending   Status = "sending"
	StatusCodeSent  Status = "code_sent"
	StatusVerifying Status = "verifying"
	StatusVerified  Status = "verified"
	StatusFailed    Status = "failed"
)

// Provider is the credential provider's phone auth surface.
type Provider interface {
	// SendVerificationCode sends an OTP SMS and returns the verification id.
	SendVerificationCode(ctx context.Context, phoneNumber, challengeToken string) (string, error)
	// SignInWithPhoneCode exchanges a verification id and code for a signed-in user.
	SignInWithPhoneCode(ctx context.Context, verificationID, code string) (*auth.ProviderUser, error)
}

// Session is the transient state of one phone verification attempt.
type Session struct {
	PhoneNumber    string
	VerificationID string
	PhoneUID       string
	Status         Status
	IsVerifying    bool
	IsVerified     bool
	LastError      error
}

// Option customizes a Service.
type Option func(*Service)

// WithStateUpdater sets where phone_authenticated is pushed after a sign-in.
func WithStateUpdater(state auth.StateUpdater) Option {
	return func(s *Service) {
		s.state = state
	}
}

// WithSessionSyncer mirrors the phone sign-in into the server session cookie.
func WithSessionSyncer(syncer auth.SessionSyncer) Option {
	return func(s *Service) {
		s.syncer = syncer
	}
}

// WithEmbedded reports whether the app runs inside the embedded host browser.
func WithEmbedded(fn func() bool) Option {
	return func(s *Service) {
		if fn != nil {
			s.embedded = fn
		}
	}
}

// WithRegion overrides DefaultRegion.
func WithRegion(region string) Option {
	return func(s *Service) {
		if region != "" {
			s.region = strings.ToUpper(region)
		}
	}
}

// WithContainerIDs overrides how widget container ids are generated.
func WithContainerIDs(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newContainer = fn
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithActivitySink records OTP sends and verification outcomes.
func WithActivitySink(sink auth.ActivitySink) Option {
	return func(s *Service) {
		s.activitySink = auth.NormalizeActivitySink(sink)
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Service runs the OTP flow: challenge widget, SMS send, code verification.
// One attempt runs at a time; a verification id is consumed by exactly one
// successful VerifyCode.
type Service struct {
	provider     Provider
	widget       ChallengeWidget
	tokens       *auth.TokenStore
	state        auth.StateUpdater
	syncer       auth.SessionSyncer
	embedded     func() bool
	newContainer func() string
	region       string
	logger       auth.Logger
	activitySink auth.ActivitySink
	now          func() time.Time

	mu         sync.Mutex
	session    Session
	container  string
	inFlight   bool
	generation uint64
}

// NewService returns an idle phone verification service.
func NewService(provider Provider, widget ChallengeWidget, tokens *auth.TokenStore, opts ...Option) *Service {
	if widget == nil {
		widget = StaticWidget{}
	}
	s := &Service{
		provider:     provider,
		widget:       widget,
		tokens:       tokens,
		embedded:     func() bool { return false },
		newContainer: NewContainerID,
		region:       DefaultRegion,
		logger:       auth.DefaultLogger(),
		activitySink: auth.NormalizeActivitySink(nil),
		now:          time.Now,
		session:      Session{Status: StatusIdle},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Session returns a snapshot of the current attempt.
func (s *Service) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Normalize parses phoneNumber in the service region and formats it as E.164.
func (s *Service) Normalize(phoneNumber string) (string, error) {
	return Normalize(phoneNumber, s.region)
}

// Normalize parses phoneNumber, defaulting to region, and formats it as E.164.
func Normalize(phoneNumber, region string) (string, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return "", ErrInvalidPhoneNumber
	}
	num, err := phonenumbers.Parse(phoneNumber, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhoneNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// StartVerification renders a fresh challenge widget and sends an OTP to
// phoneNumber. It returns the verification id. Send failures are not retried.
func (s *Service) StartVerification(ctx context.Context, phoneNumber string) (string, error) {
	e164, err := s.Normalize(phoneNumber)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return "", ErrAttemptInFlight
	}
	s.inFlight = true
	s.generation++
	gen := s.generation
	previous := s.container
	s.container = s.newContainer()
	container := s.container
	s.session = Session{PhoneNumber: e164, Status: StatusSending}
	s.mu.Unlock()

	defer s.release(gen)

	s.clearWidget(previous)

	size := WidgetInvisible
	if s.embedded() {
		size = WidgetNormal
	}

	token, err := s.widget.Render(ctx, container, size)
	if err != nil {
		return "", s.failSend(ctx, gen, ClassifyError("phone.challenge", err))
	}

	id, err := s.provider.SendVerificationCode(ctx, e164, token)
	if err != nil {
		return "", s.failSend(ctx, gen, ClassifyError("phone.send", err))
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("discarding verification id of superseded attempt")
		return "", ErrSuperseded
	}
	s.session.VerificationID = id
	s.session.Status = StatusCodeSent
	s.session.LastError = nil
	s.mu.Unlock()

	auth.RecordActivity(ctx, s.activitySink, s.logger, auth.ActivityEvent{
		EventType:  auth.ActivityEventOTPSent,
		Metadata:   map[string]any{"widget_size": size},
		OccurredAt: s.now(),
	})
	return id, nil
}

// VerifyCode signs in with the code sent by the last StartVerification and
// returns the phone identity uid. An incorrect code keeps the verification id
// so the user can try again without a new SMS.
func (s *Service) VerifyCode(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)

	s.mu.Lock()
	if s.session.VerificationID == "" {
		s.mu.Unlock()
		return "", ErrNoVerificationSession
	}
	if s.inFlight {
		s.mu.Unlock()
		return "", ErrAttemptInFlight
	}
	if err := validation.Validate(code, validation.Required, validation.Match(codePattern)); err != nil {
		s.mu.Unlock()
		return "", auth.Classify(auth.KindVerification, "phone.verify", err, map[string]any{"reason": "malformed code"})
	}
	s.inFlight = true
	gen := s.generation
	id := s.session.VerificationID
	s.session.IsVerifying = true
	s.session.Status = StatusVerifying
	s.mu.Unlock()

	defer s.release(gen)

	user, err := s.provider.SignInWithPhoneCode(ctx, id, code)
	if err != nil {
		return "", s.failVerify(ctx, gen, ClassifyError("phone.verify", err))
	}

	s.mu.Lock()
	superseded := gen != s.generation
	s.mu.Unlock()
	if superseded {
		return "", ErrSuperseded
	}

	tokens := user.Tokens
	if tokens.UID == "" {
		tokens.UID = user.UID
	}
	// The session only reports verified once the phone track is persisted.
	if s.tokens != nil {
		if err := s.tokens.Save(ctx, auth.TrackPhone, tokens); err != nil {
			return "", s.failVerify(ctx, gen, err)
		}
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return "", ErrSuperseded
	}
	s.session.IsVerifying = false
	s.session.IsVerified = true
	s.session.Status = StatusVerified
	s.session.PhoneUID = user.UID
	s.session.LastError = nil
	s.session.VerificationID = ""
	s.mu.Unlock()

	if s.state != nil {
		if err := s.state.UpdateState(ctx, auth.StatePhoneAuthenticated, "phone verified"); err != nil {
			s.logger.Debug("phone_authenticated not applied", "current", s.state.GetState(), "error", err)
		}
	}

	if s.syncer != nil {
		if err := s.syncer.SyncSessionCookie(ctx, tokens.AccessToken); err != nil {
			s.logger.Warn("session cookie sync failed after phone sign in", "error", err)
		}
	}

	s.record(ctx, auth.ActivityEventPhoneVerified, map[string]any{"phone_uid": user.UID})
	return user.UID, nil
}

// ChangePhoneNumber abandons the current attempt. Results of requests still
// running for it are discarded.
func (s *Service) ChangePhoneNumber() {
	s.mu.Lock()
	s.generation++
	s.inFlight = false
	container := s.container
	s.container = ""
	s.session = Session{Status: StatusIdle}
	s.mu.Unlock()

	s.clearWidget(container)
}

func (s *Service) failVerify(ctx context.Context, gen uint64, err error) error {
	s.mu.Lock()
	if gen == s.generation {
		s.session.IsVerifying = false
		s.session.Status = StatusFailed
		s.session.LastError = err
	}
	s.mu.Unlock()

	auth.ReportError(s.logger, "phone.verify", err)
	s.record(ctx, auth.ActivityEventPhoneFailed, map[string]any{"kind": auth.KindOf(err)})
	return err
}

func (s *Service) failSend(ctx context.Context, gen uint64, err error) error {
	s.mu.Lock()
	if gen == s.generation {
		s.session.Status = StatusFailed
		s.session.LastError = err
	}
	s.mu.Unlock()

	auth.ReportError(s.logger, "phone.send", err)
	s.record(ctx, auth.ActivityEventPhoneFailed, map[string]any{"kind": auth.KindOf(err), "stage": "send"})
	return err
}

func (s *Service) release(gen uint64) {
	s.mu.Lock()
	if gen == s.generation {
		s.inFlight = false
	}
	s.mu.Unlock()
}

func (s *Service) clearWidget(container string) {
	if container == "" {
		return
	}
	if err := s.widget.Clear(container); err != nil {
		s.logger.Debug("challenge widget already cleared", "container", container, "error", err)
	}
}

func (s *Service) record(ctx context.Context, eventType auth.ActivityEventType, meta map[string]any) {
	auth.RecordActivity(ctx, s.activitySink, s.logger, auth.ActivityEvent{
		EventType:  eventType,
		Metadata:   meta,
		OccurredAt: s.now(),
	})
}
