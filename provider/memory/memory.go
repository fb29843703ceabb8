package memory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const providerName = "memory"

const (
	// DefaultCodeTTL is how long a sent OTP stays valid.
	DefaultCodeTTL = 5 * time.Minute
	// DefaultTokenTTL is the lifetime of minted ID tokens.
	DefaultTokenTTL = time.Hour
	// DefaultMaxAttempts is the number of wrong codes accepted per verification id.
	DefaultMaxAttempts = 5
)

// Option customizes a Provider.
type Option func(*Provider)

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(p *Provider) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithSigningKey sets the HMAC key used for minted tokens.
func WithSigningKey(key []byte) Option {
	return func(p *Provider) {
		if len(key) > 0 {
			p.signingKey = key
		}
	}
}

// WithTokenTTL overrides DefaultTokenTTL.
func WithTokenTTL(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.tokenTTL = d
		}
	}
}

// WithCodeSink receives every OTP the provider "sends".
func WithCodeSink(fn func(phoneNumber, code string)) Option {
	return func(p *Provider) {
		p.codeSink = fn
	}
}

// WithTestPhoneNumber makes phoneNumber accept code without issuing an OTP.
// phoneNumber must be in E.164 form.
func WithTestPhoneNumber(phoneNumber, code string) Option {
	return func(p *Provider) {
		p.testNumbers[phoneNumber] = code
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

type verification struct {
	phoneNumber string
	secret      string
	fixedCode   string
	issuedAt    time.Time
	attempts    int
}

type account struct {
	uid          string
	phoneNumber  string
	displayName  string
	photoURL     string
	refreshToken string
}

// Provider is an in-process credential provider for local development and
// end-to-end tests. OTP codes are time based and generated with pquerna/otp;
// ID tokens are HS256 JWTs.
type Provider struct {
	now        func() time.Time
	signingKey []byte
	tokenTTL   time.Duration
	codeSink   func(phoneNumber, code string)
	logger     auth.Logger

	testNumbers map[string]string

	mu            sync.Mutex
	verifications map[string]*verification
	accounts      map[string]*account
	phones        map[string]string
	refresh       map[string]string
	current       *auth.ProviderUser
	listeners     map[int]func(*auth.ProviderUser)
	nextID        int
}

// New returns an empty Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		now:           time.Now,
		signingKey:    []byte(uuid.NewString()),
		tokenTTL:      DefaultTokenTTL,
		logger:        auth.DefaultLogger(),
		verifications: map[string]*verification{},
		accounts:      map[string]*account{},
		phones:        map[string]string{},
		refresh:       map[string]string{},
		listeners:     map[int]func(*auth.ProviderUser){},
		testNumbers:   map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Provider) totpOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(DefaultCodeTTL / time.Second),
		Skew:      0,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// SendVerificationCode implements phone.Provider.
func (p *Provider) SendVerificationCode(_ context.Context, phoneNumber, _ string) (string, error) {
	if phoneNumber == "" {
		return "", providerError("send_verification_code", http.StatusBadRequest, "MISSING_PHONE_NUMBER", "", nil)
	}

	if code, ok := p.testNumbers[phoneNumber]; ok {
		id := uuid.NewString()
		p.SeedVerification(id, phoneNumber, code)
		return id, nil
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "civicship-portal",
		AccountName: phoneNumber,
		Period:      uint(DefaultCodeTTL / time.Second),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", providerError("send_verification_code", http.StatusInternalServerError, "INTERNAL_ERROR", "", err)
	}

	now := p.now()
	code, err := totp.GenerateCodeCustom(key.Secret(), now, p.totpOpts())
	if err != nil {
		return "", providerError("send_verification_code", http.StatusInternalServerError, "INTERNAL_ERROR", "", err)
	}

	id := uuid.NewString()
	p.mu.Lock()
	p.verifications[id] = &verification{phoneNumber: phoneNumber, secret: key.Secret(), issuedAt: now}
	p.mu.Unlock()

	if p.codeSink != nil {
		p.codeSink(phoneNumber, code)
	} else {
		p.logger.Info("verification code issued", "phone", phoneNumber, "code", code)
	}
	return id, nil
}

// SeedVerification registers a verification id that accepts code.
func (p *Provider) SeedVerification(verificationID, phoneNumber, code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifications[verificationID] = &verification{
		phoneNumber: phoneNumber,
		fixedCode:   code,
		issuedAt:    p.now(),
	}
}

// SignInWithPhoneCode implements phone.Provider.
func (p *Provider) SignInWithPhoneCode(_ context.Context, verificationID, code string) (*auth.ProviderUser, error) {
	p.mu.Lock()
	v, ok := p.verifications[verificationID]
	if !ok {
		p.mu.Unlock()
		return nil, providerError("sign_in_phone_number", http.StatusBadRequest, "INVALID_SESSION_INFO", "", nil)
	}

	now := p.now()
	if now.Sub(v.issuedAt) > DefaultCodeTTL {
		delete(p.verifications, verificationID)
		p.mu.Unlock()
		return nil, providerError("sign_in_phone_number", http.StatusBadRequest, "SESSION_EXPIRED", "", nil)
	}
	if v.attempts >= DefaultMaxAttempts {
		p.mu.Unlock()
		return nil, providerError("sign_in_phone_number", http.StatusBadRequest, "TOO_MANY_ATTEMPTS_TRY_LATER", "", nil)
	}

	if !p.codeMatches(v, code) {
		v.attempts++
		p.mu.Unlock()
		return nil, providerError("sign_in_phone_number", http.StatusBadRequest, "INVALID_CODE", "", nil)
	}
	delete(p.verifications, verificationID)

	uid, ok := p.phones[v.phoneNumber]
	if !ok {
		uid = phoneUID(v.phoneNumber)
		p.phones[v.phoneNumber] = uid
		p.accounts[uid] = &account{uid: uid, phoneNumber: v.phoneNumber}
	}
	acct := p.accounts[uid]
	p.mu.Unlock()

	return p.issue(acct)
}

// phoneUID is stable per number so restarted dev providers keep identities.
func phoneUID(phoneNumber string) string {
	id, err := hashid.NewUUID(phoneNumber)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (p *Provider) codeMatches(v *verification, code string) bool {
	if v.fixedCode != "" {
		return code == v.fixedCode
	}
	ok, err := totp.ValidateCustom(code, v.secret, v.issuedAt, p.totpOpts())
	return err == nil && ok
}

// MintCustomToken returns a custom token that signs in as uid. It plays the
// backend's role in local development.
func (p *Provider) MintCustomToken(uid string) (string, error) {
	now := p.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   uid,
		Audience:  jwt.ClaimStrings{"custom_token"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	return token.SignedString(p.signingKey)
}

// SignInWithCustomToken signs in as the custom token's subject. Auth state
// listeners are notified on their own goroutine.
func (p *Provider) SignInWithCustomToken(_ context.Context, customToken string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(customToken, claims, func(*jwt.Token) (any, error) {
		return p.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience("custom_token"),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || claims.Subject == "" {
		return providerError("sign_in_custom_token", http.StatusBadRequest, "INVALID_CUSTOM_TOKEN", "", err)
	}

	p.mu.Lock()
	acct, ok := p.accounts[claims.Subject]
	if !ok {
		acct = &account{uid: claims.Subject}
		p.accounts[claims.Subject] = acct
	}
	p.mu.Unlock()

	user, err := p.issue(acct)
	if err != nil {
		return err
	}
	p.setCurrent(user)
	return nil
}

// OnAuthStateChanged registers fn for future user changes.
func (p *Provider) OnAuthStateChanged(fn func(*auth.ProviderUser)) func() {
	if fn == nil {
		return func() {}
	}
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// CurrentUser returns a copy of the signed-in user handle, or nil.
func (p *Provider) CurrentUser() *auth.ProviderUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	cp := *p.current
	return &cp
}

// UpdateProfile sets display fields on the current user.
func (p *Provider) UpdateProfile(_ context.Context, displayName, photoURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return providerError("update_profile", 0, "NO_CURRENT_USER", "no signed in user", nil)
	}
	acct := p.accounts[p.current.UID]
	if displayName != "" {
		p.current.DisplayName = displayName
		acct.displayName = displayName
	}
	if photoURL != "" {
		p.current.PhotoURL = photoURL
		acct.photoURL = photoURL
	}
	return nil
}

// Refresh implements auth.TokenRefresher.
func (p *Provider) Refresh(_ context.Context, refreshToken string) (*auth.Tokens, error) {
	p.mu.Lock()
	uid, ok := p.refresh[refreshToken]
	var acct *account
	if ok {
		acct = p.accounts[uid]
	}
	p.mu.Unlock()

	if acct == nil {
		return nil, providerError("refresh", http.StatusBadRequest, "INVALID_REFRESH_TOKEN", "", nil)
	}

	user, err := p.issue(acct)
	if err != nil {
		return nil, err
	}
	return &user.Tokens, nil
}

// Revoke invalidates every refresh token of uid.
func (p *Provider) Revoke(uid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for token, owner := range p.refresh {
		if owner == uid {
			delete(p.refresh, token)
		}
	}
}

// Keyfunc resolves the key that signs the provider's ID tokens.
func (p *Provider) Keyfunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return p.signingKey, nil
	}
}

func (p *Provider) issue(acct *account) (*auth.ProviderUser, error) {
	now := p.now()
	exp := now.Add(p.tokenTTL)

	claims := jwt.MapClaims{
		"sub":     acct.uid,
		"user_id": acct.uid,
		"iat":     now.Unix(),
		"exp":     exp.Unix(),
	}
	if acct.phoneNumber != "" {
		claims["phone_number"] = acct.phoneNumber
	}
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return nil, providerError("issue_token", http.StatusInternalServerError, "INTERNAL_ERROR", "", err)
	}

	refreshToken := uuid.NewString()
	p.mu.Lock()
	p.refresh[refreshToken] = acct.uid
	acct.refreshToken = refreshToken
	displayName, photoURL := acct.displayName, acct.photoURL
	p.mu.Unlock()

	return &auth.ProviderUser{
		UID:         acct.uid,
		DisplayName: displayName,
		PhotoURL:    photoURL,
		PhoneNumber: acct.phoneNumber,
		Tokens: auth.Tokens{
			AccessToken:  idToken,
			RefreshToken: refreshToken,
			ExpiresAt:    time.Unix(exp.Unix(), 0),
			UID:          acct.uid,
		},
	}, nil
}

func (p *Provider) setCurrent(user *auth.ProviderUser) {
	p.mu.Lock()
	p.current = user
	listeners := make([]func(*auth.ProviderUser), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	var snapshot *auth.ProviderUser
	if user != nil {
		cp := *user
		snapshot = &cp
	}
	p.mu.Unlock()

	if len(listeners) == 0 {
		return
	}
	go func() {
		for _, fn := range listeners {
			fn(snapshot)
		}
	}()
}

func providerError(operation string, status int, code, description string, err error) error {
	return &auth.ProviderError{
		Provider:    providerName,
		Operation:   operation,
		Status:      status,
		Code:        code,
		Description: description,
		Err:         err,
	}
}
