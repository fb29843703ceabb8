package phone

import (
	"context"
	"sync"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
)

// DefaultResendCooldown is the minimum wait between two OTP sends.
const DefaultResendCooldown = 60 * time.Second

// Cooldown tracks the wait before the next OTP send is allowed.
type Cooldown struct {
	duration time.Duration
	now      func() time.Time

	mu    sync.Mutex
	until time.Time
}

// NewCooldown returns a ready cooldown. A nil clock uses time.Now.
func NewCooldown(d time.Duration, clock func() time.Time) *Cooldown {
	if d <= 0 {
		d = DefaultResendCooldown
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cooldown{duration: d, now: clock}
}

// Start begins a new wait window.
func (c *Cooldown) Start() {
	c.mu.Lock()
	c.until = c.now().Add(c.duration)
	c.mu.Unlock()
}

// Remaining returns how long until the next send is allowed.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	left := c.until.Sub(c.now())
	if left < 0 {
		return 0
	}
	return left
}

// Ready reports whether a send is allowed now.
func (c *Cooldown) Ready() bool {
	return c.Remaining() == 0
}

// Reset clears any running wait window.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	c.until = time.Time{}
	c.mu.Unlock()
}

// Resender gates StartVerification behind a Cooldown.
type Resender struct {
	service  *Service
	cooldown *Cooldown
}

// NewResender wraps service with cooldown.
func NewResender(service *Service, cooldown *Cooldown) *Resender {
	if cooldown == nil {
		cooldown = NewCooldown(DefaultResendCooldown, nil)
	}
	return &Resender{service: service, cooldown: cooldown}
}

// Cooldown exposes the wait window, for countdown displays.
func (r *Resender) Cooldown() *Cooldown {
	return r.cooldown
}

// Send starts a verification unless the cooldown is still running, in which
// case a rate limit error is returned and no provider call is made.
func (r *Resender) Send(ctx context.Context, phoneNumber string) (string, error) {
	if left := r.cooldown.Remaining(); left > 0 {
		return "", auth.Classify(auth.KindRateLimit, "phone.resend", nil, map[string]any{
			"retry_after_seconds": int(left.Round(time.Second) / time.Second),
		})
	}

	id, err := r.service.StartVerification(ctx, phoneNumber)
	if err != nil {
		return "", err
	}
	r.cooldown.Start()
	return id, nil
}
