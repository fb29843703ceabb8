package phone

import (
	"context"

	"github.com/google/uuid"
)

// WidgetSize selects how the challenge widget is presented.
type WidgetSize string

const (
	// WidgetNormal is a visible checkbox challenge. Used inside the embedded host
	// browser, where invisible challenges fail to resolve.
	WidgetNormal WidgetSize = "normal"
	// WidgetInvisible resolves the challenge without user interaction.
	WidgetInvisible WidgetSize = "invisible"
)

// ContainerPrefix prefixes every generated widget container id.
const ContainerPrefix = "recaptcha-container-"

// ChallengeWidget is the human verification widget gating OTP sends.
// A container id may be rendered into only once; Clear releases it.
type ChallengeWidget interface {
	// Render mounts a widget into containerID and returns the solved challenge token.
	Render(ctx context.Context, containerID string, size WidgetSize) (string, error)
	// Clear unmounts the widget. Clearing an unknown or already removed
	// container must not fail the caller.
	Clear(containerID string) error
}

// NewContainerID returns a unique widget container id.
func NewContainerID() string {
	return ContainerPrefix + uuid.NewString()
}

// StaticWidget resolves every challenge with a fixed token. Useful for server
// side flows and tests where the challenge is solved upstream.
type StaticWidget struct {
	Token string
}

// Render implements ChallengeWidget.
func (w StaticWidget) Render(context.Context, string, WidgetSize) (string, error) {
	return w.Token, nil
}

// Clear implements ChallengeWidget.
func (StaticWidget) Clear(string) error {
	return nil
}
