package backend

import (
	"context"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
)

// PhoneUserChecker is the identity-check call the Registrar depends on.
type PhoneUserChecker interface {
	CheckPhoneUser(ctx context.Context, phoneUID string) (RegistrationStatus, error)
}

// Registrar runs the identity check after a phone sign-in and pushes
// user_registered when the backend already knows the identity.
type Registrar struct {
	checker PhoneUserChecker
	state   auth.StateUpdater
	logger  auth.Logger
}

// NewRegistrar returns a Registrar.
func NewRegistrar(checker PhoneUserChecker, state auth.StateUpdater, logger auth.Logger) *Registrar {
	if logger == nil {
		logger = auth.DefaultLogger()
	}
	return &Registrar{checker: checker, state: state, logger: logger}
}

// Check returns the registration status of phoneUID. Mapping the status to a
// screen is left to the caller.
func (r *Registrar) Check(ctx context.Context, phoneUID string) (RegistrationStatus, error) {
	status, err := r.checker.CheckPhoneUser(ctx, phoneUID)
	if err != nil {
		auth.ReportError(r.logger, "registrar.check", err)
		return "", err
	}

	if status.Registered() && r.state != nil {
		err := r.state.UpdateState(ctx, auth.StateUserRegistered, "identity check: "+string(status),
			auth.WithTransitionMetadata(map[string]any{"registration_status": status}))
		if err != nil {
			r.logger.Debug("user_registered not applied", "current", r.state.GetState(), "error", err)
		}
	}
	return status, nil
}
