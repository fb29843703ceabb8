package backend_test

import (
	"context"
	"errors"
	"testing"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/Hopin-inc/civicship-portal-sub002/backend"
	"github.com/Hopin-inc/civicship-portal-sub002/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPhoneUserChecker struct {
	mock.Mock
}

func (m *MockPhoneUserChecker) CheckPhoneUser(ctx context.Context, phoneUID string) (backend.RegistrationStatus, error) {
	args := m.Called(ctx, phoneUID)
	return args.Get(0).(backend.RegistrationStatus), args.Error(1)
}

func phoneAuthenticatedMachine() *auth.StateMachine {
	tokens := auth.NewTokenStore(memory.New())
	return auth.NewStateMachine(tokens, nil, auth.WithInitialState(auth.StatePhoneAuthenticated))
}

func TestRegistrarCheck(t *testing.T) {
	cases := []struct {
		status backend.RegistrationStatus
		want   auth.AuthenticationState
	}{
		{status: backend.StatusNewUser, want: auth.StatePhoneAuthenticated},
		{status: backend.StatusExistingSameCommunity, want: auth.StateUserRegistered},
		{status: backend.StatusExistingDifferentCommunity, want: auth.StateUserRegistered},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			checker := new(MockPhoneUserChecker)
			checker.On("CheckPhoneUser", mock.Anything, "phone-uid").Return(tc.status, nil).Once()

			machine := phoneAuthenticatedMachine()
			status, err := backend.NewRegistrar(checker, machine, nil).Check(context.Background(), "phone-uid")

			require.NoError(t, err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.want, machine.GetState())
			checker.AssertExpectations(t)
		})
	}
}

func TestRegistrarCheckFailureKeepsState(t *testing.T) {
	checker := new(MockPhoneUserChecker)
	boom := auth.Classify(auth.KindNetwork, "check_phone_user", errors.New("timeout"), nil)
	checker.On("CheckPhoneUser", mock.Anything, "phone-uid").Return(backend.RegistrationStatus(""), boom)

	machine := phoneAuthenticatedMachine()
	_, err := backend.NewRegistrar(checker, machine, nil).Check(context.Background(), "phone-uid")

	require.Error(t, err)
	assert.Equal(t, auth.KindNetwork, auth.KindOf(err))
	assert.Equal(t, auth.StatePhoneAuthenticated, machine.GetState())
}

func TestRegistrarWithoutStateUpdater(t *testing.T) {
	checker := new(MockPhoneUserChecker)
	checker.On("CheckPhoneUser", mock.Anything, "phone-uid").Return(backend.StatusExistingSameCommunity, nil)

	status, err := backend.NewRegistrar(checker, nil, nil).Check(context.Background(), "phone-uid")
	require.NoError(t, err)
	assert.Equal(t, backend.StatusExistingSameCommunity, status)
}
