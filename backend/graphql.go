package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	graphql "github.com/hasura/go-graphql-client"
)

// RegistrationStatus is the identity-check verdict for a phone identity.
type RegistrationStatus string

const (
	StatusNewUser                    RegistrationStatus = "NEW_USER"
	StatusExistingSameCommunity      RegistrationStatus = "EXISTING_SAME_COMMUNITY"
	StatusExistingDifferentCommunity RegistrationStatus = "EXISTING_DIFFERENT_COMMUNITY"
)

// IsValid reports whether s is a known status.
func (s RegistrationStatus) IsValid() bool {
	switch s {
	case StatusNewUser, StatusExistingSameCommunity, StatusExistingDifferentCommunity:
		return true
	}
	return false
}

// Registered reports whether the identity already has a backend user.
func (s RegistrationStatus) Registered() bool {
	return s == StatusExistingSameCommunity || s == StatusExistingDifferentCommunity
}

const checkPhoneUserMutation = `mutation userCheckPhone($input: CheckPhoneUserInput!) {
  userCheckPhone(input: $input) {
    status
  }
}`

const currentUserQuery = `query currentUser {
  currentUser {
    user {
      id
      name
      memberships {
        role
        community {
          id
        }
      }
    }
  }
}`

type checkPhoneUserData struct {
	UserCheckPhone *struct {
		Status RegistrationStatus `json:"status"`
	} `json:"userCheckPhone"`
}

type currentUserData struct {
	CurrentUser *struct {
		User *struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Memberships []struct {
				Role      string `json:"role"`
				Community struct {
					ID string `json:"id"`
				} `json:"community"`
			} `json:"memberships"`
		} `json:"user"`
	} `json:"currentUser"`
}

// CheckPhoneUser asks the backend whether phoneUID already belongs to a user.
func (c *Client) CheckPhoneUser(ctx context.Context, phoneUID string) (RegistrationStatus, error) {
	bearer := ""
	if c.bearer != nil {
		token, err := c.bearer(ctx)
		if err != nil {
			return "", err
		}
		bearer = token
	}

	var data checkPhoneUserData
	err := c.graphQL(ctx, "check_phone_user", bearer, checkPhoneUserMutation, map[string]any{
		"input": map[string]any{"phoneUid": phoneUID},
	}, &data)
	if err != nil {
		return "", err
	}
	if data.UserCheckPhone == nil || !data.UserCheckPhone.Status.IsValid() {
		return "", Classify("check_phone_user", providerError("check_phone_user", 200, "invalid_response", "unknown registration status", nil, nil))
	}
	return data.UserCheckPhone.Status, nil
}

// CurrentUser loads the registered user for idToken. A nil user with a nil
// error means the identity is not registered.
func (c *Client) CurrentUser(ctx context.Context, idToken string) (*auth.User, error) {
	var data currentUserData
	if err := c.graphQL(ctx, "current_user", idToken, currentUserQuery, nil, &data); err != nil {
		return nil, err
	}
	if data.CurrentUser == nil || data.CurrentUser.User == nil {
		return nil, nil
	}

	raw := data.CurrentUser.User
	user := &auth.User{ID: raw.ID, Name: raw.Name}
	for _, m := range raw.Memberships {
		role, ok := auth.ParseRole(m.Role)
		if !ok {
			c.logger.Warn("ignoring membership with unknown role", "community", m.Community.ID, "role", m.Role)
			continue
		}
		user.Memberships = append(user.Memberships, auth.Membership{
			CommunityID: m.Community.ID,
			Role:        role,
		})
	}
	return user, nil
}

func (c *Client) graphQL(ctx context.Context, op, bearer, query string, variables map[string]any, out any) error {
	if _, err := requestURL(op, c.config.GraphQLURL); err != nil {
		return err
	}

	gql := c.gql.WithRequestModifier(func(req *http.Request) {
		c.setHeaders(req, bearer)
	})
	data, err := gql.ExecRaw(ctx, query, variables)
	if err != nil {
		return Classify(op, graphQLError(op, err))
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return Classify(op, providerError(op, http.StatusOK, "invalid_response", "failed to decode graphql data", err, nil))
	}
	return nil
}

// graphQLError turns a client failure into a ProviderError. HTTP failures keep
// their status, errors reported by the API keep their extension code.
func graphQLError(op string, err error) error {
	var netErr graphql.NetworkError
	if errors.As(err, &netErr) {
		code, desc, raw := parseRESTError([]byte(netErr.Body()))
		return providerError(op, netErr.StatusCode(), code, desc, nil, raw)
	}

	var errs graphql.Errors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return providerError(op, 0, "request_failed", "", err, nil)
	}

	first := errs[0]
	code, _ := first.Extensions["code"].(string)
	switch code {
	case graphql.ErrRequestError:
		return providerError(op, 0, "request_failed", "", first.Unwrap(), nil)
	case graphql.ErrJsonDecode, graphql.ErrGraphQLDecode:
		return providerError(op, http.StatusOK, "invalid_response", "failed to decode graphql response", first.Unwrap(), nil)
	}
	return providerError(op, http.StatusOK, code, first.Message, nil, first.Extensions)
}
