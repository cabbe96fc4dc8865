package auth

import (
	"github.com/pkg/errors"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrUnknownProvider = errors.New("unknown identity provider")
)

type (
	// Identity is the authenticated user a view is scoped to.
	Identity struct {
		UserID   string
		Email    string
		Provider string
		// Token is the session token issued at sign-in. An identity without one is not live yet.
		Token string
	}

	Credentials struct {
		Provider    string
		AccessToken string
		Email       string
		Password    string
	}
)

func (i *Identity) Live() bool {
	return i != nil && i.UserID != "" && i.Token != ""
}

func (i *Identity) Same(other *Identity) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.UserID == other.UserID && i.Token == other.Token
}
