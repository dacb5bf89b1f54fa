// Package tokens is the domain model for the three credential kinds that
// share the oauth_tokens table. Business logic works with the concrete
// types; only the row mapping looks at the token_type discriminator.
package tokens

import (
	"time"
)

// Credential lifetimes
const (
	AuthorizationCodeTTL = 10 * time.Minute
	AccessTokenTTL       = time.Hour
	RefreshTokenTTL      = 30 * 24 * time.Hour
)

// Kind discriminates the credential types
type Kind string

const (
	KindAuthorizationCode Kind = "authorization_code"
	KindAccessToken       Kind = "access_token"
	KindRefreshToken      Kind = "refresh_token"
)

// Credential is implemented by *AuthorizationCode, *AccessToken and *RefreshToken
type Credential interface {
	Kind() Kind
	Common() *Base
}

// Base holds the fields every credential carries
type Base struct {
	// ID is the storage row id, zero until persisted
	ID        uint
	Token     string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	Revoked   bool
	UserID    string
}

func (b *Base) Common() *Base { return b }

// Expired reports whether the credential's lifetime has passed at now
func (b *Base) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// Usable reports whether the credential is neither revoked nor expired
func (b *Base) Usable(now time.Time) bool {
	return !b.Revoked && !b.Expired(now)
}

// AuthorizationCode is the short lived code minted by the authorization endpoint
type AuthorizationCode struct {
	Base
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

func (*AuthorizationCode) Kind() Kind { return KindAuthorizationCode }

// AccessToken is a bearer credential
type AccessToken struct {
	Base
	// AuthorizationCode is the code this token was minted from, empty for refreshes
	AuthorizationCode string
	// RefreshToken is the literal value of the paired refresh token
	RefreshToken string
}

func (*AccessToken) Kind() Kind { return KindAccessToken }

// RefreshToken mints new access tokens until its own expiry
type RefreshToken struct {
	Base
	// AccessToken is the literal value of the currently paired access token
	AccessToken string
}

func (*RefreshToken) Kind() Kind { return KindRefreshToken }

// NewAuthorizationCode builds an unsaved code for the given request
func NewAuthorizationCode(code, clientID, userID string, scopes []string, req CodeRequest, now time.Time) *AuthorizationCode {
	return &AuthorizationCode{
		Base: Base{
			Token:     code,
			ClientID:  clientID,
			Scopes:    copyScopes(scopes),
			ExpiresAt: now.Add(AuthorizationCodeTTL),
			UserID:    userID,
		},
		RedirectURI:         req.RedirectURI,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	}
}

// CodeRequest carries the authorization request fields bound to a code
type CodeRequest struct {
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// NewAccessToken builds an unsaved access token inheriting the parent's
// client, scopes and owner.
func NewAccessToken(value string, parent *Base, now time.Time) *AccessToken {
	return &AccessToken{
		Base: Base{
			Token:     value,
			ClientID:  parent.ClientID,
			Scopes:    copyScopes(parent.Scopes),
			ExpiresAt: now.Add(AccessTokenTTL),
			UserID:    parent.UserID,
		},
	}
}

// NewRefreshToken builds an unsaved refresh token inheriting the parent's
// client, scopes and owner.
func NewRefreshToken(value string, parent *Base, now time.Time) *RefreshToken {
	return &RefreshToken{
		Base: Base{
			Token:     value,
			ClientID:  parent.ClientID,
			Scopes:    copyScopes(parent.Scopes),
			ExpiresAt: now.Add(RefreshTokenTTL),
			UserID:    parent.UserID,
		},
	}
}

func copyScopes(scopes []string) []string {
	out := make([]string, len(scopes))
	copy(out, scopes)
	return out
}
