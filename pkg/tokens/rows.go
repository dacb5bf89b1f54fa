package tokens

import (
	"fmt"

	"github.com/openfront-platform/openfront-oauth/pkg/types"
)

// ToRow flattens a credential into its storage row
func ToRow(c Credential) *types.OAuthToken {
	b := c.Common()
	row := &types.OAuthToken{
		ID:        b.ID,
		Token:     b.Token,
		TokenType: string(c.Kind()),
		ClientID:  b.ClientID,
		Scopes:    types.StringSlice(copyScopes(b.Scopes)),
		ExpiresAt: b.ExpiresAt,
		IsRevoked: types.RevokedFalse,
	}
	if b.Revoked {
		row.IsRevoked = types.RevokedTrue
	}
	if b.UserID != "" {
		userID := b.UserID
		row.UserID = &userID
	}

	switch v := c.(type) {
	case *AuthorizationCode:
		row.RedirectURI = v.RedirectURI
		row.State = v.State
		row.CodeChallenge = v.CodeChallenge
		row.CodeChallengeMethod = v.CodeChallengeMethod
	case *AccessToken:
		row.AuthorizationCode = v.AuthorizationCode
		row.RefreshToken = v.RefreshToken
	case *RefreshToken:
		row.AccessToken = v.AccessToken
	}
	return row
}

// FromRow rebuilds the typed credential from a storage row
func FromRow(row *types.OAuthToken) (Credential, error) {
	base := Base{
		ID:        row.ID,
		Token:     row.Token,
		ClientID:  row.ClientID,
		Scopes:    copyScopes(row.Scopes),
		ExpiresAt: row.ExpiresAt,
		Revoked:   row.IsRevoked == types.RevokedTrue,
	}
	if row.UserID != nil {
		base.UserID = *row.UserID
	}

	switch Kind(row.TokenType) {
	case KindAuthorizationCode:
		return &AuthorizationCode{
			Base:                base,
			RedirectURI:         row.RedirectURI,
			State:               row.State,
			CodeChallenge:       row.CodeChallenge,
			CodeChallengeMethod: row.CodeChallengeMethod,
		}, nil
	case KindAccessToken:
		return &AccessToken{
			Base:              base,
			AuthorizationCode: row.AuthorizationCode,
			RefreshToken:      row.RefreshToken,
		}, nil
	case KindRefreshToken:
		return &RefreshToken{
			Base:        base,
			AccessToken: row.AccessToken,
		}, nil
	default:
		return nil, fmt.Errorf("unknown token type %q", row.TokenType)
	}
}
