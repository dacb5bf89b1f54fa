package token

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openfront-platform/openfront-oauth/pkg/encryption"
	"github.com/openfront-platform/openfront-oauth/pkg/handlerutils"
	"github.com/openfront-platform/openfront-oauth/pkg/metrics"
	"github.com/openfront-platform/openfront-oauth/pkg/tokens"
	"github.com/openfront-platform/openfront-oauth/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type TokenStore interface {
	GetApp(ctx context.Context, clientID string) (*types.OAuthApp, error)
	FindToken(ctx context.Context, token string) (tokens.Credential, error)
	RevokeToken(ctx context.Context, id uint) (bool, error)
	RedeemAuthorizationCode(ctx context.Context, codeID uint, access *tokens.AccessToken, refresh *tokens.RefreshToken) (bool, error)
	RotateRefreshToken(ctx context.Context, refresh *tokens.RefreshToken, access *tokens.AccessToken) (bool, error)
}

type Handler struct {
	db      TokenStore
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewHandler(db TokenStore, m *metrics.Metrics, log *zap.Logger) http.Handler {
	return &Handler{
		db:      db,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// grantError is a terminal OAuth failure of a grant
type grantError struct {
	status      int
	code        string
	description string
}

func (e *grantError) Error() string {
	return e.code + ": " + e.description
}

func invalidGrant(description string) *grantError {
	return &grantError{status: http.StatusBadRequest, code: types.ErrInvalidGrant, description: description}
}

func invalidRequest(description string) *grantError {
	return &grantError{status: http.StatusBadRequest, code: types.ErrInvalidRequest, description: description}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handlerutils.NoStore(w)

	if err := r.ParseForm(); err != nil {
		p.writeError(w, "", invalidRequest("Invalid request body"))
		return
	}

	grantType := r.PostForm.Get("grant_type")

	var (
		resp *types.TokenResponse
		err  error
	)
	switch grantType {
	case "authorization_code":
		resp, err = p.handleAuthorizationCodeGrant(r)
	case "refresh_token":
		resp, err = p.handleRefreshTokenGrant(r)
	default:
		err = &grantError{
			status:      http.StatusBadRequest,
			code:        types.ErrUnsupportedGrantType,
			description: "The grant type is not supported by this authorization server",
		}
	}
	if err != nil {
		p.writeError(w, grantType, err)
		return
	}

	p.metrics.TokenIssued(grantType)
	handlerutils.JSON(w, http.StatusOK, resp)
}

func (p *Handler) writeError(w http.ResponseWriter, grantType string, err error) {
	var ge *grantError
	if !errors.As(err, &ge) {
		p.log.Error("token request failed", zap.String("grant_type", grantType), zap.Error(err))
		ge = &grantError{
			status:      http.StatusInternalServerError,
			code:        types.ErrServerError,
			description: "Internal server error",
		}
	}
	p.metrics.Error("token", ge.code)
	handlerutils.JSON(w, ge.status, types.OAuthError{
		Error:            ge.code,
		ErrorDescription: ge.description,
	})
}

func (p *Handler) authenticateClient(ctx context.Context, clientID, clientSecret string) (*types.OAuthApp, error) {
	if clientID == "" {
		return nil, &grantError{status: http.StatusUnauthorized, code: types.ErrInvalidClient, description: "Client ID is required"}
	}

	app, err := p.db.GetApp(ctx, clientID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, &grantError{status: http.StatusUnauthorized, code: types.ErrInvalidClient, description: "Client not found"}
	} else if err != nil {
		return nil, err
	}

	if !app.IsActive() {
		return nil, &grantError{status: http.StatusUnauthorized, code: types.ErrUnauthorizedClient, description: "Client is not active"}
	}

	if !SecretsEqual(app.ClientSecret, clientSecret) {
		return nil, &grantError{status: http.StatusUnauthorized, code: types.ErrInvalidClient, description: "Invalid client secret"}
	}
	return app, nil
}

// SecretsEqual compares a stored client secret with a submitted one in
// constant time. A leading byte order mark on the submitted value is
// ignored.
func SecretsEqual(stored, submitted string) bool {
	submitted = strings.TrimPrefix(submitted, "\ufeff")
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

func (p *Handler) handleAuthorizationCodeGrant(r *http.Request) (*types.TokenResponse, error) {
	ctx := r.Context()
	clientID := r.PostForm.Get("client_id")

	if _, err := p.authenticateClient(ctx, clientID, r.PostForm.Get("client_secret")); err != nil {
		return nil, err
	}

	code := r.PostForm.Get("code")
	redirectURI := r.PostForm.Get("redirect_uri")
	codeVerifier := r.PostForm.Get("code_verifier")

	if code == "" || redirectURI == "" {
		return nil, invalidRequest("code and redirect_uri are required")
	}

	credential, err := p.db.FindToken(ctx, code)
	if errors.Is(err, types.ErrNotFound) {
		return nil, invalidGrant("Invalid authorization code")
	} else if err != nil {
		return nil, err
	}

	authCode, ok := credential.(*tokens.AuthorizationCode)
	if !ok {
		return nil, invalidGrant("Invalid authorization code")
	}

	if authCode.ClientID != clientID {
		return nil, invalidGrant("Authorization code was issued to another client")
	}

	if authCode.Revoked {
		return nil, invalidGrant("Authorization code has already been used")
	}

	now := p.now()
	if authCode.Expired(now) {
		if _, err := p.db.RevokeToken(ctx, authCode.ID); err != nil {
			p.log.Warn("failed to revoke expired authorization code", zap.Uint("id", authCode.ID), zap.Error(err))
		}
		return nil, invalidGrant("Authorization code has expired")
	}

	if authCode.RedirectURI != redirectURI {
		return nil, invalidGrant("Redirect URI does not match the authorization request")
	}

	if authCode.CodeChallenge != "" {
		if codeVerifier == "" {
			return nil, invalidRequest("code_verifier is required")
		}
		if !VerifyPKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, codeVerifier) {
			return nil, invalidGrant("Invalid PKCE code_verifier")
		}
	}

	access := tokens.NewAccessToken(encryption.GenerateToken(), &authCode.Base, now)
	refresh := tokens.NewRefreshToken(encryption.GenerateToken(), &authCode.Base, now)
	access.AuthorizationCode = authCode.Token
	access.RefreshToken = refresh.Token
	refresh.AccessToken = access.Token

	// Only the request that flips the code to revoked may mint credentials.
	won, err := p.db.RedeemAuthorizationCode(ctx, authCode.ID, access, refresh)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, invalidGrant("Authorization code has already been used")
	}

	p.log.Info("authorization code exchanged",
		zap.String("client_id", clientID),
		zap.String("user_id", authCode.UserID))

	return &types.TokenResponse{
		AccessToken:  access.Token,
		TokenType:    "bearer",
		ExpiresIn:    int(tokens.AccessTokenTTL.Seconds()),
		RefreshToken: refresh.Token,
		Scope:        strings.Join(access.Scopes, " "),
	}, nil
}

// VerifyPKCE checks a code_verifier against the stored challenge. The
// method defaults to plain.
func VerifyPKCE(challenge, method, verifier string) bool {
	computed := verifier
	if method == "S256" {
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

func (p *Handler) handleRefreshTokenGrant(r *http.Request) (*types.TokenResponse, error) {
	ctx := r.Context()
	value := r.PostForm.Get("refresh_token")
	if value == "" {
		return nil, invalidRequest("refresh_token is required")
	}

	credential, err := p.db.FindToken(ctx, value)
	if errors.Is(err, types.ErrNotFound) {
		return nil, invalidGrant("Invalid refresh token")
	} else if err != nil {
		return nil, err
	}

	refresh, ok := credential.(*tokens.RefreshToken)
	if !ok {
		return nil, invalidGrant("Invalid refresh token")
	}

	if refresh.Revoked {
		return nil, invalidGrant("Refresh token has been revoked")
	}

	now := p.now()
	if refresh.Expired(now) {
		return nil, invalidGrant("Refresh token has expired")
	}

	access := tokens.NewAccessToken(encryption.GenerateToken(), &refresh.Base, now)
	access.RefreshToken = refresh.Token

	rotated, err := p.db.RotateRefreshToken(ctx, refresh, access)
	if err != nil {
		return nil, err
	}
	if !rotated {
		return nil, invalidGrant("Refresh token was used concurrently")
	}

	p.log.Info("access token refreshed",
		zap.String("client_id", refresh.ClientID),
		zap.String("user_id", refresh.UserID))

	return &types.TokenResponse{
		AccessToken:  access.Token,
		TokenType:    "bearer",
		ExpiresIn:    int(tokens.AccessTokenTTL.Seconds()),
		RefreshToken: refresh.Token,
		Scope:        strings.Join(access.Scopes, " "),
	}, nil
}
