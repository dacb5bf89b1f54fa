// Package session determines the acting principal of an inbound request.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openfront-platform/openfront-oauth/pkg/tokens"
	"github.com/openfront-platform/openfront-oauth/pkg/types"
	"go.uber.org/zap"
)

// APIKeyHeader carries an API key record identifier
const APIKeyHeader = "x-api-key"

// Source names the credential a session was resolved from
type Source string

const (
	SourceAPIKey        Source = "api_key"
	SourceOAuth         Source = "oauth"
	SourceBearerSession Source = "bearer_session"
	SourceCookie        Source = "cookie"
)

// Session is the resolved principal of a request
type Session struct {
	PrincipalID string   `json:"principal_id"`
	Source      Source   `json:"source"`
	ClientID    string   `json:"client_id,omitempty"`
	OAuthScopes []string `json:"oauth_scopes,omitempty"`
}

// Store is the lookup surface the resolver needs
type Store interface {
	GetAPIKey(ctx context.Context, key string) (*types.APIKey, error)
	GetUser(ctx context.Context, id string) (*types.User, error)
	FindToken(ctx context.Context, token string) (tokens.Credential, error)
	GetApp(ctx context.Context, clientID string) (*types.OAuthApp, error)
}

// Resolver tries, in order, the API key header, an OAuth bearer token, the
// bearer value as a sealed session and finally the session cookie. The
// first that yields a principal wins.
type Resolver struct {
	db         Store
	sealer     *Sealer
	cookieName string
	log        *zap.Logger
	now        func() time.Time
}

func NewResolver(db Store, sealer *Sealer, cookieName string, log *zap.Logger) *Resolver {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Resolver{
		db:         db,
		sealer:     sealer,
		cookieName: cookieName,
		log:        log,
		now:        time.Now,
	}
}

// CookieName returns the name of the session cookie
func (r *Resolver) CookieName() string {
	return r.cookieName
}

// Sealer returns the codec shared by bearer and cookie sessions
func (r *Resolver) Sealer() *Sealer {
	return r.sealer
}

// Resolve returns the session of req, or nil when the request is
// unauthenticated. An error means a lookup failed, not that the
// credentials were bad.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (*Session, error) {
	if key := req.Header.Get(APIKeyHeader); key != "" {
		s, err := r.fromAPIKey(ctx, key)
		if err != nil || s != nil {
			return s, err
		}
	}

	if bearer, ok := bearerToken(req); ok {
		s, err := r.fromAccessToken(ctx, bearer)
		if err != nil || s != nil {
			return s, err
		}
		if principal, ok := r.unseal(bearer); ok {
			return &Session{PrincipalID: principal, Source: SourceBearerSession}, nil
		}
	}

	if cookie, err := req.Cookie(r.cookieName); err == nil && cookie.Value != "" {
		if principal, ok := r.unseal(cookie.Value); ok {
			return &Session{PrincipalID: principal, Source: SourceCookie}, nil
		}
	}

	return nil, nil
}

func (r *Resolver) fromAPIKey(ctx context.Context, key string) (*Session, error) {
	apiKey, err := r.db.GetAPIKey(ctx, key)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	userID, err := r.linkedUser(ctx, apiKey.UserID)
	if err != nil || userID == "" {
		return nil, err
	}
	return &Session{PrincipalID: userID, Source: SourceAPIKey}, nil
}

func (r *Resolver) fromAccessToken(ctx context.Context, bearer string) (*Session, error) {
	credential, err := r.db.FindToken(ctx, bearer)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up access token: %w", err)
	}

	access, ok := credential.(*tokens.AccessToken)
	if !ok {
		r.log.Debug("bearer value is not an access token", zap.String("kind", string(credential.Kind())))
		return nil, nil
	}
	if !access.Usable(r.now()) {
		r.log.Debug("access token revoked or expired", zap.String("client_id", access.ClientID))
		return nil, nil
	}

	app, err := r.db.GetApp(ctx, access.ClientID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up OAuth app: %w", err)
	}
	if !app.IsActive() {
		r.log.Debug("access token belongs to inactive app", zap.String("client_id", access.ClientID))
		return nil, nil
	}

	userID, err := r.linkedUser(ctx, access.UserID)
	if err != nil || userID == "" {
		return nil, err
	}

	return &Session{
		PrincipalID: userID,
		Source:      SourceOAuth,
		ClientID:    access.ClientID,
		OAuthScopes: append([]string{}, access.Scopes...),
	}, nil
}

func (r *Resolver) linkedUser(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", nil
	}
	user, err := r.db.GetUser(ctx, userID)
	if errors.Is(err, types.ErrNotFound) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	return user.ID, nil
}

func (r *Resolver) unseal(value string) (string, bool) {
	if r.sealer == nil {
		return "", false
	}
	principal, err := r.sealer.Unseal(value)
	if err != nil {
		return "", false
	}
	return principal, true
}

func bearerToken(req *http.Request) (string, bool) {
	parts := strings.SplitN(req.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
