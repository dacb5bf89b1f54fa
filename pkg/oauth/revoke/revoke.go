package revoke

import (
	"context"
	"errors"
	"net/http"

	"github.com/openfront-platform/openfront-oauth/pkg/handlerutils"
	"github.com/openfront-platform/openfront-oauth/pkg/metrics"
	"github.com/openfront-platform/openfront-oauth/pkg/oauth/token"
	"github.com/openfront-platform/openfront-oauth/pkg/tokens"
	"github.com/openfront-platform/openfront-oauth/pkg/types"
	"go.uber.org/zap"
)

type Store interface {
	GetApp(ctx context.Context, clientID string) (*types.OAuthApp, error)
	FindToken(ctx context.Context, token string) (tokens.Credential, error)
	FindTokens(ctx context.Context, token string, kind tokens.Kind, clientID string) ([]tokens.Credential, error)
	RevokeToken(ctx context.Context, id uint) (bool, error)
}

type Handler struct {
	db      Store
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewHandler(db Store, m *metrics.Metrics, log *zap.Logger) http.Handler {
	return &Handler{
		db:      db,
		metrics: m,
		log:     log,
	}
}

func (p *Handler) error(w http.ResponseWriter, status int, code, description string) {
	p.metrics.Error("revoke", code)
	handlerutils.JSON(w, status, types.OAuthError{
		Error:            code,
		ErrorDescription: description,
	})
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		p.error(w, http.StatusBadRequest, types.ErrInvalidRequest, "Invalid request body")
		return
	}

	value := r.PostForm.Get("token")
	clientID := r.PostForm.Get("client_id")
	clientSecret := r.PostForm.Get("client_secret")

	if clientID == "" {
		p.error(w, http.StatusUnauthorized, types.ErrInvalidClient, "Client ID is required")
		return
	}

	app, err := p.db.GetApp(r.Context(), clientID)
	if errors.Is(err, types.ErrNotFound) {
		p.error(w, http.StatusUnauthorized, types.ErrInvalidClient, "Client not found")
		return
	} else if err != nil {
		p.log.Error("failed to look up OAuth app", zap.String("client_id", clientID), zap.Error(err))
		p.error(w, http.StatusInternalServerError, types.ErrServerError, "Internal server error")
		return
	}

	if !token.SecretsEqual(app.ClientSecret, clientSecret) {
		p.error(w, http.StatusUnauthorized, types.ErrInvalidClient, "Invalid client secret")
		return
	}

	if value == "" {
		p.error(w, http.StatusBadRequest, types.ErrInvalidRequest, "Token parameter is required")
		return
	}

	// RFC 7009: the response is 200 whether or not anything was revoked,
	// and 503 when the revocation could not be carried out.
	if err := p.revoke(r.Context(), value, clientID); err != nil {
		p.log.Error("failed to revoke token", zap.String("client_id", clientID), zap.Error(err))
		p.error(w, http.StatusServiceUnavailable, types.ErrTemporarilyUnavailable, "Token could not be revoked, retry later")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (p *Handler) revoke(ctx context.Context, value, clientID string) error {
	credential, err := p.db.FindToken(ctx, value)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	if credential.Common().ClientID != clientID {
		p.log.Warn("revocation attempt by wrong client",
			zap.String("owner", credential.Common().ClientID),
			zap.String("client_id", clientID))
		return nil
	}

	var targets []tokens.Credential
	switch c := credential.(type) {
	case *tokens.AccessToken:
		targets = append(targets, c)
	case *tokens.RefreshToken:
		targets = append(targets, c)
		if c.AccessToken != "" {
			paired, err := p.db.FindTokens(ctx, c.AccessToken, tokens.KindAccessToken, clientID)
			if err != nil {
				return err
			}
			targets = append(targets, paired...)
		}
	default:
		return nil
	}

	for _, c := range targets {
		if c.Common().Revoked {
			continue
		}
		if _, err := p.db.RevokeToken(ctx, c.Common().ID); err != nil {
			return err
		}
	}
	return nil
}
