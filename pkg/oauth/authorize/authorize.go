package authorize

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/openfront-platform/openfront-oauth/pkg/encryption"
	"github.com/openfront-platform/openfront-oauth/pkg/handlerutils"
	"github.com/openfront-platform/openfront-oauth/pkg/metrics"
	"github.com/openfront-platform/openfront-oauth/pkg/scopes"
	"github.com/openfront-platform/openfront-oauth/pkg/session"
	"github.com/openfront-platform/openfront-oauth/pkg/tokens"
	"github.com/openfront-platform/openfront-oauth/pkg/types"
	"go.uber.org/zap"
)

type AuthorizationStore interface {
	GetApp(ctx context.Context, clientID string) (*types.OAuthApp, error)
	CreateToken(ctx context.Context, c tokens.Credential) error
}

type Handler struct {
	db         AuthorizationStore
	scopes     *scopes.Table
	signInPath string
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
}

// NewHandler serves both the authorization request (GET) and the consent
// decision (POST). The session must already be attached to the request
// context by session.Resolver.Middleware.
func NewHandler(db AuthorizationStore, table *scopes.Table, signInPath string, m *metrics.Metrics, log *zap.Logger) http.Handler {
	if signInPath == "" {
		signInPath = "/signin"
	}
	return &Handler{
		db:         db,
		scopes:     table,
		signInPath: signInPath,
		metrics:    m,
		log:        log,
		now:        time.Now,
	}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		p.authorize(w, r)
	case http.MethodPost:
		p.consent(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		p.error(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "Method not allowed")
	}
}

func (p *Handler) error(w http.ResponseWriter, status int, code, description string) {
	p.metrics.Error("authorize", code)
	handlerutils.JSON(w, status, types.OAuthError{
		Error:            code,
		ErrorDescription: description,
	})
}

func (p *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		http.Redirect(w, r, p.signInPath+"?from="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
		return
	}

	params := r.URL.Query()
	authReq := types.AuthRequest{
		ResponseType:        params.Get("response_type"),
		ClientID:            params.Get("client_id"),
		RedirectURI:         params.Get("redirect_uri"),
		Scope:               params.Get("scope"),
		State:               params.Get("state"),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
	}

	if authReq.Scope == "" {
		authReq.Scope = p.scopes.DefaultScope()
	}

	if authReq.ResponseType == "" || authReq.ClientID == "" || authReq.RedirectURI == "" {
		p.error(w, http.StatusBadRequest, types.ErrInvalidRequest, "Missing required parameters: client_id, redirect_uri and response_type are required")
		return
	}

	if authReq.ResponseType != "code" {
		p.error(w, http.StatusBadRequest, types.ErrUnsupportedResponseType, "Only the 'code' response type is supported")
		return
	}

	app, err := p.db.GetApp(r.Context(), authReq.ClientID)
	if errors.Is(err, types.ErrNotFound) {
		p.error(w, http.StatusUnauthorized, types.ErrInvalidClient, "Client not found")
		return
	} else if err != nil {
		p.log.Error("failed to look up OAuth app", zap.String("client_id", authReq.ClientID), zap.Error(err))
		p.error(w, http.StatusInternalServerError, types.ErrServerError, "Internal server error")
		return
	}

	if !app.IsActive() {
		p.error(w, http.StatusUnauthorized, types.ErrUnauthorizedClient, "Client is not active")
		return
	}

	if !app.RedirectURIs.Contains(authReq.RedirectURI) {
		p.error(w, http.StatusBadRequest, types.ErrInvalidRedirectURI, "Redirect URI is not registered for this client")
		return
	}

	requested := scopes.Parse(authReq.Scope)
	if len(requested) == 0 {
		requested = []string{p.scopes.DefaultScope()}
	}
	if unknown := p.scopes.Unknown(requested); len(unknown) > 0 {
		p.error(w, http.StatusBadRequest, types.ErrInvalidScope, "Unknown scopes: "+strings.Join(unknown, ", "))
		return
	}

	var unauthorized []string
	for _, s := range requested {
		if !app.Scopes.Contains(s) {
			unauthorized = append(unauthorized, s)
		}
	}
	if len(unauthorized) > 0 {
		p.error(w, http.StatusBadRequest, types.ErrInvalidScope, "Scopes not authorized for this client: "+strings.Join(unauthorized, ", "))
		return
	}

	code := tokens.NewAuthorizationCode(encryption.GenerateToken(), app.ClientID, sess.PrincipalID, requested, tokens.CodeRequest{
		RedirectURI:         authReq.RedirectURI,
		State:               authReq.State,
		CodeChallenge:       authReq.CodeChallenge,
		CodeChallengeMethod: authReq.CodeChallengeMethod,
	}, p.now())
	if err := p.db.CreateToken(r.Context(), code); err != nil {
		p.log.Error("failed to store authorization code", zap.String("client_id", app.ClientID), zap.Error(err))
		p.error(w, http.StatusInternalServerError, types.ErrServerError, "Internal server error")
		return
	}

	p.log.Debug("authorization code issued",
		zap.String("client_id", app.ClientID),
		zap.String("user_id", sess.PrincipalID),
		zap.Strings("scopes", requested))

	data := consentPage{
		Action:            r.URL.Path,
		AppName:           app.Name,
		AppDescription:    app.Description,
		ClientID:          app.ClientID,
		RedirectURI:       authReq.RedirectURI,
		State:             authReq.State,
		AuthorizationCode: code.Token,
	}
	for _, s := range requested {
		data.Scopes = append(data.Scopes, consentScope{Name: s, Permissions: p.scopes.Permissions(s)})
	}
	handlerutils.HTML(w, http.StatusOK, consentTemplate, data)
}

func (p *Handler) consent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		p.error(w, http.StatusBadRequest, types.ErrInvalidRequest, "Failed to parse form data")
		return
	}

	clientID := r.PostForm.Get("client_id")
	redirectURI := r.PostForm.Get("redirect_uri")
	state := r.PostForm.Get("state")
	action := r.PostForm.Get("action")
	code := r.PostForm.Get("authorization_code")

	if clientID == "" || redirectURI == "" {
		p.error(w, http.StatusBadRequest, types.ErrInvalidRequest, "Missing required parameters: client_id and redirect_uri are required")
		return
	}

	if !slices.Contains([]string{"authorize", "deny"}, action) {
		p.error(w, http.StatusBadRequest, types.ErrInvalidRequest, "Invalid action")
		return
	}

	// Never redirect to a target the client did not register.
	app, err := p.db.GetApp(r.Context(), clientID)
	if errors.Is(err, types.ErrNotFound) {
		p.error(w, http.StatusUnauthorized, types.ErrInvalidClient, "Client not found")
		return
	} else if err != nil {
		p.log.Error("failed to look up OAuth app", zap.String("client_id", clientID), zap.Error(err))
		p.error(w, http.StatusInternalServerError, types.ErrServerError, "Internal server error")
		return
	}
	if !app.RedirectURIs.Contains(redirectURI) {
		p.error(w, http.StatusBadRequest, types.ErrInvalidRedirectURI, "Redirect URI is not registered for this client")
		return
	}

	params := url.Values{"state": {state}}
	if action == "deny" {
		// The code stays valid until it expires.
		params.Set("error", types.ErrAccessDenied)
	} else {
		if code == "" {
			p.error(w, http.StatusBadRequest, types.ErrInvalidRequest, "Missing authorization_code")
			return
		}
		params.Set("code", code)
	}

	if err := handlerutils.RedirectWithParams(w, r, redirectURI, params); err != nil {
		p.error(w, http.StatusBadRequest, types.ErrInvalidRedirectURI, "Redirect URI is not a valid URL")
	}
}
