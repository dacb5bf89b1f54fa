package callback

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/openfront-platform/openfront-oauth/pkg/encryption"
	"github.com/openfront-platform/openfront-oauth/pkg/handlerutils"
	"github.com/openfront-platform/openfront-oauth/pkg/metrics"
	"github.com/openfront-platform/openfront-oauth/pkg/tokens"
	"github.com/openfront-platform/openfront-oauth/pkg/types"
	"go.uber.org/zap"
)

// RedirectTypeSetup marks a state issued by the partner's setup flow
const RedirectTypeSetup = "openship_setup"

// DefaultHandoffPrefix prefixes hand-off tokens forwarded to the partner
const DefaultHandoffPrefix = "osk"

type Store interface {
	FindToken(ctx context.Context, token string) (tokens.Credential, error)
	GetApp(ctx context.Context, clientID string) (*types.OAuthApp, error)
}

type Handler struct {
	db              Store
	partnerSetupURL string
	handoffPrefix   string
	metrics         *metrics.Metrics
	log             *zap.Logger
	now             func() time.Time
}

func NewHandler(db Store, partnerSetupURL, handoffPrefix string, m *metrics.Metrics, log *zap.Logger) http.Handler {
	if handoffPrefix == "" {
		handoffPrefix = DefaultHandoffPrefix
	}
	return &Handler{
		db:              db,
		partnerSetupURL: partnerSetupURL,
		handoffPrefix:   handoffPrefix,
		metrics:         m,
		log:             log,
		now:             time.Now,
	}
}

// setupState is the decoded state of a partner setup flow
type setupState struct {
	RedirectType string `json:"redirect_type"`
	ClientID     string `json:"client_id"`
}

// decodeSetupState reports the partner setup request carried in state, if any
func decodeSetupState(state string) (*setupState, bool) {
	if state == "" {
		return nil, false
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		raw, err := enc.DecodeString(state)
		if err != nil {
			continue
		}
		var s setupState
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false
		}
		return &s, s.RedirectType == RedirectTypeSetup
	}
	return nil, false
}

func (p *Handler) error(w http.ResponseWriter, status int, code, description string) {
	p.metrics.Error("callback", code)
	handlerutils.JSON(w, status, types.OAuthError{
		Error:            code,
		ErrorDescription: description,
	})
}

// authorizationErrors are the error codes an authorization server may
// send back to the redirect URI
var authorizationErrors = []string{
	types.ErrInvalidRequest,
	types.ErrUnauthorizedClient,
	types.ErrAccessDenied,
	types.ErrUnsupportedResponseType,
	types.ErrInvalidScope,
	types.ErrServerError,
	types.ErrTemporarilyUnavailable,
}

// errorLabel maps a caller supplied error code onto a bounded metric label
func errorLabel(code string) string {
	if slices.Contains(authorizationErrors, code) {
		return code
	}
	return "other"
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	code := params.Get("code")
	state := params.Get("state")

	if errCode := params.Get("error"); errCode != "" {
		p.metrics.Error("callback", errorLabel(errCode))
		handlerutils.HTML(w, http.StatusBadRequest, errorTemplate, errorPage{
			Error:       errCode,
			Description: params.Get("error_description"),
		})
		return
	}

	if code == "" {
		p.error(w, http.StatusBadRequest, types.ErrInvalidRequest, "Missing authorization code")
		return
	}

	authCode, err := p.lookupCode(r.Context(), code)
	if err != nil {
		p.log.Error("failed to look up authorization code", zap.Error(err))
		p.error(w, http.StatusInternalServerError, types.ErrServerError, "Internal server error")
		return
	}

	if setup, ok := decodeSetupState(state); ok {
		p.setup(w, r, authCode, setup)
		return
	}

	if authCode == nil {
		p.metrics.Error("callback", types.ErrInvalidGrant)
		handlerutils.HTML(w, http.StatusBadRequest, errorTemplate, errorPage{
			Error:       "Invalid code",
			Description: "The authorization code is unknown, expired or already used.",
		})
		return
	}

	handlerutils.HTML(w, http.StatusOK, successTemplate, successPage{
		Code:  authCode.Token,
		State: state,
	})
}

// lookupCode returns the authorization code only while it could still be
// exchanged. It never consumes the code.
func (p *Handler) lookupCode(ctx context.Context, code string) (*tokens.AuthorizationCode, error) {
	credential, err := p.db.FindToken(ctx, code)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	authCode, ok := credential.(*tokens.AuthorizationCode)
	if !ok || !authCode.Usable(p.now()) {
		return nil, nil
	}
	return authCode, nil
}

// setup forwards the partner to its own setup UI with the credentials of
// the app named in state. The hand-off token is not stored.
func (p *Handler) setup(w http.ResponseWriter, r *http.Request, authCode *tokens.AuthorizationCode, setup *setupState) {
	if authCode == nil {
		p.error(w, http.StatusBadRequest, types.ErrInvalidGrant, "Invalid authorization code")
		return
	}

	if setup.ClientID == "" {
		p.error(w, http.StatusBadRequest, types.ErrInvalidClient, "Client not found")
		return
	}
	app, err := p.db.GetApp(r.Context(), setup.ClientID)
	if errors.Is(err, types.ErrNotFound) {
		p.error(w, http.StatusBadRequest, types.ErrInvalidClient, "Client not found")
		return
	} else if err != nil {
		p.log.Error("failed to look up OAuth app", zap.String("client_id", setup.ClientID), zap.Error(err))
		p.error(w, http.StatusInternalServerError, types.ErrServerError, "Internal server error")
		return
	}

	if p.partnerSetupURL == "" {
		p.log.Error("partner setup requested but no partner setup URL is configured")
		p.error(w, http.StatusInternalServerError, types.ErrServerError, "Partner setup is not configured")
		return
	}

	handoff := p.HandoffToken()
	err = handlerutils.RedirectWithParams(w, r, p.partnerSetupURL, url.Values{
		"client_id":     {app.ClientID},
		"client_secret": {app.ClientSecret},
		"app_name":      {app.Name},
		"access_token":  {handoff},
		"domain":        {handlerutils.GetBaseURL(r)},
	})
	if err != nil {
		p.log.Error("invalid partner setup URL", zap.String("url", p.partnerSetupURL), zap.Error(err))
		p.error(w, http.StatusInternalServerError, types.ErrServerError, "Partner setup is not configured")
		return
	}

	p.log.Info("forwarded partner setup", zap.String("client_id", app.ClientID))
}

// HandoffToken mints a transient "<prefix>_<unix millis>_<8 chars>" value
func (p *Handler) HandoffToken() string {
	return fmt.Sprintf("%s_%d_%s", p.handoffPrefix, p.now().UnixMilli(), encryption.GenerateAlphanumeric(8))
}
