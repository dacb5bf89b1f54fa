package server

import (
	"errors"
	"net/http"

	"github.com/openfront-platform/openfront-oauth/pkg/handlerutils"
	"github.com/openfront-platform/openfront-oauth/pkg/session"
	"github.com/openfront-platform/openfront-oauth/pkg/types"
	"go.uber.org/zap"
)

// sessionInfo describes the caller of GET /api/session
type sessionInfo struct {
	PrincipalID string         `json:"principal_id"`
	Source      session.Source `json:"source"`
	ClientID    string         `json:"client_id,omitempty"`
	OAuthScopes []string       `json:"oauth_scopes,omitempty"`
	Permissions []string       `json:"permissions"`
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		handlerutils.JSON(w, http.StatusUnauthorized, types.OAuthError{
			Error:            "unauthenticated",
			ErrorDescription: "No valid credentials were presented",
		})
		return
	}
	s.metrics.SessionResolved(string(sess.Source))

	var rolePermissions []string
	user, err := s.db.GetUser(r.Context(), sess.PrincipalID)
	if err == nil {
		rolePermissions = user.Permissions
	} else if !errors.Is(err, types.ErrNotFound) {
		s.log.Error("failed to look up user", zap.String("user_id", sess.PrincipalID), zap.Error(err))
		handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{
			Error:            types.ErrServerError,
			ErrorDescription: "Internal server error",
		})
		return
	}

	permissions := s.access.Effective(rolePermissions, sess.OAuthScopes)
	if permissions == nil {
		permissions = []string{}
	}

	handlerutils.JSON(w, http.StatusOK, sessionInfo{
		PrincipalID: sess.PrincipalID,
		Source:      sess.Source,
		ClientID:    sess.ClientID,
		OAuthScopes: sess.OAuthScopes,
		Permissions: permissions,
	})
}
