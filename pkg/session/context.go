package session

import (
	"context"
	"net/http"

	"github.com/openfront-platform/openfront-oauth/pkg/handlerutils"
	"github.com/openfront-platform/openfront-oauth/pkg/types"
	"go.uber.org/zap"
)

type sessionKey struct{}

// WithSession returns a copy of ctx carrying s
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session attached by Middleware, or nil
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// Middleware resolves the session of every request and attaches it to the
// request context. Unauthenticated requests pass through with no session.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s, err := r.Resolve(req.Context(), req)
		if err != nil {
			r.log.Error("failed to resolve session", zap.Error(err))
			handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{
				Error:            types.ErrServerError,
				ErrorDescription: "Failed to resolve session",
			})
			return
		}
		if s != nil {
			req = req.WithContext(WithSession(req.Context(), s))
		}
		next.ServeHTTP(w, req)
	})
}
