package session

import (
	"net/http"
	"time"
)

// DefaultCookieName matches the storefront's web session cookie
const DefaultCookieName = "keystonejs-session"

// isSecureRequest determines if the request is over HTTPS
func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if r.Header.Get("X-Forwarded-Proto") == "https" {
		return true
	}
	return r.Header.Get("X-Forwarded-Ssl") == "on"
}

// SetCookie stores a sealed session in the session cookie
func SetCookie(w http.ResponseWriter, r *http.Request, name, sealed string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    sealed,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Secure:   isSecureRequest(r),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie
func ClearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
