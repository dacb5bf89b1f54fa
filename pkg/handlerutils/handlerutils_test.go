package handlerutils

import (
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedirectWithParams(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/authorize", nil)
	w := httptest.NewRecorder()

	err := RedirectWithParams(w, r, "https://app.example.com/cb?keep=1", url.Values{
		"code":  {"abc"},
		"state": {""},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", loc.Host)
	assert.Equal(t, "1", loc.Query().Get("keep"))
	assert.Equal(t, "abc", loc.Query().Get("code"))
	assert.False(t, loc.Query().Has("state"))
}

func TestRedirectWithParamsInvalidTarget(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/authorize", nil)
	w := httptest.NewRecorder()
	assert.Error(t, RedirectWithParams(w, r, "://bad", nil))
}

func TestHTML(t *testing.T) {
	tmpl := template.Must(template.New("t").Parse(`<p>{{.}}</p>`))
	w := httptest.NewRecorder()
	HTML(w, http.StatusBadRequest, tmpl, "<script>")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "<p>&lt;script&gt;</p>", w.Body.String())
}

func TestHTMLTemplateFailure(t *testing.T) {
	tmpl := template.Must(template.New("t").Parse(`{{.Missing.Field}}`))
	w := httptest.NewRecorder()
	HTML(w, http.StatusOK, tmpl, struct{}{})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", GetClientIP(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", GetClientIP(r))

	r.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", GetClientIP(r))
}

func TestGetBaseURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://shop.example.com/x", nil)
	assert.Equal(t, "http://shop.example.com", GetBaseURL(r))

	r.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https://shop.example.com", GetBaseURL(r))
}
