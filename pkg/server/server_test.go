package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/openfront-platform/openfront-oauth/pkg/session"
	"github.com/openfront-platform/openfront-oauth/pkg/tokens"
	"github.com/openfront-platform/openfront-oauth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	testClientID     = "storefront-sync"
	testClientSecret = "sync-secret"
)

func testConfig(t *testing.T) *types.Config {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return &types.Config{
		DatabaseDSN:     filepath.Join(t.TempDir(), "server.db"),
		SessionSecret:   base64.StdEncoding.EncodeToString(secret),
		PartnerSetupURL: "https://partner.example.com/setup",
	}
}

func newTestServer(t *testing.T, config *types.Config) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ts := httptest.NewServer(s.GetHandler())
	t.Cleanup(ts.Close)

	ctx := context.Background()
	require.NoError(t, s.db.StoreApp(ctx, &types.OAuthApp{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		Name:         "Storefront Sync",
		RedirectURIs: types.StringSlice{ts.URL + "/client/callback"},
		Scopes:       types.StringSlice{"read_products", "read_orders"},
	}))
	require.NoError(t, s.db.StoreUser(ctx, &types.User{
		ID:          "user-1",
		Email:       "owner@example.com",
		Permissions: types.StringSlice{"canManageCart"},
	}))
	return s, ts
}

func noRedirectClient(jar http.CookieJar) *http.Client {
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func hiddenField(t *testing.T, body, name string) string {
	t.Helper()
	marker := `name="` + name + `" value="`
	i := strings.Index(body, marker)
	require.NotEqual(t, -1, i, "field %s not found", name)
	rest := body[i+len(marker):]
	return rest[:strings.Index(rest, `"`)]
}

func getSession(t *testing.T, client *http.Client, req *http.Request) (int, sessionInfo) {
	t.Helper()
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var info sessionInfo
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	}
	return resp.StatusCode, info
}

// TestAuthorizationCodeFlow drives the whole flow with a real OAuth client.
func TestAuthorizationCodeFlow(t *testing.T) {
	s, ts := newTestServer(t, testConfig(t))
	ctx := context.Background()

	sealed, err := s.sealer.Seal("user-1", time.Hour)
	require.NoError(t, err)
	base, err := url.Parse(ts.URL)
	require.NoError(t, err)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	jar.SetCookies(base, []*http.Cookie{{Name: session.DefaultCookieName, Value: sealed, Path: "/"}})
	browser := noRedirectClient(jar)

	conf := &oauth2.Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURL:  ts.URL + "/client/callback",
		Scopes:       []string{"read_products", "read_orders"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   ts.URL + "/authorize",
			TokenURL:  ts.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	verifier := oauth2.GenerateVerifier()

	resp, err := browser.Get(conf.AuthCodeURL("state-123", oauth2.S256ChallengeOption(verifier)))
	require.NoError(t, err)
	var page bytes.Buffer
	_, err = page.ReadFrom(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, page.String())

	resp, err = browser.PostForm(ts.URL+"/authorize", url.Values{
		"client_id":          {hiddenField(t, page.String(), "client_id")},
		"redirect_uri":       {hiddenField(t, page.String(), "redirect_uri")},
		"state":              {hiddenField(t, page.String(), "state")},
		"authorization_code": {hiddenField(t, page.String(), "authorization_code")},
		"action":             {"authorize"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "state-123", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	require.NoError(t, err)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)
	assert.Equal(t, "read_products read_orders", tok.Extra("scope"))

	// the code cannot be redeemed twice
	_, err = conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	var retrieveErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &retrieveErr)
	assert.Equal(t, types.ErrInvalidGrant, retrieveErr.ErrorCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/session", nil)
	require.NoError(t, err)
	status, info := getSession(t, conf.Client(ctx, tok), req)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "user-1", info.PrincipalID)
	assert.Equal(t, session.SourceOAuth, info.Source)
	assert.Equal(t, testClientID, info.ClientID)
	assert.Equal(t, []string{"read_products", "read_orders"}, info.OAuthScopes)
	assert.Contains(t, info.Permissions, "canReadProducts")
	assert.Contains(t, info.Permissions, "canReadOrders")
	assert.Contains(t, info.Permissions, "canManageCart")
	assert.NotContains(t, info.Permissions, "canManageProducts")

	// force a refresh through the token source
	stale := *tok
	stale.Expiry = time.Now().Add(-time.Minute)
	refreshed, err := conf.TokenSource(ctx, &stale).Token()
	require.NoError(t, err)
	assert.NotEqual(t, tok.AccessToken, refreshed.AccessToken)
	assert.Equal(t, tok.RefreshToken, refreshed.RefreshToken)

	old, err := s.db.FindToken(ctx, tok.AccessToken)
	require.NoError(t, err)
	assert.True(t, old.Common().Revoked)

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/api/session", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	status, _ = getSession(t, http.DefaultClient, req)
	assert.Equal(t, http.StatusUnauthorized, status, "rotated access token no longer authenticates")
}

func TestExpiredBearerIsUnauthenticated(t *testing.T) {
	s, ts := newTestServer(t, testConfig(t))

	access := tokens.NewAccessToken("expired-access", &tokens.Base{ClientID: testClientID, UserID: "user-1"}, time.Now())
	access.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.db.CreateToken(context.Background(), access))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/session", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer expired-access")

	status, _ := getSession(t, http.DefaultClient, req)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPIKeySession(t *testing.T) {
	s, ts := newTestServer(t, testConfig(t))
	require.NoError(t, s.db.StoreAPIKey(context.Background(), &types.APIKey{ID: "key-abc", UserID: "user-1"}))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/session", nil)
	require.NoError(t, err)
	req.Header.Set(session.APIKeyHeader, "key-abc")

	status, info := getSession(t, http.DefaultClient, req)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, session.SourceAPIKey, info.Source)
	assert.Equal(t, []string{"canManageCart"}, info.Permissions)
}

func TestUnauthenticatedAuthorizeRedirectsToSignIn(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	resp, err := noRedirectClient(nil).Get(ts.URL + "/authorize?client_id=" + testClientID)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/signin", loc.Path)
	assert.Equal(t, "/authorize?client_id="+testClientID, loc.Query().Get("from"))
}

func TestHealthAndMetadata(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(ts.URL + "/.well-known/oauth-authorization-server")
	require.NoError(t, err)
	defer resp.Body.Close()
	var metadata types.OAuthMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&metadata))
	assert.Equal(t, ts.URL, metadata.Issuer)
	assert.Equal(t, ts.URL+"/token", metadata.TokenEndpoint)
	assert.Equal(t, ts.URL+"/revoke", metadata.RevocationEndpoint)
	assert.Contains(t, metadata.ScopesSupported, "read_products")
	assert.Contains(t, metadata.CodeChallengeMethodsSupported, "S256")
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/token", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), session.APIKeyHeader)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	resp, err := http.PostForm(ts.URL+"/token", url.Values{"grant_type": {"password"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `openfront_oauth_errors_total{endpoint="token",error="unsupported_grant_type"} 1`)
}

func TestRateLimit(t *testing.T) {
	config := testConfig(t)
	config.RateLimitMax = 2
	config.RateLimitWindow = time.Minute
	_, ts := newTestServer(t, config)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.PostForm(ts.URL+"/token", url.Values{"grant_type": {"password"}})
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)
}

func TestRedisRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	config := testConfig(t)
	config.RedisURL = "redis://" + mr.Addr()
	config.RateLimitMax = 1
	config.RateLimitWindow = time.Minute
	s, ts := newTestServer(t, config)
	require.NotNil(t, s.redis)

	resp, err := http.Get(ts.URL + "/callback")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/callback")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// a Redis outage fails open
	mr.Close()
	resp, err = http.Get(ts.URL + "/callback")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecovery(t *testing.T) {
	s, err := New(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	h := s.withRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), types.ErrServerError)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestSignOut(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	resp, err := http.Post(ts.URL+"/signout", "", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, session.DefaultCookieName, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestNewRejectsBadSecret(t *testing.T) {
	config := testConfig(t)
	config.SessionSecret = "not base64!"
	_, err := New(config, zap.NewNop())
	assert.Error(t, err)

	config.SessionSecret = base64.StdEncoding.EncodeToString([]byte("short"))
	_, err = New(config, zap.NewNop())
	assert.Error(t, err)
}
