package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/openfront-platform/openfront-oauth/pkg/access"
	"github.com/openfront-platform/openfront-oauth/pkg/db"
	"github.com/openfront-platform/openfront-oauth/pkg/handlerutils"
	"github.com/openfront-platform/openfront-oauth/pkg/metrics"
	"github.com/openfront-platform/openfront-oauth/pkg/oauth/authorize"
	"github.com/openfront-platform/openfront-oauth/pkg/oauth/callback"
	"github.com/openfront-platform/openfront-oauth/pkg/oauth/revoke"
	"github.com/openfront-platform/openfront-oauth/pkg/oauth/token"
	"github.com/openfront-platform/openfront-oauth/pkg/ratelimit"
	"github.com/openfront-platform/openfront-oauth/pkg/scopes"
	"github.com/openfront-platform/openfront-oauth/pkg/session"
	"github.com/openfront-platform/openfront-oauth/pkg/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultRateLimitWindow = 15 * time.Minute
	defaultRateLimitMax    = 5000
)

type Server struct {
	config   *types.Config
	db       *db.Store
	scopes   *scopes.Table
	access   *access.Checker
	sealer   *session.Sealer
	resolver *session.Resolver
	limiter  ratelimit.Limiter
	redis    *redis.Client
	metrics  *metrics.Metrics
	metadata *types.OAuthMetadata
	log      *zap.Logger
}

func New(config *types.Config, log *zap.Logger) (*Server, error) {
	databaseDSN := config.DatabaseDSN

	if databaseDSN == "" {
		log.Info("DATABASE_DSN not set, using SQLite database at data/openfront_oauth.db")
	} else if db.IsPostgresDSN(databaseDSN) {
		log.Info("using PostgreSQL database")
	} else {
		log.Info("using SQLite database", zap.String("path", databaseDSN))
	}

	if config.Port == "" {
		config.Port = "8080"
	}
	if config.SessionCookieName == "" {
		config.SessionCookieName = session.DefaultCookieName
	}

	secret, err := base64.StdEncoding.DecodeString(config.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session secret: %w", err)
	}
	sealer, err := session.NewSealer(secret)
	if err != nil {
		return nil, err
	}

	store, err := db.New(databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	window := config.RateLimitWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	limit := config.RateLimitMax
	if limit <= 0 {
		limit = defaultRateLimitMax
	}

	var (
		limiter     ratelimit.Limiter
		redisClient *redis.Client
	)
	if config.RedisURL != "" {
		redisClient, err = ratelimit.NewRedisClient(config.RedisURL)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		limiter = ratelimit.NewRedisLimiter(redisClient, "", window, limit)
		log.Info("using Redis rate limiter")
	} else {
		limiter = ratelimit.NewRateLimiter(window, limit)
	}

	table := scopes.Default()
	metadata := &types.OAuthMetadata{
		ResponseTypesSupported:            []string{"code"},
		CodeChallengeMethodsSupported:     []string{"S256", "plain"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		ScopesSupported:                   table.Names(),
	}

	return &Server{
		config:   config,
		db:       store,
		scopes:   table,
		access:   access.NewChecker(table),
		sealer:   sealer,
		resolver: session.NewResolver(store, sealer, config.SessionCookieName, log.Named("session")),
		limiter:  limiter,
		redis:    redisClient,
		metrics:  metrics.New(),
		metadata: metadata,
		log:      log,
	}, nil
}

func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	prefix := s.config.RoutePrefix

	authorizeHandler := authorize.NewHandler(s.db, s.scopes, s.config.SignInPath, s.metrics, s.log.Named("authorize"))
	tokenHandler := token.NewHandler(s.db, s.metrics, s.log.Named("token"))
	callbackHandler := callback.NewHandler(s.db, s.config.PartnerSetupURL, s.config.HandoffTokenPrefix, s.metrics, s.log.Named("callback"))
	revokeHandler := revoke.NewHandler(s.db, s.metrics, s.log.Named("revoke"))

	mux.HandleFunc("GET "+prefix+"/health", s.withCORS(s.healthHandler))
	mux.Handle("GET "+prefix+"/metrics", s.metrics.Handler())

	mux.HandleFunc("GET "+prefix+"/authorize", s.withCORS(s.withRateLimit("authorize", s.resolver.Middleware(authorizeHandler))))
	mux.HandleFunc("POST "+prefix+"/authorize", s.withCORS(s.withRateLimit("authorize", authorizeHandler)))
	mux.HandleFunc("GET "+prefix+"/callback", s.withCORS(s.withRateLimit("callback", callbackHandler)))
	mux.HandleFunc("POST "+prefix+"/token", s.withCORS(s.withRateLimit("token", tokenHandler)))
	mux.HandleFunc("POST "+prefix+"/revoke", s.withCORS(s.withRateLimit("revoke", revokeHandler)))
	mux.HandleFunc("OPTIONS "+prefix+"/{path...}", s.withCORS(http.NotFound))

	mux.HandleFunc("GET "+prefix+"/api/session", s.withCORS(s.withRateLimit("session", s.resolver.Middleware(http.HandlerFunc(s.sessionHandler)))))
	mux.HandleFunc("POST "+prefix+"/signout", s.withCORS(s.signOutHandler))

	mux.HandleFunc("GET /.well-known/oauth-authorization-server", s.withCORS(s.oauthMetadataHandler))
}

func (s *Server) GetHandler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	return handlers.LoggingHandler(os.Stdout, s.withRecovery(mux))
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, "+session.APIKeyHeader)
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int((12 * time.Hour).Seconds())))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// withRateLimit fails open when the limiter itself errors
func (s *Server) withRateLimit(endpoint string, next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			clientIP := handlerutils.GetClientIP(r)
			allowed, err := s.limiter.Allow(r.Context(), clientIP)
			if err != nil {
				s.log.Warn("rate limiter unavailable", zap.Error(err))
			} else if !allowed {
				s.metrics.RateLimited(endpoint)
				handlerutils.JSON(w, http.StatusTooManyRequests, types.OAuthError{
					Error:            types.ErrTooManyRequests,
					ErrorDescription: "Rate limit exceeded",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("panic while serving request",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()))
				handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{
					Error:            types.ErrServerError,
					ErrorDescription: "Internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	handlerutils.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) oauthMetadataHandler(w http.ResponseWriter, r *http.Request) {
	baseURL := handlerutils.GetBaseURL(r)
	prefix := s.config.RoutePrefix

	metadata := &types.OAuthMetadata{
		Issuer:                            baseURL,
		AuthorizationEndpoint:             fmt.Sprintf("%s%s/authorize", baseURL, prefix),
		TokenEndpoint:                     fmt.Sprintf("%s%s/token", baseURL, prefix),
		RevocationEndpoint:                fmt.Sprintf("%s%s/revoke", baseURL, prefix),
		ResponseTypesSupported:            s.metadata.ResponseTypesSupported,
		GrantTypesSupported:               s.metadata.GrantTypesSupported,
		CodeChallengeMethodsSupported:     s.metadata.CodeChallengeMethodsSupported,
		TokenEndpointAuthMethodsSupported: s.metadata.TokenEndpointAuthMethodsSupported,
		ScopesSupported:                   s.metadata.ScopesSupported,
	}

	handlerutils.JSON(w, http.StatusOK, metadata)
}

func (s *Server) signOutHandler(w http.ResponseWriter, r *http.Request) {
	session.ClearCookie(w, s.resolver.CookieName())
	w.WriteHeader(http.StatusNoContent)
}
