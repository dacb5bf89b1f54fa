package types

import (
	"time"
)

// Config holds all configuration values for the OAuth server
type Config struct {
	DatabaseDSN        string
	Host               string
	Port               string
	RoutePrefix        string
	SessionSecret      string
	SessionCookieName  string
	SignInPath         string
	PartnerSetupURL    string
	HandoffTokenPrefix string
	RedisURL           string
	RateLimitWindow    time.Duration
	RateLimitMax       int
	LogLevel           string
	LogFormat          string
}

// App status values
const (
	AppStatusActive   = "active"
	AppStatusInactive = "inactive"
)

// Token kinds stored in the token_type column
const (
	TokenTypeAuthorizationCode = "authorization_code"
	TokenTypeAccessToken       = "access_token"
	TokenTypeRefreshToken      = "refresh_token"
)

// Revocation flag values. The column is a string for compatibility with
// existing rows written by the storefront.
const (
	RevokedTrue  = "true"
	RevokedFalse = "false"
)

// OAuthApp is a registered OAuth client
type OAuthApp struct {
	ClientID     string      `gorm:"primaryKey" json:"client_id"`
	ClientSecret string      `gorm:"not null" json:"client_secret,omitempty"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	RedirectURIs StringSlice `gorm:"column:redirect_uris;type:text" json:"redirect_uris"`
	Scopes       StringSlice `gorm:"type:text" json:"scopes"`
	Status       string      `gorm:"not null;default:'active'" json:"status"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OAuthApp) TableName() string { return "oauth_apps" }

// IsActive reports whether the app may authorize or exchange tokens
func (a *OAuthApp) IsActive() bool {
	return a.Status == AppStatusActive
}

// OAuthToken is the flat storage row shared by authorization codes,
// access tokens and refresh tokens. Use pkg/tokens to work with it.
type OAuthToken struct {
	ID        uint        `gorm:"primaryKey"`
	Token     string      `gorm:"not null;index"`
	TokenType string      `gorm:"not null;index"`
	ClientID  string      `gorm:"not null;index"`
	Scopes    StringSlice `gorm:"type:text"`
	ExpiresAt time.Time   `gorm:"not null"`
	IsRevoked string      `gorm:"not null;default:'false'"`
	UserID    *string     `gorm:"index"`

	// authorization_code
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	// access_token
	AuthorizationCode string
	RefreshToken      string

	// refresh_token
	AccessToken string

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (OAuthToken) TableName() string { return "oauth_tokens" }

// User is an authenticated principal. Permissions are the grants of the
// user's role.
type User struct {
	ID          string      `gorm:"primaryKey" json:"id"`
	Name        string      `json:"name"`
	Email       string      `gorm:"index" json:"email"`
	Permissions StringSlice `gorm:"type:text" json:"permissions"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string { return "users" }

// APIKey is looked up by the literal value of the x-api-key header
type APIKey struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Name      string    `json:"name"`
	UserID    string    `gorm:"index" json:"user_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (APIKey) TableName() string { return "api_keys" }
