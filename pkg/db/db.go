package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfront-platform/openfront-oauth/pkg/tokens"
	"github.com/openfront-platform/openfront-oauth/pkg/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store represents the database connection and operations
type Store struct {
	db     *gorm.DB
	dbType string // "postgres" or "sqlite"
}

// New creates a new database connection and sets up the schema
func New(dsn string) (*Store, error) {
	var gormDB *gorm.DB
	var dbType string
	var err error

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	if dsn == "" {
		dataDir := "data"
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}

		gormDB, err = gorm.Open(sqlite.Open(filepath.Join(dataDir, "openfront_oauth.db")), gormConfig)
		dbType = "sqlite"
	} else if IsPostgresDSN(dsn) {
		gormDB, err = gorm.Open(postgres.Open(dsn), gormConfig)
		dbType = "postgres"
	} else {
		gormDB, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		dbType = "sqlite"
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database := &Store{db: gormDB, dbType: dbType}
	if err := database.setupSchema(); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return database, nil
}

// IsPostgresDSN reports whether dsn selects the PostgreSQL driver
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func (d *Store) setupSchema() error {
	err := d.db.AutoMigrate(
		&types.OAuthApp{},
		&types.OAuthToken{},
		&types.User{},
		&types.APIKey{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}
	return nil
}

// Type returns "postgres" or "sqlite"
func (d *Store) Type() string {
	return d.dbType
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.ErrNotFound
	}
	return err
}

// GetApp retrieves an OAuth app by client ID
func (d *Store) GetApp(ctx context.Context, clientID string) (*types.OAuthApp, error) {
	var app types.OAuthApp
	if err := d.db.WithContext(ctx).First(&app, "client_id = ?", clientID).Error; err != nil {
		return nil, notFound(err)
	}
	return &app, nil
}

// StoreApp creates or replaces an OAuth app
func (d *Store) StoreApp(ctx context.Context, app *types.OAuthApp) error {
	if app.Status == "" {
		app.Status = types.AppStatusActive
	}
	return d.db.WithContext(ctx).Save(app).Error
}

// SetAppStatus toggles an app between active and inactive
func (d *Store) SetAppStatus(ctx context.Context, clientID, status string) error {
	result := d.db.WithContext(ctx).Model(&types.OAuthApp{}).Where("client_id = ?", clientID).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrNotFound
	}
	return nil
}

// GetUser retrieves a user by ID
func (d *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	var user types.User
	if err := d.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// StoreUser creates or replaces a user
func (d *Store) StoreUser(ctx context.Context, user *types.User) error {
	return d.db.WithContext(ctx).Save(user).Error
}

// GetAPIKey retrieves an API key record by its literal value
func (d *Store) GetAPIKey(ctx context.Context, key string) (*types.APIKey, error) {
	var apiKey types.APIKey
	if err := d.db.WithContext(ctx).First(&apiKey, "id = ?", key).Error; err != nil {
		return nil, notFound(err)
	}
	return &apiKey, nil
}

// StoreAPIKey creates an API key record
func (d *Store) StoreAPIKey(ctx context.Context, apiKey *types.APIKey) error {
	return d.db.WithContext(ctx).Create(apiKey).Error
}

// CreateToken persists a new credential and records its row ID on it
func (d *Store) CreateToken(ctx context.Context, c tokens.Credential) error {
	return createToken(d.db.WithContext(ctx), c)
}

func createToken(tx *gorm.DB, c tokens.Credential) error {
	row := tokens.ToRow(c)
	row.ID = 0
	if err := tx.Create(row).Error; err != nil {
		return err
	}
	c.Common().ID = row.ID
	return nil
}

// FindToken returns the oldest credential whose literal value is token
func (d *Store) FindToken(ctx context.Context, token string) (tokens.Credential, error) {
	var row types.OAuthToken
	if err := d.db.WithContext(ctx).Order("id").First(&row, "token = ?", token).Error; err != nil {
		return nil, notFound(err)
	}
	return tokens.FromRow(&row)
}

// FindTokens returns every credential of the given kind and client whose
// literal value is token.
func (d *Store) FindTokens(ctx context.Context, token string, kind tokens.Kind, clientID string) ([]tokens.Credential, error) {
	var rows []types.OAuthToken
	err := d.db.WithContext(ctx).
		Where("token = ? AND token_type = ? AND client_id = ?", token, string(kind), clientID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]tokens.Credential, 0, len(rows))
	for i := range rows {
		c, err := tokens.FromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

// RevokeToken flips the revocation flag of the credential with the given
// row ID from false to true. It reports whether this call made the
// transition, so concurrent callers racing on the same credential see
// exactly one winner.
func (d *Store) RevokeToken(ctx context.Context, id uint) (bool, error) {
	return revokeToken(d.db.WithContext(ctx), id)
}

func revokeToken(tx *gorm.DB, id uint) (bool, error) {
	result := tx.Model(&types.OAuthToken{}).
		Where("id = ? AND is_revoked = ?", id, types.RevokedFalse).
		Update("is_revoked", types.RevokedTrue)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RedeemAuthorizationCode revokes the code and persists the access and
// refresh tokens minted from it in one transaction. It reports false and
// writes nothing when the code was already revoked.
func (d *Store) RedeemAuthorizationCode(ctx context.Context, codeID uint, access *tokens.AccessToken, refresh *tokens.RefreshToken) (bool, error) {
	var won bool
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := revokeToken(tx, codeID)
		if err != nil || !ok {
			return err
		}
		if err := createToken(tx, access); err != nil {
			return fmt.Errorf("failed to store access token: %w", err)
		}
		if err := createToken(tx, refresh); err != nil {
			return fmt.Errorf("failed to store refresh token: %w", err)
		}
		won = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

var errRotationLost = errors.New("refresh token was rotated concurrently")

// RotateRefreshToken persists access as the new token of refresh, swaps
// the refresh record's pointer from refresh.AccessToken to it and revokes
// every live access token carrying the previous value, in one
// transaction. It reports false and writes nothing when another rotation
// changed the pointer first.
func (d *Store) RotateRefreshToken(ctx context.Context, refresh *tokens.RefreshToken, access *tokens.AccessToken) (bool, error) {
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := createToken(tx, access); err != nil {
			return fmt.Errorf("failed to store access token: %w", err)
		}

		result := tx.Model(&types.OAuthToken{}).
			Where("id = ? AND token_type = ? AND access_token = ?", refresh.ID, types.TokenTypeRefreshToken, refresh.AccessToken).
			Update("access_token", access.Token)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return errRotationLost
		}

		if refresh.AccessToken == "" {
			return nil
		}
		return tx.Model(&types.OAuthToken{}).
			Where("token = ? AND token_type = ? AND client_id = ? AND is_revoked = ?",
				refresh.AccessToken, types.TokenTypeAccessToken, refresh.ClientID, types.RevokedFalse).
			Update("is_revoked", types.RevokedTrue).Error
	})
	if errors.Is(err, errRotationLost) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the database connection
func (d *Store) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
