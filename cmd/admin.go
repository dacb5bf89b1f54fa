package cmd

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openfront-platform/openfront-oauth/pkg/db"
	"github.com/openfront-platform/openfront-oauth/pkg/encryption"
	"github.com/openfront-platform/openfront-oauth/pkg/scopes"
	"github.com/openfront-platform/openfront-oauth/pkg/session"
	"github.com/openfront-platform/openfront-oauth/pkg/types"
	"github.com/spf13/cobra"
)

// adminCommands returns the record management subcommands. Each group
// opens the database itself so they work without a running server.
func adminCommands() []*cobra.Command {
	return []*cobra.Command{
		appsCommand(),
		usersCommand(),
		apiKeysCommand(),
		sessionsCommand(),
	}
}

func groupCommand(use, short string, dsn *string) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
	}
	c.PersistentFlags().StringVar(dsn, "database-dsn", os.Getenv("DATABASE_DSN"), "Database connection string (PostgreSQL or SQLite file path)")
	return c
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func appsCommand() *cobra.Command {
	var dsn string
	apps := groupCommand("apps", "Manage registered OAuth apps", &dsn)

	var (
		name         string
		description  string
		redirectURIs []string
		appScopes    []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a new OAuth app and print its credentials",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			if len(redirectURIs) == 0 {
				return errors.New("at least one --redirect-uri is required")
			}
			for _, raw := range redirectURIs {
				if u, err := url.Parse(raw); err != nil || !u.IsAbs() {
					return fmt.Errorf("invalid redirect URI %q", raw)
				}
			}
			if unknown := scopes.Default().Unknown(appScopes); len(unknown) > 0 {
				return fmt.Errorf("unknown scopes: %s", strings.Join(unknown, ", "))
			}

			store, err := db.New(dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			app := &types.OAuthApp{
				ClientID:     uuid.NewString(),
				ClientSecret: encryption.GenerateRandomHex(32),
				Name:         name,
				Description:  description,
				RedirectURIs: redirectURIs,
				Scopes:       appScopes,
				Status:       types.AppStatusActive,
			}
			if err := store.StoreApp(c.Context(), app); err != nil {
				return fmt.Errorf("failed to store app: %w", err)
			}
			return printJSON(c.OutOrStdout(), app)
		},
	}
	create.Flags().StringVar(&name, "name", "", "Display name shown on the consent page")
	create.Flags().StringVar(&description, "description", "", "Optional description")
	create.Flags().StringArrayVar(&redirectURIs, "redirect-uri", nil, "Registered redirect URI (repeatable)")
	create.Flags().StringSliceVar(&appScopes, "scope", nil, "Scope the app may request (repeatable or comma separated)")

	setStatus := &cobra.Command{
		Use:   "set-status CLIENT_ID active|inactive",
		Short: "Activate or deactivate an app",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			status := args[1]
			if status != types.AppStatusActive && status != types.AppStatusInactive {
				return fmt.Errorf("status must be %q or %q", types.AppStatusActive, types.AppStatusInactive)
			}

			store, err := db.New(dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetAppStatus(c.Context(), args[0], status); err != nil {
				if errors.Is(err, types.ErrNotFound) {
					return fmt.Errorf("app %s not found", args[0])
				}
				return err
			}
			_, err = fmt.Fprintf(c.OutOrStdout(), "%s is now %s\n", args[0], status)
			return err
		},
	}

	apps.AddCommand(create, setStatus)
	return apps
}

func usersCommand() *cobra.Command {
	var dsn string
	users := groupCommand("users", "Manage users", &dsn)

	var (
		id          string
		name        string
		email       string
		permissions []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create or replace a user",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			if id == "" {
				id = uuid.NewString()
			}

			store, err := db.New(dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			user := &types.User{ID: id, Name: name, Email: email, Permissions: permissions}
			if err := store.StoreUser(c.Context(), user); err != nil {
				return fmt.Errorf("failed to store user: %w", err)
			}
			return printJSON(c.OutOrStdout(), user)
		},
	}
	create.Flags().StringVar(&id, "id", "", "User ID, generated when empty")
	create.Flags().StringVar(&name, "name", "", "Display name")
	create.Flags().StringVar(&email, "email", "", "Email address")
	create.Flags().StringSliceVar(&permissions, "permission", nil, "Role permission, for example canManageProducts (repeatable)")

	users.AddCommand(create)
	return users
}

func apiKeysCommand() *cobra.Command {
	var dsn string
	keys := groupCommand("apikeys", "Manage API keys", &dsn)

	var (
		userID string
		name   string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for a user and print it",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if userID == "" {
				return errors.New("--user-id is required")
			}

			store, err := db.New(dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.GetUser(c.Context(), userID); err != nil {
				if errors.Is(err, types.ErrNotFound) {
					return fmt.Errorf("user %s not found", userID)
				}
				return err
			}

			key := &types.APIKey{ID: "ofk_" + encryption.GenerateRandomHex(24), Name: name, UserID: userID}
			if err := store.StoreAPIKey(c.Context(), key); err != nil {
				return fmt.Errorf("failed to store API key: %w", err)
			}
			return printJSON(c.OutOrStdout(), key)
		},
	}
	create.Flags().StringVar(&userID, "user-id", "", "User the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "Label for the key")

	keys.AddCommand(create)
	return keys
}

func sessionsCommand() *cobra.Command {
	var dsn string
	sessions := groupCommand("sessions", "Issue session tokens", &dsn)

	var (
		secret string
		userID string
		ttl    time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Print a sealed session token usable as a cookie or bearer value",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if userID == "" {
				return errors.New("--user-id is required")
			}
			key, err := base64.StdEncoding.DecodeString(secret)
			if err != nil {
				return fmt.Errorf("session-secret must be base64: %w", err)
			}
			sealer, err := session.NewSealer(key)
			if err != nil {
				return err
			}

			store, err := db.New(dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.GetUser(c.Context(), userID); err != nil {
				if errors.Is(err, types.ErrNotFound) {
					return fmt.Errorf("user %s not found", userID)
				}
				return err
			}

			sealed, err := sealer.Seal(userID, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.OutOrStdout(), sealed)
			return err
		},
	}
	issue.Flags().StringVar(&secret, "session-secret", os.Getenv("SESSION_SECRET"), "Base64-encoded session secret of the server")
	issue.Flags().StringVar(&userID, "user-id", "", "User the session belongs to")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Session lifetime")

	sessions.AddCommand(issue)
	return sessions
}
