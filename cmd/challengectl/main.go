package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/cloudsignup/backend/src/app"
	"github.com/cloudsignup/backend/src/domain"
	"github.com/cloudsignup/backend/src/repository"
	"github.com/cloudsignup/backend/src/service"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Fatalf("Error loading .env file: %v", err)
		}
	}

	var (
		dsn           = envOr("DB_URL", "")
		tablePrefix   = envOr("DB_TABLE_PREFIX", "")
		migrationPath = envOr("MIGRATION_PATH", "file://migrations")
		logLevel      = envOr("LOG_LEVEL", "info")
	)

	root := &cobra.Command{
		Use:           "challengectl",
		Short:         "Maintenance commands for the challenge token store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return errors.New("database DSN missing (flag --db-url or env DB_URL)")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&dsn, "db-url", dsn, "Postgres DSN of the token store (env DB_URL)")
	root.PersistentFlags().StringVar(&tablePrefix, "table-prefix", tablePrefix, "Challenge table prefix (env DB_TABLE_PREFIX)")
	root.PersistentFlags().StringVar(&migrationPath, "migration-path", migrationPath, "golang-migrate source (env MIGRATION_PATH)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "Log level (env LOG_LEVEL)")

	// context with the configured logger
	commandContext := func(cmd *cobra.Command) context.Context {
		logger := app.InitLogger(logLevel)
		return logger.WithContext(cmd.Context())
	}

	// tokenService opens the store without touching the schema
	tokenService := func(ctx context.Context) (*service.TokenService, func(), error) {
		config := app.AppConfig{DSN: &dsn, TablePrefix: &tablePrefix, MigrationPath: &migrationPath}
		database, err := app.OpenDatabase(ctx, config)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if db, err := database.DB(); err == nil {
				_ = db.Close()
			}
		}
		repo := repository.NewChallengeRepository(database, tablePrefix)
		return service.NewTokenService(repo), closeDB, nil
	}

	// migrate
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert the challenge table schema",
	}

	migrateUpCmd := &cobra.Command{
		Use:   "up",
		Short: "Create or update the challenge table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			config := app.AppConfig{DSN: &dsn, TablePrefix: &tablePrefix, MigrationPath: &migrationPath}

			database, err := app.OpenDatabase(ctx, config)
			if err != nil {
				return err
			}
			defer func() {
				if db, err := database.DB(); err == nil {
					_ = db.Close()
				}
			}()

			repo, err := app.PrepareChallengeStore(ctx, database, config)
			if err != nil {
				return err
			}
			fmt.Printf("table %s is up to date\n", repo.TableName())
			return nil
		},
	}

	migrateDownCmd := &cobra.Command{
		Use:   "down",
		Short: "Revert the SQL migrations of the unprefixed challenge table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tablePrefix != "" {
				return fmt.Errorf("prefixed table %q is managed from the model, drop it manually", tablePrefix+"challenge")
			}
			if err := app.MigrationDown(dsn, migrationPath); err != nil {
				return err
			}
			fmt.Println("migrations reverted")
			return nil
		},
	}

	// tokens
	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect and clean challenge tokens",
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete tokens older than the token lifetime",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			tokens, closeDB, err := tokenService(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			deleted, err := tokens.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d stale tokens\n", deleted)
			return nil
		},
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <token>",
		Short: "Show the identity bound to a live token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			tokens, closeDB, err := tokenService(ctx)
			if err != nil {
				return err
			}
			defer closeDB()

			challenge, err := tokens.Redeem(ctx, args[0])
			if errors.Is(err, domain.ErrTokenNotFound) {
				return errors.New("token not found or expired")
			}
			if err != nil {
				return err
			}

			out, _ := json.MarshalIndent(map[string]interface{}{
				"name":       challenge.Name,
				"email":      challenge.Email,
				"request":    challenge.Purpose,
				"account_id": challenge.AccountID,
				"created":    challenge.CreatedAt,
				"expires":    challenge.CreatedAt.Add(domain.TokenTTL),
			}, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	tokensCmd.AddCommand(sweepCmd, inspectCmd)
	root.AddCommand(migrateCmd, tokensCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
