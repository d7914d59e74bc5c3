// Package main is the operator CLI: schema migrations, bootstrapping the first
// admin and membership lookups without going through the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scouthub/backend/config"
	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/accounts"
	"github.com/scouthub/backend/internal/audit"
	"github.com/scouthub/backend/internal/scouts"
	"github.com/scouthub/backend/pkg/database"
)

const programName = "scoutctl"

var globalFlags = struct {
	debug bool
}{}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if globalFlags.debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, _ := cfg.Build()
	return logger.With(zap.String("component", programName))
}

// app holds what every subcommand needs.
type app struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func openApp(ctx context.Context) (*app, error) {
	logger := newLogger()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, pool: pool, logger: logger}, nil
}

func (a *app) close() {
	a.pool.Close()
	_ = a.logger.Sync()
}

func (a *app) services() (*accounts.Service, *scouts.Service) {
	recorder := audit.NewRecorder(audit.NewRepository(a.pool), a.logger,
		audit.WithLimits(a.cfg.Audit.DefaultLimit, a.cfg.Audit.MaxLimit))
	guard := access.NewGuard(a.logger)
	tx := database.NewTxManager(a.pool)
	scoutSvc := scouts.NewService(scouts.NewRepository(a.pool), tx, guard, recorder, a.logger,
		scouts.WithUIDPrefix(a.cfg.Membership.UIDPrefix))
	accountSvc := accounts.NewService(accounts.NewRepository(a.pool), tx, guard, recorder, scoutSvc, a.logger)
	return accountSvc, scoutSvc
}

func withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a, args)
	}
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			return database.Migrate(ctx, a.pool, a.logger)
		}),
	}
}

func createAdminCommand() *cobra.Command {
	var in accounts.BootstrapInput
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an approved admin account",
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			if err := database.Migrate(ctx, a.pool, a.logger); err != nil {
				return err
			}
			accountSvc, _ := a.services()
			acc, err := accountSvc.BootstrapAdmin(ctx, in)
			if err != nil {
				return err
			}
			fmt.Printf("created admin %s (%s)\n", acc.Email, acc.ID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "admin e-mail address")
	cmd.Flags().StringVar(&in.Username, "username", "", "admin display name")
	cmd.Flags().StringVar(&in.Password, "password", "", "admin password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func lookupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <uid>",
		Short: "Show the public membership view for a UID",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			_, scoutSvc := a.services()
			view, err := scoutSvc.LookupByUID(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}),
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Operator tools for the scout membership backend",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(createAdminCommand())
	rootCmd.AddCommand(lookupCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
