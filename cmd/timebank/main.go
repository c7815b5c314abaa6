package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/hourbank/timebank/internal/notify"
	"github.com/hourbank/timebank/internal/oplog"
	"github.com/hourbank/timebank/internal/store/gormstore"
	"github.com/hourbank/timebank/pkg/timebank"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL      = "database-url"
	flagInitialGrant     = "initial-grant-hours"
	flagBalanceFloor     = "min-balance-hours"
	flagReason           = "reason"
	flagLimit            = "limit"
	configKeyDatabaseURL = "database_url"
	configKeyInitial     = "initial_grant_hours"
	configKeyFloor       = "min_balance_hours"
	defaultDatabaseURL   = "sqlite:///tmp/timebank.db"
)

type runtimeConfig struct {
	DatabaseURL       string
	InitialGrantHours float64
	BalanceFloorHours float64
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "timebank: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "timebank",
		Short:         "Time exchange ledger administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}

	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or SQLite connection string")
	cmd.PersistentFlags().Float64(flagInitialGrant, timebank.HoursFromMinutes(timebank.DefaultConfig().InitialGrantMinutes), "initial credit granted to new accounts, in hours")
	cmd.PersistentFlags().Float64(flagBalanceFloor, timebank.HoursFromMinutes(timebank.DefaultConfig().MinBalanceFloorMinutes), "lowest balance a debit may reach, in hours")

	cmd.AddCommand(
		newMigrateCommand(cfg),
		newOpenAccountCommand(cfg),
		newBonusCommand(cfg),
		newRefundCommand(cfg),
		newBalanceCommand(cfg),
		newHistoryCommand(cfg),
		newStatsCommand(cfg),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyInitial, "TIMEBANK_INITIAL_GRANT_HOURS"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyFloor, "TIMEBANK_MIN_BALANCE_HOURS"); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyInitial, cmd.Flags().Lookup(flagInitialGrant)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyFloor, cmd.Flags().Lookup(flagBalanceFloor)); err != nil {
		return err
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.InitialGrantHours = viper.GetFloat64(configKeyInitial)
	cfg.BalanceFloorHours = viper.GetFloat64(configKeyFloor)
	return nil
}

// runtime bundles the wired services for one command invocation.
type runtime struct {
	engine   *timebank.Engine
	bookings *timebank.BookingService
	logger   *zap.Logger
	cleanup  func() error
}

func setup(ctx context.Context, cfg *runtimeConfig) (*runtime, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("database open: %w", err)
	}

	teardown := func() {
		_ = cleanup()
		_ = logger.Sync()
	}
	initialGrant, err := timebank.SignedMinutesFromHours(cfg.InitialGrantHours)
	if err != nil {
		teardown()
		return nil, err
	}
	floor, err := timebank.SignedMinutesFromHours(cfg.BalanceFloorHours)
	if err != nil {
		teardown()
		return nil, err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	operationLogger := oplog.New(logger)

	engine, err := timebank.NewEngine(store, timebank.Config{
		InitialGrantMinutes:    initialGrant,
		MinBalanceFloorMinutes: floor,
	}, clock, timebank.WithEngineLogger(operationLogger))
	if err != nil {
		teardown()
		return nil, fmt.Errorf("engine init: %w", err)
	}

	bookings, err := timebank.NewBookingService(store, engine, clock,
		timebank.WithBookingLogger(operationLogger),
		timebank.WithNotifier(notify.New(logger)),
	)
	if err != nil {
		teardown()
		return nil, fmt.Errorf("booking service init: %w", err)
	}

	return &runtime{
		engine:   engine,
		bookings: bookings,
		logger:   logger,
		cleanup: func() error {
			_ = logger.Sync()
			return cleanup()
		},
	}, nil
}

func newMigrateCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gormDB, cleanup, err := openDatabase(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()
			return gormstore.Migrate(gormDB)
		},
	}
}

func newOpenAccountCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "open-account <user-id>",
		Short: "Create an account seeded with the initial credit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.cleanup() }()
			userID, err := timebank.NewUserID(args[0])
			if err != nil {
				return err
			}
			account, err := rt.engine.OpenAccount(cmd.Context(), userID)
			if err != nil {
				return err
			}
			cmd.Printf("account %s opened with %.2fh\n", account.UserID, timebank.HoursFromMinutes(account.BalanceMinutes))
			return nil
		},
	}
}

func newBonusCommand(cfg *runtimeConfig) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "bonus <user-id> <hours>",
		Short: "Credit an administrative bonus grant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.cleanup() }()
			userID, err := timebank.NewUserID(args[0])
			if err != nil {
				return err
			}
			hours, err := parseHours(args[1])
			if err != nil {
				return err
			}
			amount, err := timebank.AmountMinutesFromHours(hours)
			if err != nil {
				return err
			}
			if err := rt.engine.Bonus(cmd.Context(), userID, amount, reason); err != nil {
				return err
			}
			cmd.Printf("granted %.2fh to %s\n", amount.Hours(), userID.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, flagReason, "", "reason recorded on the bonus entry")
	return cmd
}

func newRefundCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "refund <booking-id>",
		Short: "Reverse the settlement of a completed booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.cleanup() }()
			bookingID, err := timebank.NewBookingID(args[0])
			if err != nil {
				return err
			}
			entry, err := rt.engine.Refund(cmd.Context(), bookingID)
			if err != nil {
				return err
			}
			cmd.Printf("refunded %.2fh from %s to %s\n", entry.AmountMinutes.Hours(), entry.FromUserID, entry.ToUserID)
			return nil
		},
	}
}

func newBalanceCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show the member's current balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.cleanup() }()
			userID, err := timebank.NewUserID(args[0])
			if err != nil {
				return err
			}
			account, err := rt.engine.Balance(cmd.Context(), userID)
			if err != nil {
				return err
			}
			cmd.Printf("%s: %.2fh\n", account.UserID, timebank.HoursFromMinutes(account.BalanceMinutes))
			return nil
		},
	}
}

func newHistoryCommand(cfg *runtimeConfig) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "List the member's ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.cleanup() }()
			userID, err := timebank.NewUserID(args[0])
			if err != nil {
				return err
			}
			entries, err := rt.engine.History(cmd.Context(), userID, 0, limit)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				direction := "+"
				if entry.FromUserID == userID.String() {
					direction = "-"
				}
				cmd.Printf("%s %s%.2fh %-8s %s\n",
					time.Unix(entry.CreatedUnixUTC, 0).UTC().Format(time.RFC3339),
					direction, entry.AmountMinutes.Hours(), entry.Kind, entry.Description)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, flagLimit, 50, "maximum entries to list")
	return cmd
}

func newStatsCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <user-id>",
		Short: "Show the member's exchange statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = rt.cleanup() }()
			userID, err := timebank.NewUserID(args[0])
			if err != nil {
				return err
			}
			stats, err := rt.engine.Stats(cmd.Context(), userID)
			if err != nil {
				return err
			}
			cmd.Printf("balance: %.2fh\nearned: %.2fh\nspent: %.2fh\ncompleted exchanges: %d\n",
				timebank.HoursFromMinutes(stats.BalanceMinutes),
				timebank.HoursFromMinutes(stats.EarnedMinutes),
				timebank.HoursFromMinutes(stats.SpentMinutes),
				stats.CompletedExchanges)
			return nil
		},
	}
}

func parseHours(raw string) (float64, error) {
	var hours float64
	if _, err := fmt.Sscanf(raw, "%f", &hours); err != nil {
		return 0, fmt.Errorf("parse hours %q: %w", raw, err)
	}
	return hours, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "timebank.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
