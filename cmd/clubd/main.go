package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/clubware/clubcore/internal/httpserver"
	"github.com/clubware/clubcore/internal/metrics"
	"github.com/clubware/clubcore/internal/oplog"
	"github.com/clubware/clubcore/internal/store/gormstore"
	"github.com/clubware/clubcore/internal/store/pgstore"
	"github.com/clubware/clubcore/pkg/booking"
	"github.com/clubware/clubcore/pkg/wallet"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagMinDuration    = "min-duration"
	flagMaxDuration    = "max-duration"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyMinDuration    = "min_duration"
	configKeyMaxDuration    = "max_duration"

	driverPostgres = "postgres"
	driverSQLite   = "sqlite"

	defaultDatabaseURL = "sqlite:///tmp/clubcore.db"
	defaultListenAddr  = ":8080"
	defaultMinDuration = 30 * time.Minute
	defaultMaxDuration = 4 * time.Hour
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	AllowedOrigins []string
	MinDuration    time.Duration
	MaxDuration    time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "clubd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "clubd",
		Short:         "Club booking and wallet server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "sqlite:// or postgres:// connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins")
	cmd.Flags().Duration(flagMinDuration, defaultMinDuration, "minimum booking duration")
	cmd.Flags().Duration(flagMaxDuration, defaultMaxDuration, "maximum booking duration")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyListenAddr, "HTTP_LISTEN_ADDR"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyAllowedOrigins, "ALLOWED_ORIGINS"); err != nil {
		return err
	}

	for configKey, flagName := range map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeyMinDuration:    flagMinDuration,
		configKeyMaxDuration:    flagMaxDuration,
	} {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyAllowedOrigins)
	cfg.MinDuration = viper.GetDuration(configKeyMinDuration)
	cfg.MaxDuration = viper.GetDuration(configKeyMaxDuration)
	if cfg.MinDuration <= 0 || cfg.MaxDuration < cfg.MinDuration {
		return fmt.Errorf("invalid booking duration bounds")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, driver, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := gormDB.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	registry := prometheus.NewRegistry()
	metricSet := metrics.New(registry)

	clock := func() int64 { return time.Now().UTC().Unix() }
	walletStore, walletCleanup, err := newWalletStore(ctx, driver, cfg.DatabaseURL, gormDB)
	if err != nil {
		return fmt.Errorf("wallet store init: %w", err)
	}
	defer walletCleanup()
	walletService, err := wallet.NewService(walletStore, clock,
		wallet.WithOperationLogger(oplog.NewWalletLogger(logger, metricSet)))
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}

	bookingStore := gormstore.NewBookingStore(gormDB)
	bookingService, err := booking.NewService(bookingStore, walletService, clock,
		booking.WithOperationLogger(oplog.NewBookingLogger(logger, metricSet)),
		booking.WithDurationBounds(cfg.MinDuration, cfg.MaxDuration))
	if err != nil {
		return fmt.Errorf("booking service init: %w", err)
	}

	server := httpserver.New(httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger, walletService, bookingService, metricSet, registry)

	return server.Run(ctx)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, string, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, "", nil, err
	}

	var db *gorm.DB
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, "", nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, "", nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, "", nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), driver, cleanup, nil
}

// newWalletStore picks the ledger persistence backend. Postgres gets the raw
// pgx store over its own pool; sqlite shares the gorm handle.
func newWalletStore(ctx context.Context, driver string, dsn string, gormDB *gorm.DB) (wallet.Store, func(), error) {
	if driver != driverPostgres {
		return gormstore.NewWalletStore(gormDB), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pgstore.New(pool), pool.Close, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if parsed.Host != "" {
			path = filepath.Join(parsed.Host, parsed.Path)
		}
		if path == "" {
			return "", "", fmt.Errorf("sqlite url missing path")
		}
		return driverSQLite, path, nil
	}
	return "", "", fmt.Errorf("unsupported database url %q", dsn)
}
