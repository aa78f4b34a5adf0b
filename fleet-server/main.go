package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"botfleet/internal/api"
	"botfleet/internal/config"
	"botfleet/internal/contentgen"
	"botfleet/internal/db"
	"botfleet/internal/fleet"
	"botfleet/internal/logging"
	"botfleet/internal/notify"
	"botfleet/internal/platform"
)

const serverVersion = "0.1.0-dev"

var (
	configPath  string
	dbPath      string
	listenHost  string
	listenPort  int
	logLevel    string
	noAutostart bool
	seedFrom    string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "fleet-server",
	Short:         "Autonomous bot fleet scheduler and operator API",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("db") {
			loaded.Database.Path = dbPath
		}
		if cmd.Flags().Changed("host") {
			loaded.Server.Host = listenHost
		}
		if cmd.Flags().Changed("port") {
			loaded.Server.Port = listenPort
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Logging.Level = logLevel
		}
		if noAutostart {
			loaded.Scheduler.Autostart = false
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Development)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the operator API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		version, err := db.SchemaVersion(cmd.Context(), database)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		logger.Info("migrations applied", zap.String("db", cfg.Database.Path), zap.Int("version", version))
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create agents from a fleet YAML file",
	Long: `Seed reads a fleet file and creates every agent that does not exist yet,
matching by name. Peers are wired by name after all agents exist, so running
seed twice is harmless.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedFrom == "" {
			return errors.New("missing --from")
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		result, err := db.SeedFleetFromPath(cmd.Context(), database, seedFrom)
		if err != nil {
			return fmt.Errorf("seed fleet: %w", err)
		}
		logger.Info("fleet seeded",
			zap.String("from", seedFrom),
			zap.Strings("created", result.Created),
			zap.Strings("skipped", result.Skipped),
		)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "fleet.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the SQLite database")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	serveCmd.Flags().StringVar(&listenHost, "host", "", "HTTP listen host")
	serveCmd.Flags().IntVar(&listenPort, "port", 0, "HTTP listen port")
	serveCmd.Flags().BoolVar(&noAutostart, "no-autostart", false, "do not schedule active agents on start")

	seedCmd.Flags().StringVar(&seedFrom, "from", "", "fleet YAML file to seed from")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fleet-server: %v\n", err)
		os.Exit(1)
	}
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return database, nil
}

// serve runs until ctx is cancelled, then drains HTTP, the scheduler and the
// notification queue in that order.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	adminName, err := db.EnsureBootstrapAdmin(ctx, database, cfg.Server.AdminKeyPath)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if adminName != "" {
		logger.Info("bootstrap admin created", zap.String("name", adminName), zap.String("key_file", cfg.Server.AdminKeyPath))
	}

	store := db.NewStore(database)

	gen, err := contentgen.New(ctx, cfg.LLM, cfg.GetLLMTimeout(), store, logger.Named("contentgen"))
	if err != nil {
		return fmt.Errorf("content generator: %w", err)
	}
	plat := platform.New(cfg.Platform.BaseURL, cfg.Platform.APIKey, cfg.GetPlatformTimeout(), store, logger.Named("platform"))

	hub := notify.NewHub(logger.Named("live"))
	sinks := []notify.Sink{hub, notify.NewWebhookSink(database, cfg.GetWebhookTimeout())}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != 0 {
		tg, err := notify.NewTelegramSink(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, cfg.Notify.TelegramEvents)
		if err != nil {
			logger.Warn("telegram notifications disabled", zap.Error(err))
		} else {
			sinks = append(sinks, tg)
		}
	}
	dispatcher := notify.NewDispatcher(logger.Named("notify"), cfg.GetWebhookTimeout(), sinks...)

	svc, err := fleet.New(store, gen, plat, dispatcher,
		fleet.WithLogger(logger.Named("fleet")),
		fleet.WithTickTimeout(cfg.GetTickTimeout()),
		fleet.WithRecentWindow(cfg.Scheduler.RecentWindow),
		fleet.WithEngagementLimit(cfg.Scheduler.EngagementLimit),
	)
	if err != nil {
		return err
	}

	if cfg.Scheduler.Autostart {
		if err := svc.Scheduler.ProvisionAll(ctx); err != nil {
			logger.Warn("some agents were not scheduled", zap.Error(err))
		}
	}

	router := api.NewRouter(api.Deps{
		DB:                database,
		Fleet:             svc,
		Content:           gen,
		Platform:          plat,
		Notifier:          dispatcher,
		Live:              hub.Handler(),
		Logger:            logger.Named("api"),
		Version:           serverVersion,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	notifyCtx, stopNotify := context.WithCancel(context.Background())
	defer stopNotify()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(notifyCtx)
	})
	g.Go(func() error {
		logger.Info("fleet-server listening", zap.String("addr", server.Addr), zap.String("version", serverVersion))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful http shutdown failed", zap.Error(err))
		}
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Warn("scheduler shutdown interrupted", zap.Error(err))
		}
		hub.Close()
		stopNotify()
		return nil
	})

	err = g.Wait()
	if dropped := dispatcher.Dropped(); dropped > 0 {
		logger.Warn("notifications dropped", zap.Int("count", dropped))
	}
	logger.Info("fleet-server stopped")
	return err
}
