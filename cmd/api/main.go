package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"milestonetracker/api/internal/app"
	"milestonetracker/api/internal/authpw"
	"milestonetracker/api/internal/config"
	"milestonetracker/api/internal/logging"
	"milestonetracker/api/internal/search"
	"milestonetracker/api/internal/session"
	"milestonetracker/api/internal/store"
	"milestonetracker/api/internal/tracking"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "api",
		Short:        "Milestone tracking API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Create demo users and milestones",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSeed(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "verify",
			Short: "Check tracking counters against relationship rows",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runVerify(cmd.Context(), configPath, cmd.OutOrStdout())
			},
		},
	)
	return root
}

// runtime holds what every command needs: config, logger and a migrated store.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	store  *store.SQLStore
	close  func()
}

func setup(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	dialect := store.Dialect(cfg.StorageDriver)
	db, err := store.Open(ctx, dialect, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  store.NewSQLStore(db, dialect),
		close: func() {
			_ = db.Close()
			_ = logger.Sync()
		},
	}, nil
}

func (rt *runtime) engine() *tracking.Engine {
	return tracking.NewEngine(tracking.NewSQLRepository(rt.store), tracking.NewEmitter(rt.logger), rt.logger)
}

func runServe(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, logger := rt.cfg, rt.logger

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, rt.store, logger)

	deps := app.Deps{
		Store:  rt.store,
		Engine: rt.engine(),
		Auth:   authpw.NewService(rt.store, cfg.Defaults.DailyLimit),
		Search: searchService,
		Logger: logger,
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		deps.Cache = redisStore
		logger.Info("using redis for session storage")
	} else {
		logger.Info("using sql store for session storage", zap.String("driver", cfg.StorageDriver))
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, rate.Limit(cfg.AuthRate.PerSecond), cfg.AuthRate.Burst)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("milestone tracker API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	if meiliClient != nil {
		g.Go(func() error {
			searchService.ReindexAll(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func runMigrate(ctx context.Context, configPath string) error {
	rt, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.close()
	rt.logger.Info("migrations applied", zap.String("driver", rt.cfg.StorageDriver))
	return nil
}
