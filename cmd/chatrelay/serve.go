package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyberinferno/chatrelay/auth"
	"github.com/cyberinferno/chatrelay/bans"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/cyberinferno/chatrelay/console"
	"github.com/cyberinferno/chatrelay/idgenerator"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/metrics"
	"github.com/cyberinferno/chatrelay/registry"
	"github.com/cyberinferno/chatrelay/router"
	"github.com/cyberinferno/chatrelay/tcpserver"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		initConfig bool
		noConsole  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay server",
		Long: `Run the chat relay server.

Settings are read from the settings file, then overridden by CHATRELAY_*
environment variables. Without a settings file the defaults are used.
Editing the file while the server runs reloads the keys that support
live reload.

Examples:
  chatrelay serve
  chatrelay serve --config /etc/chatrelay.yaml
  chatrelay serve --init --no-console`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if initConfig {
				err := config.WriteDefault(configPath)
				if err != nil && !errors.Is(err, os.ErrExist) {
					return err
				}
				if err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "wrote default settings to %s\n", configPath)
				}
			}

			path := configPath
			if !cmd.Flags().Changed("config") {
				if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
					path = ""
				}
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, path, !noConsole)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "chatrelay.yaml", "Settings file path")
	cmd.Flags().BoolVar(&initConfig, "init", false, "Write a default settings file if none exists")
	cmd.Flags().BoolVar(&noConsole, "no-console", false, "Do not read operator commands from stdin")

	return cmd
}

func newLogger(cfg *config.Config) (logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.WriteInFile {
		return logger.NewFileLogger("chatrelay", cfg.LogDir, level)
	}
	return logger.NewConsoleLogger(os.Stderr, "chatrelay", level), nil
}

func serve(parent context.Context, cfg *config.Config, configPath string, withConsole bool) error {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = log.Close()
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := config.NewStore(cfg)
	m := metrics.New()
	reg := registry.New(log, registry.WithMetrics(m))

	var banOpts []bans.Option
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		defer func() {
			_ = rdb.Close()
		}()
		banOpts = append(banOpts, bans.WithStore(bans.NewRedisStore(rdb, cfg.RedisKeyPrefix)))
	}
	scheduler := bans.NewScheduler(reg, cfg.BanSweepInterval, log, banOpts...)
	if n, err := scheduler.Restore(ctx); err != nil {
		log.Warn("failed to restore timed bans", logger.Err(err))
	} else if n > 0 {
		log.Info("restored timed bans", logger.Field{Key: "count", Value: n})
	}

	rt := router.New(reg, store, log, router.WithBanExpiry(scheduler), router.WithMetrics(m))
	srv := &tcpserver.TCPServer{
		Logger:        log,
		Name:          cfg.ServerName,
		Addr:          cfg.Addr(),
		Settings:      store,
		Registry:      reg,
		Authenticator: auth.New(store, reg, idgenerator.NewIdGenerator(0), log),
		Router:        rt,
		Metrics:       m,
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-srv.Done():
			return srv.Err()
		}
	})

	var watcher *config.Watcher
	if configPath != "" {
		watcher = config.NewWatcher(configPath, store, log)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		httpSrv := &http.Server{
			Addr:              cfg.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			log.Info("metrics listening", logger.Field{Key: "addr", Value: cfg.MetricsAddress})
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	if withConsole {
		con := &console.Console{
			Registry: reg,
			Router:   rt,
			Settings: store,
			Bans:     scheduler,
			Out:      os.Stdout,
			Logger:   log.For(logger.Admin),
		}
		if watcher != nil {
			con.Reloader = watcher
		}

		g.Go(func() error {
			err := con.Run(gctx, os.Stdin)
			if errors.Is(err, console.ErrShutdown) {
				log.Info("shutdown requested from console")
				stop()
				return nil
			}
			return err
		})
	}

	err = g.Wait()
	log.Info("shutting down")
	return err
}
