// notifyd keeps a realtime connection to the wallet dashboard notification
// server, logs pushed events and optionally archives them to PostgreSQL.
// Usage: notifyd -config configs/notifyd.example.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/wallet-notify/internal/api"
	"github.com/rickgao/wallet-notify/internal/archive"
	"github.com/rickgao/wallet-notify/internal/config"
	"github.com/rickgao/wallet-notify/internal/realtime"
	"github.com/rickgao/wallet-notify/internal/version"
)

// errGaveUp is returned when the realtime client exhausts its reconnect attempts.
var errGaveUp = errors.New("realtime reconnect attempts exhausted")

func main() {
	configPath := flag.String("config", "configs/notifyd.example.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "config", *configPath, "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting notifyd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("notifyd exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("notifyd stopped")
}

func run(cfg *config.NotifyConfig, logger *slog.Logger) error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Authenticate against the dashboard API
	var opts []realtime.Option
	var token string
	if cfg.API.Username != "" {
		apiClient := api.NewClient(
			cfg.API.BaseURL,
			api.WithLogger(logger),
			api.WithTimeout(cfg.API.Timeout),
			api.WithRetries(cfg.API.MaxRetries, time.Second),
		)

		session, err := apiClient.Login(ctx, cfg.API.Username, cfg.API.Password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		token = session.AccessToken
		opts = append(opts, realtime.WithTokenSource(apiClient))

		defer func() {
			logoutCtx, logoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer logoutCancel()
			if err := apiClient.Logout(logoutCtx); err != nil {
				logger.Warn("logout failed", "error", err)
			}
		}()
	}

	client := realtime.NewClient(clientConfig(cfg.Realtime), logger, opts...)

	g, gctx := errgroup.WithContext(ctx)

	// Optional event archive
	var writer *archive.Writer
	if cfg.Archive.Enabled {
		w, closeArchive, err := startArchive(gctx, cfg.Archive, client, logger)
		if err != nil {
			return err
		}
		defer closeArchive()
		writer = w
	}

	registerHandlers(client, writer, cfg.Realtime.Topics, logger)

	gaveUp := make(chan int, 1)
	client.OnGiveUp(func(attempts int) {
		select {
		case gaveUp <- attempts:
		default:
		}
	})

	// Health endpoint
	if cfg.Health.Port > 0 {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
			Handler:           newHealthHandler(client, writer),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("starting health server", "port", cfg.Health.Port)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	// Realtime connection
	g.Go(func() error {
		client.Connect(cfg.Realtime.URL, token)
		logger.Info("notifyd running", "endpoint", cfg.Realtime.URL, "topics", cfg.Realtime.Topics)

		select {
		case <-gctx.Done():
			client.Disconnect()
			return nil
		case attempts := <-gaveUp:
			client.Disconnect()
			return fmt.Errorf("%w after %d attempts", errGaveUp, attempts)
		}
	})

	return g.Wait()
}

// clientConfig maps the realtime config section onto the client config.
func clientConfig(rc config.RealtimeConfig) realtime.ClientConfig {
	return realtime.ClientConfig{
		HeartbeatInterval:    rc.HeartbeatInterval,
		PongTimeout:          rc.PongTimeout,
		ReconnectBaseDelay:   rc.ReconnectBaseDelay,
		MaxReconnectAttempts: rc.MaxReconnectAttempts,
		HandshakeTimeout:     rc.HandshakeTimeout,
		WriteTimeout:         rc.WriteTimeout,
		TokenParam:           rc.TokenParam,
	}
}

// startArchive connects to the database and starts the writer. The returned
// func stops the writer and closes the pool.
func startArchive(ctx context.Context, cfg config.ArchiveConfig, client realtime.Client, logger *slog.Logger) (*archive.Writer, func(), error) {
	logger.Info("connecting to archive database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := archive.Connect(ctx, cfg.Database, cfg.ConnectAttempts, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect archive: %w", err)
	}

	if err := archive.EnsureSchema(ctx, pool, cfg.Table); err != nil {
		pool.Close()
		return nil, nil, err
	}

	writer := archive.NewWriter(archive.WriterConfig{
		Table:         cfg.Table,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		BufferSize:    cfg.BufferSize,
	}, pool, logger, archive.WithClientID(client.ClientID))

	if err := writer.Start(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("start archive writer: %w", err)
	}

	closeFn := func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := writer.Stop(stopCtx); err != nil {
			logger.Error("archive writer stop failed", "error", err)
		}
		pool.Close()
	}

	return writer, closeFn, nil
}
