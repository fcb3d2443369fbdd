// notifytail connects to the notification server and streams messages to console.
// Usage: go run ./cmd/notifytail --config configs/notifyd.example.yaml
//
// Extra topics can be added with --topic, e.g. --topic import:42.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/wallet-notify/internal/api"
	"github.com/rickgao/wallet-notify/internal/config"
	"github.com/rickgao/wallet-notify/internal/realtime"
)

// topicList collects repeated --topic flags.
type topicList []string

func (t *topicList) String() string { return strings.Join(*t, ",") }

func (t *topicList) Set(v string) error {
	*t = append(*t, v)
	return nil
}

func main() {
	configPath := flag.String("config", "configs/notifyd.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	var extra topicList
	flag.Var(&extra, "topic", "additional topic to subscribe (repeatable)")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	var opts []realtime.Option
	var token string
	if cfg.API.Username != "" {
		apiClient := api.NewClient(cfg.API.BaseURL, api.WithLogger(logger), api.WithTimeout(cfg.API.Timeout))
		session, err := apiClient.Login(ctx, cfg.API.Username, cfg.API.Password)
		if err != nil {
			logger.Error("login failed", "error", err)
			os.Exit(1)
		}
		token = session.AccessToken
		opts = append(opts, realtime.WithTokenSource(apiClient))
		logger.Info("logged in", "user", session.User.Username)
	}

	rc := cfg.Realtime
	client := realtime.NewClient(realtime.ClientConfig{
		HeartbeatInterval:    rc.HeartbeatInterval,
		PongTimeout:          rc.PongTimeout,
		ReconnectBaseDelay:   rc.ReconnectBaseDelay,
		MaxReconnectAttempts: rc.MaxReconnectAttempts,
		HandshakeTimeout:     rc.HandshakeTimeout,
		WriteTimeout:         rc.WriteTimeout,
		TokenParam:           rc.TokenParam,
	}, logger, opts...)

	printer := realtime.NewHandler(func(m realtime.Message) {
		printMessage(os.Stdout, m, *verbose)
	})
	for _, t := range []string{
		realtime.TypeNotification,
		realtime.TypeWalletUpdate,
		realtime.TypeImportProgress,
		realtime.TypeSystemStatus,
		realtime.TypeAdminBroadcast,
		realtime.TypeError,
	} {
		client.On(t, printer)
	}

	topics := append(append([]string{}, rc.Topics...), extra...)
	noop := realtime.NewHandler(func(realtime.Message) {})
	for _, topic := range topics {
		client.Subscribe(topic, noop)
	}

	client.OnConnect(func() {
		logger.Info("connected", "client_id", client.ClientID(), "topics", client.Topics())
	})
	client.OnDisconnect(func(ev realtime.CloseEvent) {
		logger.Warn("disconnected", "code", ev.Code, "reason", ev.Reason)
	})
	client.OnGiveUp(func(attempts int) {
		logger.Error("giving up", "attempts", attempts)
		cancel()
	})

	client.Connect(rc.URL, token)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := client.Stats()
				logger.Info("stats",
					"state", s.State,
					"received", s.MessagesReceived,
					"dispatched", s.MessagesDispatched,
					"sent", s.MessagesSent,
					"parse_errors", s.ParseErrors,
					"reconnects", s.ReconnectsScheduled,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	logger.Info("shutting down...")
	client.Disconnect()
	logger.Info("shutdown complete")
}

// printMessage writes one line per message, or the indented frame when verbose.
func printMessage(out io.Writer, m realtime.Message, verbose bool) {
	label := strings.ToUpper(m.Type)
	if verbose {
		var buf bytes.Buffer
		if err := json.Indent(&buf, m.Data, "", "  "); err == nil {
			fmt.Fprintf(out, "[%s] %s\n", label, buf.String())
			return
		}
	}

	ts := m.ReceivedAt.Format("15:04:05.000")
	if m.Topic != "" {
		fmt.Fprintf(out, "%s [%s] topic=%s %s\n", ts, label, m.Topic, m.Data)
		return
	}
	fmt.Fprintf(out, "%s [%s] %s\n", ts, label, m.Data)
}
