// Loreleaf sync client daemon.
//
// Keeps a local mirror of the knowledge-base tree in sync with the
// server over push events, serves optimistic mutations, and preserves
// unsaved document drafts across restarts.
//
// Usage:
//
//	loreleaf-sync -server http://host:8080 -login user:pass
//	loreleaf-sync -server http://host:8080 -token TOKEN
//
// Configuration also comes from LORELEAF_* environment variables;
// flags take precedence.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loreleaf/loreleaf/internal/api"
	"github.com/loreleaf/loreleaf/internal/config"
	"github.com/loreleaf/loreleaf/internal/draft"
	"github.com/loreleaf/loreleaf/internal/logging"
	"github.com/loreleaf/loreleaf/internal/metrics"
	"github.com/loreleaf/loreleaf/internal/push"
	sync "github.com/loreleaf/loreleaf/internal/sync"
)

func main() {
	server := flag.String("server", "", "Server URL (default LORELEAF_SERVER_URL)")
	token := flag.String("token", "", "Auth token (JWT)")
	login := flag.String("login", "", "Login as user:password and store the token")
	draftDir := flag.String("draft-dir", "", "Draft cache directory")
	metricsAddr := flag.String("metrics", "", "Prometheus metrics listen address (empty disables)")
	sweep := flag.Duration("sweep", -1, "Full-tree reconciliation interval (0 disables)")
	verbose := flag.Bool("v", false, "Verbose (debug) logging")

	flag.Parse()

	if *server != "" {
		os.Setenv("LORELEAF_SERVER_URL", *server)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *draftDir != "" {
		cfg.DraftDir = *draftDir
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *sweep >= 0 {
		cfg.SweepInterval = *sweep
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := api.New(api.Config{BaseURL: cfg.ServerURL})

	tokenPath := cfg.TokenFile
	if tokenPath == "" {
		tokenPath = api.DefaultTokenPath()
	}

	tf, err := resolveToken(ctx, client, *token, *login, tokenPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	client.SetAuthToken(tf.Token)
	client.StartTokenRefreshLoop(ctx, tf, tokenPath)
	go healthLoop(ctx, client)

	drafts, err := draft.New(cfg.DraftDir, cfg.DraftDebounce)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var sub *push.Subscription
	if cfg.PushEnabled {
		sub = push.New(cfg.ServerURL)
		sub.SetAuthToken(tf.Token)
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	core := sync.New(client, sub, drafts, sync.Options{
		SweepInterval: cfg.SweepInterval,
	})

	go logNotifications(core)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info("shutting down")
		cancel()
	}()

	logging.Info("sync client starting",
		logging.String("server", cfg.ServerURL),
		logging.String("draft_dir", cfg.DraftDir))

	if err := core.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logging.Info("stopped")
}

// resolveToken picks the auth token: explicit flag, fresh login, or the
// stored token file, in that order.
func resolveToken(ctx context.Context, client *api.Client, token, login, tokenPath string) (*api.TokenFile, error) {
	if token != "" {
		return &api.TokenFile{Token: token, Server: client.BaseURL()}, nil
	}

	if login != "" {
		user, pass, ok := strings.Cut(login, ":")
		if !ok {
			return nil, fmt.Errorf("-login expects user:password")
		}
		host, _ := os.Hostname()
		resp, err := client.Login(ctx, user, pass, host)
		if err != nil {
			return nil, fmt.Errorf("login failed: %w", err)
		}
		expiry, _ := api.TokenExpiry(resp.Token)
		tf := &api.TokenFile{
			Token:     resp.Token,
			ExpiresAt: expiry,
			Server:    client.BaseURL(),
			Username:  user,
		}
		if err := api.SaveToken(tf, tokenPath); err != nil {
			logging.Warn("could not store token", logging.Err(err))
		}
		return tf, nil
	}

	tf, err := api.LoadToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("no token available (use -login or -token): %w", err)
	}
	if tf.IsExpired(time.Minute) {
		return nil, fmt.Errorf("stored token expired, log in again")
	}
	return tf, nil
}

// healthLoop pings the server periodically so the online flag reflects
// reachability even when no request traffic is flowing.
func healthLoop(ctx context.Context, client *api.Client) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := client.Ping(pingCtx); err != nil {
				logging.Debug("health check failed", logging.Err(err))
			}
			cancel()
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logging.Info("metrics endpoint listening", logging.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Error("metrics endpoint failed", logging.Err(err))
	}
}

// logNotifications drains operation outcomes. A UI layer would render
// these; the daemon logs them.
func logNotifications(core *sync.Core) {
	ch := core.Notifier().Subscribe()
	defer core.Notifier().Unsubscribe(ch)
	for note := range ch {
		switch note.Outcome {
		case sync.OutcomeApplied:
			logging.Debug("operation applied",
				logging.String("kind", note.Kind),
				logging.String("node_id", note.NodeID))
		default:
			logging.Warn("operation outcome",
				logging.String("kind", note.Kind),
				logging.String("node_id", note.NodeID),
				logging.String("outcome", string(note.Outcome)),
				logging.String("reason", note.Reason))
		}
	}
}
