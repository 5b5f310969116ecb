// Package main provides the dispatch engine's server entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/antigravity-oss/dispatch-engine/internal/config"
	"github.com/antigravity-oss/dispatch-engine/internal/debugsink"
	"github.com/antigravity-oss/dispatch-engine/internal/dispatch"
	"github.com/antigravity-oss/dispatch-engine/internal/server"
	"github.com/antigravity-oss/dispatch-engine/internal/store"
	"github.com/antigravity-oss/dispatch-engine/internal/token"
	"github.com/antigravity-oss/dispatch-engine/internal/upstream"
	"github.com/antigravity-oss/dispatch-engine/internal/utils"
)

const version = "1.0.0"

func main() {
	var (
		debugMode    bool
		port         int
		host         string
		accountsFile string
	)

	flag.BoolVar(&debugMode, "debug", false, "enable debug logging")
	flag.IntVar(&port, "port", 0, "listen port (0 = use config)")
	flag.StringVar(&host, "host", "", "listen host (empty = use config)")
	flag.StringVar(&accountsFile, "accounts-file", "", "path to a JSON seed file of accounts (empty = use config)")
	flag.Parse()

	cfg := config.DefaultConfig()
	if err := cfg.Load(); err != nil {
		utils.Warn("config load failed, using defaults: %v", err)
	}
	if debugMode {
		cfg.Debug = true
	}
	if port != 0 {
		cfg.Port = port
	}
	if host != "" {
		cfg.Host = host
	}
	if accountsFile != "" {
		cfg.AccountsFile = accountsFile
	}
	utils.SetDebug(cfg.Debug)

	memory, err := store.NewMemoryCache()
	if err != nil {
		utils.Error("failed to build in-memory cache: %v", err)
		os.Exit(1)
	}

	var redisClient *store.Client
	if cfg.RedisAddr != "" {
		redisClient, err = store.NewClient(store.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			utils.Warn("redis unavailable, falling back to in-memory store: %v", err)
			redisClient = nil
		}
	}

	accountStore := store.NewAccountStore(redisClient, memory)
	signatureStore := store.NewSignatureStore(redisClient, memory)

	accounts := token.NewManager(accountStore, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := accounts.Initialize(ctx, ""); err != nil {
		utils.Warn("token manager initialize: %v", err)
	}
	cancel()

	if cfg.AccountsFile != "" {
		if err := seedAccounts(context.Background(), accounts, cfg.AccountsFile); err != nil {
			utils.Warn("account seed load failed: %v", err)
		}
	}

	upstreamClient := upstream.NewClient()
	debugSink := debugsink.New(cfg, 500)

	engine := dispatch.NewEngine(accounts, upstreamClient, signatureStore, signatureStore, cfg)
	engine.Debug = debugSink

	sweeper := cron.New()
	sweepSpec := fmt.Sprintf("@every %ds", cfg.RateLimitSweepIntervalSeconds)
	if _, err := sweeper.AddFunc(sweepSpec, func() {
		cleared := memory.Sweep()
		if cleared > 0 {
			utils.Debug("[sweep] cleared %d expired in-memory entries", cleared)
		}
	}); err != nil {
		utils.Warn("failed to schedule rate-limit sweep: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	srv := server.New(cfg, accounts, engine)

	go func() {
		utils.Info("dispatch engine v%s listening on %s", version, srv.Addr())
		if err := srv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			utils.Error("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	utils.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Error("shutdown error: %v", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
}

// seedAccount mirrors the fields store.Account needs to be usable; it is
// intentionally narrower than store.Account since acquiring and refreshing
// the underlying OAuth credentials is done by an external collaborator and
// this loader only ever ingests accounts that are already provisioned.
type seedAccount struct {
	Email        string `json:"email"`
	Source       string `json:"source"`
	RefreshToken string `json:"refreshToken"`
	APIKey       string `json:"apiKey"`
	ProjectID    string `json:"projectId"`
}

func seedAccounts(ctx context.Context, accounts *token.Manager, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read accounts file: %w", err)
	}

	var seeds []seedAccount
	if err := json.Unmarshal(data, &seeds); err != nil {
		return fmt.Errorf("parse accounts file: %w", err)
	}

	for _, s := range seeds {
		acc := &store.Account{
			Email:        s.Email,
			Source:       s.Source,
			Enabled:      true,
			RefreshToken: s.RefreshToken,
			APIKey:       s.APIKey,
			ProjectID:    s.ProjectID,
		}
		if err := accounts.AddOrUpdateAccount(ctx, acc); err != nil {
			utils.Warn("[seed] failed to add account %s: %v", s.Email, err)
		}
	}
	return nil
}
