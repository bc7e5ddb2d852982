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
	"strings"
	"syscall"
	"time"

	"emberwallet/bridge/approval"
	"emberwallet/bridge/ratelimit"
	"emberwallet/bridge/router"
	"emberwallet/bridge/session"
	"emberwallet/chain/evm"
	"emberwallet/config"
	"emberwallet/gateway"
	"emberwallet/observability/logging"
	"emberwallet/observability/metrics"
	"emberwallet/rpc"
	"emberwallet/vault"
)

const (
	vaultPassEnv = "EMBER_VAULT_PASS"
	vaultKeysEnv = "EMBER_VAULT_KEYS"
	envEnv       = "EMBER_ENV"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envEnv))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("bridged", env, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("bridged exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keyVault, err := loadVault()
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	adapter, err := evm.Dial(dialCtx, cfg.ChainRPCURL, cfg.ChainID)
	cancel()
	if err != nil {
		return fmt.Errorf("chain adapter: %w", err)
	}
	defer adapter.Close()

	sessions := session.NewStore()
	approvals := approval.NewQueue(
		time.Duration(cfg.ApprovalTTLSeconds)*time.Second,
		cfg.MaxPendingPerConnection,
	)
	limiter := ratelimit.New(ratelimit.Limits{
		ratelimit.ClassReadOnly:   limit(cfg.RateLimits.ReadOnly),
		ratelimit.ClassConnection: limit(cfg.RateLimits.Connection),
		ratelimit.ClassSensitive:  limit(cfg.RateLimits.Sensitive),
		ratelimit.ClassDefault:    limit(cfg.RateLimits.Default),
	})
	bridgeMetrics := metrics.Bridge()

	rt := router.New(router.Config{
		Sessions:  sessions,
		Approvals: approvals,
		Limits:    limiter,
		Chain:     adapter,
		Vault:     keyVault,
		Networks:  cfg.Networks,
		Logger:    logger.With(slog.String("subsystem", "router")),
		Metrics:   bridgeMetrics,
	})
	transport := rpc.NewServer(rpc.ServerConfig{
		Handler:         rt,
		Sessions:        sessions,
		Approvals:       approvals,
		TrustedOrigins:  cfg.AutoApproveOrigins,
		MaxRequestBytes: cfg.MaxRequestBytes,
		Logger:          logger.With(slog.String("subsystem", "transport")),
		Metrics:         bridgeMetrics,
	})
	ui := gateway.New(gateway.Config{
		Sessions:  sessions,
		Approvals: approvals,
		Networks:  rt,
		Token:     cfg.GatewayToken,
		Logger:    logger.With(slog.String("subsystem", "gateway")),
		Metrics:   bridgeMetrics,
	})

	go approvals.Run(ctx, time.Duration(cfg.SweepIntervalSeconds)*time.Second)
	go pruneSessions(ctx, sessions, bridgeMetrics, logger,
		time.Duration(cfg.SessionIdleSeconds)*time.Second)

	transportSrv := &http.Server{Addr: cfg.ListenAddress, Handler: transport}
	gatewaySrv := &http.Server{Addr: cfg.GatewayAddress, Handler: ui.Router()}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("dapp transport listening", slog.String("address", cfg.ListenAddress))
		errCh <- transportSrv.ListenAndServe()
	}()
	go func() {
		logger.Info("ui gateway listening", slog.String("address", cfg.GatewayAddress))
		errCh <- gatewaySrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = transportSrv.Shutdown(shutdownCtx)
	_ = gatewaySrv.Shutdown(shutdownCtx)
	return nil
}

// loadVault builds the in-process vault from environment material. The
// password authorizes signing; the keys are hex-encoded secp256k1 scalars.
func loadVault() (vault.Vault, error) {
	pass := os.Getenv(vaultPassEnv)
	if pass == "" {
		return nil, fmt.Errorf("%s must be set", vaultPassEnv)
	}
	raw := strings.TrimSpace(os.Getenv(vaultKeysEnv))
	if raw == "" {
		return nil, fmt.Errorf("%s must list at least one key", vaultKeysEnv)
	}
	keys := strings.Split(raw, ",")
	for i := range keys {
		keys[i] = strings.TrimSpace(keys[i])
	}
	v, err := vault.NewMemoryFromHex(pass, keys...)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return v, nil
}

func pruneSessions(ctx context.Context, sessions *session.Store, m *metrics.BridgeMetrics, logger *slog.Logger, maxIdle time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.PruneIdle(maxIdle); n > 0 {
				m.SetActiveSessions(sessions.Len())
				logger.Info("idle sessions pruned", slog.Int("count", n))
			}
		}
	}
}

func limit(l config.RateLimit) ratelimit.Limit {
	return ratelimit.Limit{PerSecond: l.PerSecond, Burst: l.Burst}
}
