// Package config loads the bridge configuration from a TOML file, writing a
// default file on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"emberwallet/chain"
)

// RateLimit is one admission budget: sustained tokens per second plus burst
// capacity.
type RateLimit struct {
	PerSecond float64 `toml:"PerSecond"`
	Burst     int     `toml:"Burst"`
}

// RateLimits carries the budget for each method class.
type RateLimits struct {
	ReadOnly   RateLimit `toml:"ReadOnly"`
	Connection RateLimit `toml:"Connection"`
	Sensitive  RateLimit `toml:"Sensitive"`
	Default    RateLimit `toml:"Default"`
}

type Config struct {
	// ListenAddress is where the dApp websocket transport binds. Loopback
	// only; the bridge is not meant to be reachable off-host.
	ListenAddress string `toml:"ListenAddress"`
	// GatewayAddress is where the wallet-UI HTTP API binds.
	GatewayAddress string `toml:"GatewayAddress"`
	// GatewayToken, when set, is required as a bearer token on every
	// gateway call.
	GatewayToken string `toml:"GatewayToken"`

	ChainRPCURL string `toml:"ChainRPCURL"`
	ChainID     uint64 `toml:"ChainID"`

	ApprovalTTLSeconds      int   `toml:"ApprovalTTLSeconds"`
	SweepIntervalSeconds    int   `toml:"SweepIntervalSeconds"`
	SessionIdleSeconds      int   `toml:"SessionIdleSeconds"`
	MaxPendingPerConnection int   `toml:"MaxPendingPerConnection"`
	MaxRequestBytes         int64 `toml:"MaxRequestBytes"`

	// AutoApproveOrigins lists vetted origins whose connections the wallet
	// itself opens. Account access for them skips the Connect prompt;
	// transactions and signatures never do.
	AutoApproveOrigins []string `toml:"AutoApproveOrigins"`

	Networks []chain.Network `toml:"Networks"`

	Env      string `toml:"Env"`
	LogLevel string `toml:"LogLevel"`

	RateLimits RateLimits `toml:"RateLimits"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddress:           "127.0.0.1:8766",
		GatewayAddress:          "127.0.0.1:8767",
		ChainRPCURL:             "http://127.0.0.1:8545",
		ChainID:                 1,
		ApprovalTTLSeconds:      300,
		SweepIntervalSeconds:    1,
		SessionIdleSeconds:      86400,
		MaxPendingPerConnection: 10,
		MaxRequestBytes:         1 << 20,
		AutoApproveOrigins:      []string{},
		Networks: []chain.Network{
			{ChainID: 1, Name: "Ethereum Mainnet", RPCURL: "http://127.0.0.1:8545"},
		},
		LogLevel: "info",
		RateLimits: RateLimits{
			ReadOnly:   RateLimit{PerSecond: 20, Burst: 50},
			Connection: RateLimit{PerSecond: 5, Burst: 10},
			Sensitive:  RateLimit{PerSecond: 1, Burst: 2},
			Default:    RateLimit{PerSecond: 10, Burst: 20},
		},
	}
}

// Load reads the configuration at path. A missing file is not an error: the
// defaults are written there and returned.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := defaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the bridge cannot run safely with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress is required")
	}
	if strings.TrimSpace(c.GatewayAddress) == "" {
		return fmt.Errorf("GatewayAddress is required")
	}
	if c.ApprovalTTLSeconds <= 0 {
		return fmt.Errorf("ApprovalTTLSeconds must be positive")
	}
	if c.SessionIdleSeconds <= 0 {
		return fmt.Errorf("SessionIdleSeconds must be positive")
	}
	if c.MaxPendingPerConnection <= 0 {
		return fmt.Errorf("MaxPendingPerConnection must be positive")
	}
	if c.MaxRequestBytes <= 0 {
		return fmt.Errorf("MaxRequestBytes must be positive")
	}
	for _, l := range []struct {
		name  string
		limit RateLimit
	}{
		{"ReadOnly", c.RateLimits.ReadOnly},
		{"Connection", c.RateLimits.Connection},
		{"Sensitive", c.RateLimits.Sensitive},
		{"Default", c.RateLimits.Default},
	} {
		if l.limit.PerSecond <= 0 || l.limit.Burst <= 0 {
			return fmt.Errorf("RateLimits.%s must have positive PerSecond and Burst", l.name)
		}
	}
	seen := make(map[uint64]struct{}, len(c.Networks))
	for _, n := range c.Networks {
		if n.ChainID == 0 {
			return fmt.Errorf("network %q has no chain id", n.Name)
		}
		if _, dup := seen[n.ChainID]; dup {
			return fmt.Errorf("duplicate network chain id %d", n.ChainID)
		}
		seen[n.ChainID] = struct{}{}
	}
	return nil
}
