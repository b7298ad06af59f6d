package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/execution/retry"
	"github.com/vietddude/txguard/internal/safety/breaker"
	"github.com/vietddude/txguard/internal/validation"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, expands environment variables, applies defaults and validates.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, for running without a file.
func Default() *AppConfig {
	var cfg AppConfig
	ApplyDefaults(&cfg)
	return &cfg
}

// ApplyDefaults fills zero values.
func ApplyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}

	bd := breaker.DefaultConfig()
	if cfg.Breaker.MaxConsecutiveFailures == 0 {
		cfg.Breaker.MaxConsecutiveFailures = bd.MaxConsecutiveFailures
	}
	if cfg.Breaker.CoolOff == 0 {
		cfg.Breaker.CoolOff = bd.CoolOff
	}

	rd := retry.DefaultConfig()
	if cfg.Retry.Concurrency == 0 {
		cfg.Retry.Concurrency = rd.Concurrency
	}
	if cfg.Retry.PollInterval == 0 {
		cfg.Retry.PollInterval = rd.PollInterval
	}
	if cfg.Retry.DefaultMaxAttempts == 0 {
		cfg.Retry.DefaultMaxAttempts = rd.DefaultMaxAttempts
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = rd.BaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = rd.MaxDelay
	}
	if cfg.Retry.Jitter == 0 {
		cfg.Retry.Jitter = rd.Jitter
	}

	if cfg.Risk.MaxTradeFractionBps == 0 {
		cfg.Risk.MaxTradeFractionBps = 10_000
	}
	if cfg.Risk.MaxSlippageBps == nil {
		cfg.Risk.MaxSlippageBps = validation.Bps(validation.DefaultMaxSlippageBps)
	}
}

// Validate rejects configurations the service cannot start with.
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("storage driver postgres requires database.url")
		}
	case DriverRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("storage driver redis requires redis.url")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Retry.Concurrency > retry.MaxConcurrency {
		return fmt.Errorf("retry.concurrency %d exceeds maximum %d", c.Retry.Concurrency, retry.MaxConcurrency)
	}
	if bps := c.Risk.MaxTradeFractionBps; bps < 0 || bps > 10_000 {
		return fmt.Errorf("risk.max_trade_fraction_bps must be within [0, 10000], got %d", bps)
	}
	if bps := c.Risk.MaxSlippageBps; bps != nil && (*bps < 0 || *bps > 10_000) {
		return fmt.Errorf("risk.max_slippage_bps must be within [0, 10000], got %d", *bps)
	}
	if _, err := c.Risk.Limits(); err != nil {
		return err
	}
	return nil
}

// Limits parses every amount in the risk section.
func (r RiskConfig) Limits() (*Limits, error) {
	var (
		l   Limits
		err error
	)
	fields := []struct {
		name string
		in   map[string]string
		out  *domain.Balances
	}{
		{"min_balance", r.MinBalance, &l.MinBalance},
		{"reconcile_tolerance", r.ReconcileTolerance, &l.ReconcileTolerance},
		{"min_reserve", r.MinReserve, &l.MinReserve},
		{"max_trade_amount", r.MaxTradeAmount, &l.MaxTradeAmount},
	}
	for _, f := range fields {
		if *f.out, err = domain.ParseBalances(f.in); err != nil {
			return nil, fmt.Errorf("risk.%s: %w", f.name, err)
		}
	}

	if l.FeeBuffer, err = optionalAmount(r.FeeBuffer); err != nil {
		return nil, fmt.Errorf("risk.fee_buffer: %w", err)
	}
	if l.FeeCap, err = optionalAmount(r.FeeCap); err != nil {
		return nil, fmt.Errorf("risk.fee_cap: %w", err)
	}
	return &l, nil
}

func optionalAmount(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return domain.ParseAmount(s)
}
