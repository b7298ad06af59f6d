package config

import (
	"math/big"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/execution/retry"
	"github.com/vietddude/txguard/internal/infra/chain/paper"
	redisclient "github.com/vietddude/txguard/internal/infra/redis"
	"github.com/vietddude/txguard/internal/infra/storage/postgres"
	"github.com/vietddude/txguard/internal/safety/breaker"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Storage  StorageConfig      `yaml:"storage"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Breaker  breaker.Config     `yaml:"breaker"`
	Retry    retry.Config       `yaml:"retry"`
	Risk     RiskConfig         `yaml:"risk"`
	Paper    paper.Config       `yaml:"paper"`
}

// ServerConfig holds admin server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 disables the gRPC health service
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// StorageConfig selects the failed transaction ledger backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory, postgres, redis
}

// RiskConfig holds validation gate settings. Amounts are base-10 integer strings in the
// asset's smallest unit.
type RiskConfig struct {
	MinBalance          map[string]string `yaml:"min_balance"`
	ReconcileTolerance  map[string]string `yaml:"reconcile_tolerance"`
	MinReserve          map[string]string `yaml:"min_reserve"`
	MaxTradeFractionBps int64             `yaml:"max_trade_fraction_bps"`
	MaxTradeAmount      map[string]string `yaml:"max_trade_amount"`
	FeeAsset            string            `yaml:"fee_asset"`
	FeeBuffer           string            `yaml:"fee_buffer"`
	FeeCap              string            `yaml:"fee_cap"` // empty = unbounded
	MaxSlippageBps      *int64            `yaml:"max_slippage_bps"`
}

// Limits is RiskConfig with every amount parsed.
type Limits struct {
	MinBalance         domain.Balances
	ReconcileTolerance domain.Balances
	MinReserve         domain.Balances
	MaxTradeAmount     domain.Balances
	FeeBuffer          *big.Int
	FeeCap             *big.Int
}
