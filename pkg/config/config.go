// Package config loads the engine configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fortiblox/X1-Engine/internal/types"
	"github.com/fortiblox/X1-Engine/pkg/fee"
	"go.uber.org/zap/zapcore"
)

// ErrInvalid is returned for a configuration that fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Ledger backends.
const (
	BackendMemory  = "memory"
	BackendBadger  = "badger"
	BackendLevelDB = "leveldb"
)

// Config is the engine configuration.
type Config struct {
	Fee      FeeConfig      `toml:"fee"`
	FeeTable fee.Table      `toml:"fee_table"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Receipts ReceiptsConfig `toml:"receipts"`
	Log      LogConfig      `toml:"log"`
	RPC      RPCConfig      `toml:"rpc"`
}

// FeeConfig configures the fee reserve of every transaction.
type FeeConfig struct {
	CostUnitPrice       types.Decimal `toml:"CostUnitPrice"`
	TipPercentage       uint16        `toml:"TipPercentage"`
	CostUnitLimit       uint32        `toml:"CostUnitLimit"`
	SystemLoan          uint32        `toml:"SystemLoan"`
	AbortWhenLoanRepaid bool          `toml:"AbortWhenLoanRepaid"`
}

// Params converts the section into reserve parameters.
func (f FeeConfig) Params() fee.Params {
	return fee.Params{
		CostUnitPrice:       f.CostUnitPrice,
		TipPercentage:       f.TipPercentage,
		CostUnitLimit:       f.CostUnitLimit,
		SystemLoan:          f.SystemLoan,
		AbortWhenLoanRepaid: f.AbortWhenLoanRepaid,
	}
}

// LedgerConfig selects the substate store.
type LedgerConfig struct {
	Backend    string `toml:"Backend"`
	Path       string `toml:"Path"`
	CacheSize  int    `toml:"CacheSize"`
	SyncWrites bool   `toml:"SyncWrites"`
}

// ReceiptsConfig configures the receipt archive. An empty path disables it.
type ReceiptsConfig struct {
	Path           string `toml:"Path"`
	RetainReceipts uint64 `toml:"RetainReceipts"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string `toml:"Level"`
	Development bool   `toml:"Development"`
}

// RPCConfig configures the JSON-RPC query server.
type RPCConfig struct {
	Enabled        bool     `toml:"Enabled"`
	Addr           string   `toml:"Addr"`
	EnableCORS     bool     `toml:"EnableCORS"`
	AllowedOrigins []string `toml:"AllowedOrigins,omitempty"`
	LogRequests    bool     `toml:"LogRequests"`
}

// Default returns the default configuration.
func Default() *Config {
	p := fee.DefaultParams()
	return &Config{
		Fee: FeeConfig{
			CostUnitPrice: p.CostUnitPrice,
			CostUnitLimit: p.CostUnitLimit,
			SystemLoan:    p.SystemLoan,
		},
		FeeTable: *fee.DefaultTable(),
		Ledger: LedgerConfig{
			Backend:   BackendMemory,
			CacheSize: 4096,
		},
		Receipts: ReceiptsConfig{
			RetainReceipts: 1_000_000,
		},
		Log: LogConfig{Level: "info"},
		RPC: RPCConfig{
			Addr:       "127.0.0.1:8899",
			EnableCORS: true,
		},
	}
}

// Load reads the configuration at path on top of the defaults.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Fee.CostUnitLimit == 0 {
		return fmt.Errorf("%w: fee.CostUnitLimit must be positive", ErrInvalid)
	}
	if c.Fee.SystemLoan > c.Fee.CostUnitLimit {
		return fmt.Errorf("%w: fee.SystemLoan %d exceeds CostUnitLimit %d",
			ErrInvalid, c.Fee.SystemLoan, c.Fee.CostUnitLimit)
	}
	if c.FeeTable.WasmUnitsDivider == 0 {
		return fmt.Errorf("%w: fee_table.WasmUnitsDivider must be positive", ErrInvalid)
	}

	switch c.Ledger.Backend {
	case BackendMemory:
	case BackendBadger, BackendLevelDB:
		if c.Ledger.Path == "" {
			return fmt.Errorf("%w: ledger.Path is required for %s", ErrInvalid, c.Ledger.Backend)
		}
	default:
		return fmt.Errorf("%w: unknown ledger backend %q", ErrInvalid, c.Ledger.Backend)
	}
	if c.Ledger.CacheSize < 0 {
		return fmt.Errorf("%w: ledger.CacheSize must not be negative", ErrInvalid)
	}

	if c.RPC.Enabled && c.RPC.Addr == "" {
		return fmt.Errorf("%w: rpc.Addr is required when rpc is enabled", ErrInvalid)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.Level: %v", ErrInvalid, err)
	}
	return nil
}

// Write saves the configuration as TOML, creating parent directories.
func Write(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
