// Package config loads the auction daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Oracle modes.
const (
	OracleLocal = "local"
	OracleVsock = "vsock"
)

// WorkersEnv overrides OracleConfig.Workers when set.
const WorkersEnv = "ORACLE_MAX_WORKERS"

// Config is the auctiond configuration.
type Config struct {
	HTTPAddr string        `yaml:"http_addr"`
	Store    StoreConfig   `yaml:"store"`
	Oracle   OracleConfig  `yaml:"oracle"`
	Auction  AuctionConfig `yaml:"auction"`
	Ledger   LedgerConfig  `yaml:"ledger"`
	LogLevel string        `yaml:"log_level"`
}

type StoreConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

type OracleConfig struct {
	// Mode is "local" (in-process) or "vsock" (remote enclave)
	Mode    string `yaml:"mode"`
	Workers int    `yaml:"workers"`
	CID     uint32 `yaml:"cid"`
	Port    uint32 `yaml:"port"`
	// MasterKeyHex seals values. It is shared with the enclave in vsock mode; in local mode a
	// random key is used if empty.
	MasterKeyHex string `yaml:"master_key_hex"`
	// PCRsPath lists approved enclave measurements. When set, the enclave's key attestation
	// must validate before the daemon trusts its signing key.
	PCRsPath string `yaml:"pcrs_path"`
}

// LedgerConfig seeds the in-memory ledgers. Every genesis balance is approved to the auction
// account so it can be locked through the token rail.
type LedgerConfig struct {
	Balances map[string]uint64 `yaml:"balances"`
}

// AuctionConfig describes the auction the daemon runs.
type AuctionConfig struct {
	ID              string        `yaml:"id"`
	Owner           string        `yaml:"owner"`
	Account         string        `yaml:"account"`
	Rail            string        `yaml:"rail"`
	AssetSymbol     string        `yaml:"asset_symbol"`
	AssetDecimals   uint8         `yaml:"asset_decimals"`
	PaymentSymbol   string        `yaml:"payment_symbol"`
	PaymentDecimals uint8         `yaml:"payment_decimals"`
	Quantity        uint64        `yaml:"quantity"`
	OpeningTime     time.Time     `yaml:"opening_time"`
	ClosingTime     time.Time     `yaml:"closing_time"`
	MaxParticipants int           `yaml:"max_participants"`
	RevealTimeout   time.Duration `yaml:"reveal_timeout"`
}

// DefaultConfig returns a configuration with every optional field set.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr: ":8080",
		Store:    StoreConfig{Path: "data"},
		Oracle: OracleConfig{
			Mode:    OracleLocal,
			Workers: 4,
			CID:     16,
			Port:    5000,
		},
		Auction: AuctionConfig{
			Account:         "auction",
			Rail:            "token",
			AssetSymbol:     "LOT",
			PaymentSymbol:   "USDC",
			PaymentDecimals: 6,
			MaxParticipants: 100,
			RevealTimeout:   time.Hour,
		},
		LogLevel: "info",
	}
}

// LoadConfig reads path over the defaults, applies environment overrides and validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies environment overrides and validates.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	value := os.Getenv(WorkersEnv)
	if value == "" {
		return nil
	}
	workers, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %s (must be a valid integer)", WorkersEnv, value)
	}
	c.Oracle.Workers = workers
	return nil
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}

	switch c.Oracle.Mode {
	case OracleLocal:
	case OracleVsock:
		if c.Oracle.Port == 0 {
			return fmt.Errorf("oracle.port is required in vsock mode")
		}
		if c.Oracle.MasterKeyHex == "" {
			return fmt.Errorf("oracle.master_key_hex is required in vsock mode")
		}
	default:
		return fmt.Errorf("unknown oracle.mode %q (want %q or %q)", c.Oracle.Mode, OracleLocal, OracleVsock)
	}
	if c.Oracle.Workers <= 0 {
		return fmt.Errorf("oracle.workers must be positive, got %d", c.Oracle.Workers)
	}

	a := c.Auction
	if a.Owner == "" {
		return fmt.Errorf("auction.owner is required")
	}
	if a.Account == "" || a.Account == a.Owner {
		return fmt.Errorf("auction.account must be set and differ from the owner")
	}
	if a.Rail != "native" && a.Rail != "token" {
		return fmt.Errorf("unknown auction.rail %q (want native or token)", a.Rail)
	}
	if a.Quantity == 0 {
		return fmt.Errorf("auction.quantity must be positive")
	}
	if a.OpeningTime.IsZero() || !a.ClosingTime.After(a.OpeningTime) {
		return fmt.Errorf("auction.closing_time must be after auction.opening_time")
	}
	if a.MaxParticipants <= 0 {
		return fmt.Errorf("auction.max_participants must be positive")
	}
	if a.RevealTimeout <= 0 {
		return fmt.Errorf("auction.reveal_timeout must be positive")
	}
	return nil
}
