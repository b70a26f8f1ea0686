package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

const validYAML = `
http_addr: ":9090"
store:
  in_memory: true
oracle:
  mode: vsock
  cid: 7
  port: 5005
  master_key_hex: 000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f
auction:
  id: spring-sale
  owner: treasury
  quantity: 1000
  asset_decimals: 2
  opening_time: 2026-03-01T12:00:00Z
  closing_time: 2026-03-01T13:00:00Z
  reveal_timeout: 15m
ledger:
  balances:
    alice: 500
    bob: 250
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	assert.NoError(t, err)

	check.Equal(t, ":9090", cfg.HTTPAddr)
	check.True(t, cfg.Store.InMemory)
	check.Equal(t, OracleVsock, cfg.Oracle.Mode)
	check.Equal(t, uint32(7), cfg.Oracle.CID)
	check.Equal(t, uint32(5005), cfg.Oracle.Port)
	check.Equal(t, "spring-sale", cfg.Auction.ID)
	check.Equal(t, uint64(1000), cfg.Auction.Quantity)
	check.Equal(t, uint8(2), cfg.Auction.AssetDecimals)
	check.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), cfg.Auction.ClosingTime.UTC())
	check.Equal(t, 15*time.Minute, cfg.Auction.RevealTimeout)
	check.Equal(t, map[string]uint64{"alice": 500, "bob": 250}, cfg.Ledger.Balances)

	// Defaults survive where the file is silent
	check.Equal(t, 4, cfg.Oracle.Workers)
	check.Equal(t, "token", cfg.Auction.Rail)
	check.Equal(t, "auction", cfg.Auction.Account)
	check.Equal(t, 100, cfg.Auction.MaxParticipants)
	check.Equal(t, "info", cfg.LogLevel)
}

func TestParse_WorkersFromEnvironment(t *testing.T) {
	t.Setenv(WorkersEnv, "12")
	cfg, err := Parse([]byte(validYAML))
	assert.NoError(t, err)
	check.Equal(t, 12, cfg.Oracle.Workers)

	t.Setenv(WorkersEnv, "many")
	_, err = Parse([]byte(validYAML))
	check.Error(t, err)

	t.Setenv(WorkersEnv, "0")
	_, err = Parse([]byte(validYAML))
	check.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no owner", func(c *Config) { c.Auction.Owner = "" }},
		{"account is owner", func(c *Config) { c.Auction.Account = c.Auction.Owner }},
		{"zero quantity", func(c *Config) { c.Auction.Quantity = 0 }},
		{"window reversed", func(c *Config) { c.Auction.ClosingTime = c.Auction.OpeningTime }},
		{"unknown rail", func(c *Config) { c.Auction.Rail = "barter" }},
		{"unknown oracle mode", func(c *Config) { c.Oracle.Mode = "carrier-pigeon" }},
		{"vsock without port", func(c *Config) { c.Oracle.Mode = OracleVsock; c.Oracle.Port = 0 }},
		{"vsock without master key", func(c *Config) { c.Oracle.MasterKeyHex = "" }},
		{"no store path", func(c *Config) { c.Store = StoreConfig{} }},
		{"no participants", func(c *Config) { c.Auction.MaxParticipants = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(validYAML))
			assert.NoError(t, err)
			tt.mutate(cfg)
			check.Error(t, cfg.Validate())
		})
	}

	_, err := Parse([]byte("auction: [not, a, map]"))
	check.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auctiond.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	cfg, err := LoadConfig(path)
	assert.NoError(t, err)
	check.Equal(t, "treasury", cfg.Auction.Owner)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	check.Error(t, err)
}
