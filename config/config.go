// Package config loads and validates BitStable's daemon configuration, per
// SPEC_FULL.md §A and §6.D: a TOML-loaded protocol config and a
// YAML-loaded oracle endpoint roster.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Network names the Bitcoin network BitStable operates against.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// Config is the primary TOML-loaded protocol configuration, per §6.D.
type Config struct {
	Network                 Network `toml:"network"`
	MinCollateralRatio      float64 `toml:"min_collateral_ratio"`
	LiquidationThreshold    float64 `toml:"liquidation_threshold"`
	LiquidationPenalty      float64 `toml:"liquidation_penalty"`
	StabilityFeeAPR         float64 `toml:"stability_fee_apr"`
	OracleThreshold         int     `toml:"oracle_threshold"`
	DatabasePath            string  `toml:"database_path"`
	BitcoinRPCHost          string  `toml:"bitcoin_rpc_host"`
	BitcoinRPCUser          string  `toml:"bitcoin_rpc_user"`
	BitcoinRPCPass          string  `toml:"bitcoin_rpc_pass"`
	StatusListenAddress     string  `toml:"status_listen_address"`
	LogFilePath             string  `toml:"log_file_path"`
	ProtocolKeyHex          string  `toml:"protocol_key_hex"`
	RedemptionDailyLimitUSD float64 `toml:"redemption_daily_limit_usd"`
	StatusJWTEnabled        bool    `toml:"status_jwt_enabled"`
	StatusJWTSecret         string  `toml:"status_jwt_secret"`
	StatusJWTIssuer         string  `toml:"status_jwt_issuer"`
	StatusJWTAudience       string  `toml:"status_jwt_audience"`
	OTLPEndpoint            string  `toml:"otlp_endpoint"`
	OTLPInsecure            bool    `toml:"otlp_insecure"`
	AuditPostgresDSN        string  `toml:"audit_postgres_dsn"`
}

// Load reads cfg from path, creating a default file if none exists, per the
// teacher's `config.Load` pattern.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Network:              Testnet,
		MinCollateralRatio:   1.5,
		LiquidationThreshold: 1.2,
		LiquidationPenalty:   0.05,
		StabilityFeeAPR:      0.02,
		OracleThreshold:      3,
		DatabasePath:         "./bitstable-data",
		StatusListenAddress:  ":8090",
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: creating default at %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: writing default: %w", err)
	}
	return cfg, nil
}

// OracleSource names one configured oracle endpoint, loaded from a separate
// YAML roster per §6.D.
type OracleSource struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	PubKey string `yaml:"pubkey"`
}

// OracleRoster is the YAML-loaded list of configured oracle endpoints.
type OracleRoster struct {
	Sources []OracleSource `yaml:"sources"`
}

// LoadOracleRoster reads the oracle endpoint roster from a YAML file.
func LoadOracleRoster(path string) (*OracleRoster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading oracle roster %s: %w", path, err)
	}
	roster := &OracleRoster{}
	if err := yaml.Unmarshal(data, roster); err != nil {
		return nil, fmt.Errorf("config: parsing oracle roster: %w", err)
	}
	return roster, nil
}

// Validate rejects inconsistent configuration combinations per §6.D.
func Validate(cfg *Config, oracleEndpointCount int) error {
	switch cfg.Network {
	case Mainnet, Testnet, Regtest:
	default:
		return fmt.Errorf("config: unknown network %q", cfg.Network)
	}
	if cfg.MinCollateralRatio <= 1.0 {
		return fmt.Errorf("config: min_collateral_ratio must be > 1.0, got %v", cfg.MinCollateralRatio)
	}
	if cfg.LiquidationThreshold >= cfg.MinCollateralRatio {
		return fmt.Errorf("config: liquidation_threshold (%v) must be < min_collateral_ratio (%v)", cfg.LiquidationThreshold, cfg.MinCollateralRatio)
	}
	if cfg.LiquidationPenalty < 0 || cfg.LiquidationPenalty > 1 {
		return fmt.Errorf("config: liquidation_penalty must be in [0,1], got %v", cfg.LiquidationPenalty)
	}
	if cfg.StabilityFeeAPR < 0 {
		return fmt.Errorf("config: stability_fee_apr must be >= 0, got %v", cfg.StabilityFeeAPR)
	}
	if cfg.OracleThreshold <= 0 {
		return fmt.Errorf("config: oracle_threshold must be > 0, got %v", cfg.OracleThreshold)
	}
	if cfg.OracleThreshold > oracleEndpointCount {
		return fmt.Errorf("config: oracle_threshold (%d) exceeds configured oracle endpoint count (%d)", cfg.OracleThreshold, oracleEndpointCount)
	}
	if cfg.DatabasePath == "" {
		return fmt.Errorf("config: database_path must not be empty")
	}
	return nil
}
