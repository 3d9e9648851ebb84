// Package config loads gateway configuration from the environment. Call
// godotenv.Load from the entrypoint before Load so a local .env file is
// honored in development.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/datagate-io/datagate/pricing"
	"github.com/datagate-io/datagate/wallet"
)

// Config is the fully resolved gateway configuration.
type Config struct {
	ListenAddr   string `validate:"required"`
	LogLevel     string `validate:"oneof=debug info warn error"`
	DatabasePath string `validate:"required"`

	// Payment gate.
	PayTo          string `validate:"required"`
	Network        string `validate:"required"`
	DefaultPrice   string `validate:"required"`
	FacilitatorURL string `validate:"required,url"`
	VerifyOnly     bool
	Endpoints      []pricing.Endpoint `validate:"dive"`

	// Coinbase Developer Platform credentials for facilitator auth.
	// Optional; when unset the facilitator is called unauthenticated.
	CDPAPIKeyName   string
	CDPAPIKeySecret string

	// Wallet transfer client. Left unvalidated here: wallet routes surface
	// the configuration error at first use instead of failing startup.
	Wallet wallet.Config
}

// defaultEndpoints is the built-in price table, used when
// X402_ENDPOINT_PRICES is not set.
var defaultEndpoints = []pricing.Endpoint{
	{Pattern: "/api/creator/me/data-sources", Price: "$0.10"},
	{Pattern: "/api/creators/:id/data-sources", Price: "$0.05"},
	{Pattern: "/api/agent/me", Price: "$0.02"},
	{Pattern: "/api/agents/:id", Price: "$0.02"},
	{Pattern: "/api/agent/me/generate-key", Price: "$0.50"},
	{Pattern: "/api/creator/me/access-logs", Price: "$0.05"},
	{Pattern: "/api/agents/:id/access-logs", Price: "$0.05"},
	{Pattern: "/api/access-logs", Price: "$0.01"},
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:   envOr("LISTEN_ADDR", ":"+envOr("PORT", "5000")),
		LogLevel:     envOr("LOG_LEVEL", "info"),
		DatabasePath: envOr("DATABASE_PATH", "datagate.db"),

		PayTo:          os.Getenv("X402_WALLET_ADDRESS"),
		Network:        envOr("X402_NETWORK", "base-sepolia"),
		DefaultPrice:   envOr("X402_DEFAULT_PRICE", "$0.01"),
		FacilitatorURL: envOr("X402_FACILITATOR_URL", "https://x402.org/facilitator"),
		VerifyOnly:     envBool("X402_VERIFY_ONLY"),

		CDPAPIKeyName:   os.Getenv("CDP_API_KEY_NAME"),
		CDPAPIKeySecret: os.Getenv("CDP_API_KEY_SECRET"),

		Wallet: wallet.Config{
			Name:             envOr("LOCUS_WALLET_NAME", "datagate"),
			Address:          os.Getenv("LOCUS_WALLET_ADDRESS"),
			PrivateKey:       os.Getenv("LOCUS_PRIVATE_KEY"),
			Mnemonic:         os.Getenv("LOCUS_MNEMONIC"),
			KeystorePath:     os.Getenv("LOCUS_KEYSTORE_PATH"),
			KeystorePassword: os.Getenv("LOCUS_KEYSTORE_PASSWORD"),
			RPCURL:           envOr("LOCUS_RPC_URL", "https://mainnet.base.org"),
		},
	}

	chainID, err := envInt64("LOCUS_CHAIN_ID", 8453)
	if err != nil {
		return nil, err
	}
	cfg.Wallet.ChainID = chainID

	mnemonicIndex, err := envInt64("LOCUS_MNEMONIC_INDEX", 0)
	if err != nil {
		return nil, err
	}
	cfg.Wallet.MnemonicIndex = uint32(mnemonicIndex)

	cfg.Endpoints = defaultEndpoints
	if raw := os.Getenv("X402_ENDPOINT_PRICES"); raw != "" {
		var endpoints []pricing.Endpoint
		if err := json.Unmarshal([]byte(raw), &endpoints); err != nil {
			return nil, fmt.Errorf("X402_ENDPOINT_PRICES: %w", err)
		}
		cfg.Endpoints = endpoints
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// PricingTable builds the pricing table from the configured endpoints.
func (c *Config) PricingTable() (*pricing.Table, error) {
	table, err := pricing.NewTable(c.DefaultPrice, c.Network)
	if err != nil {
		return nil, err
	}
	for _, ep := range c.Endpoints {
		if err := table.Add(ep); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func envInt64(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
