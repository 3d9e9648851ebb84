// Package datagate provides the protocol types, network tables and helper
// functions shared by the pay-per-access gateway: payment requirements and
// proofs, settlement records, per-network USDC and block-explorer
// configuration, and atomic-unit conversion helpers.
package datagate

import (
	"fmt"
	"strings"
)

// ChainConfig holds per-network configuration: the x402 network identifier,
// the chain id used for signing, the USDC contract accepted for payments and
// the block-explorer base URL used to build settlement links.
type ChainConfig struct {
	// NetworkID is the x402 protocol network identifier (e.g., "base").
	NetworkID string

	// ChainID is the EVM chain id.
	ChainID int64

	// USDCAddress is the official Circle USDC contract address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals uint8

	// EIP3009Name is the EIP-3009 domain parameter "name".
	EIP3009Name string

	// EIP3009Version is the EIP-3009 domain parameter "version".
	EIP3009Version string

	// ExplorerBase is the block-explorer base URL without trailing slash.
	ExplorerBase string
}

var (
	// BaseMainnet is the configuration for Base mainnet.
	BaseMainnet = ChainConfig{
		NetworkID:      "base",
		ChainID:        8453,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
		ExplorerBase:   "https://basescan.org",
	}

	// BaseSepolia is the configuration for Base Sepolia testnet. It is also
	// the fallback for unrecognized networks.
	BaseSepolia = ChainConfig{
		NetworkID:      "base-sepolia",
		ChainID:        84532,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
		ExplorerBase:   "https://sepolia.basescan.org",
	}

	// PolygonMainnet is the configuration for Polygon PoS mainnet.
	PolygonMainnet = ChainConfig{
		NetworkID:      "polygon",
		ChainID:        137,
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
		ExplorerBase:   "https://polygonscan.com",
	}

	// PolygonAmoy is the configuration for Polygon Amoy testnet.
	PolygonAmoy = ChainConfig{
		NetworkID:      "polygon-amoy",
		ChainID:        80002,
		USDCAddress:    "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
		ExplorerBase:   "https://amoy.polygonscan.com",
	}
)

// chainConfigs indexes the known chain configurations by network id.
var chainConfigs = map[string]ChainConfig{
	"base":         BaseMainnet,
	"base-sepolia": BaseSepolia,
	"polygon":      PolygonMainnet,
	"polygon-amoy": PolygonAmoy,
}

// explorerBases maps network identifiers to block-explorer base URLs. It is
// wider than chainConfigs: settlement links are also built for networks the
// gate does not accept payments on. Extend via RegisterExplorer rather than
// editing the table.
var explorerBases = map[string]string{
	"base":         "https://basescan.org",
	"base-sepolia": "https://sepolia.basescan.org",
	"base-mainnet": "https://basescan.org",
	"ethereum":     "https://etherscan.io",
	"sepolia":      "https://sepolia.etherscan.io",
	"arbitrum":     "https://arbiscan.io",
	"optimism":     "https://optimistic.etherscan.io",
	"polygon":      "https://polygonscan.com",
}

// ChainByNetwork returns the chain configuration for a network id.
func ChainByNetwork(networkID string) (ChainConfig, bool) {
	cfg, ok := chainConfigs[strings.ToLower(networkID)]
	return cfg, ok
}

// ChainByID returns the chain configuration for an EVM chain id.
func ChainByID(chainID int64) (ChainConfig, bool) {
	for _, cfg := range chainConfigs {
		if cfg.ChainID == chainID {
			return cfg, true
		}
	}
	return ChainConfig{}, false
}

// RegisterExplorer adds or overrides the block-explorer base URL for a
// network. Intended for configuration-time extension.
func RegisterExplorer(networkID, baseURL string) {
	explorerBases[strings.ToLower(networkID)] = strings.TrimSuffix(baseURL, "/")
}

// ExplorerBaseURL returns the block-explorer base URL for a network,
// falling back to the Base Sepolia explorer for unknown networks.
func ExplorerBaseURL(networkID string) string {
	if base, ok := explorerBases[strings.ToLower(networkID)]; ok {
		return base
	}
	return explorerBases["base-sepolia"]
}

// TransactionURL returns the human-viewable explorer link for a transaction hash.
func TransactionURL(txHash, networkID string) string {
	return ExplorerBaseURL(networkID) + "/tx/" + txHash
}

// AddressURL returns the human-viewable explorer link for a wallet address.
func AddressURL(address, networkID string) string {
	return ExplorerBaseURL(networkID) + "/address/" + address
}

// ValidateEVMAddress checks that an address is a 0x-prefixed 20-byte hex string.
func ValidateEVMAddress(address string) error {
	if len(address) != 42 {
		return fmt.Errorf("address '%s' is invalid, expected 0x-prefixed hex address (42 chars)", address)
	}
	if address[0:2] != "0x" && address[0:2] != "0X" {
		return fmt.Errorf("address '%s' is invalid, expected 0x-prefixed hex address (42 chars)", address)
	}
	for i := 2; i < len(address); i++ {
		c := address[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return fmt.Errorf("address '%s' is invalid, expected 0x-prefixed hex address (42 chars)", address)
		}
	}
	return nil
}

// NewUSDCRequirement builds a PaymentRequirement for a USDC payment on the
// given chain. Amount is a human-readable USDC amount such as "0.10"; it is
// converted to atomic units using the chain's USDC decimals. The EIP-3009
// domain parameters are attached under Extra for EVM verification.
func NewUSDCRequirement(chain ChainConfig, amount, payTo string) (PaymentRequirement, error) {
	if payTo == "" {
		return PaymentRequirement{}, fmt.Errorf("payTo: cannot be empty")
	}

	atomic, err := AmountToBigInt(amount, int(chain.Decimals))
	if err != nil {
		return PaymentRequirement{}, fmt.Errorf("amount %q: %w", amount, err)
	}
	if atomic.Sign() < 0 {
		return PaymentRequirement{}, fmt.Errorf("amount: must be non-negative")
	}

	req := PaymentRequirement{
		Scheme:            "exact",
		Network:           chain.NetworkID,
		MaxAmountRequired: atomic.String(),
		Asset:             chain.USDCAddress,
		PayTo:             payTo,
		MimeType:          "application/json",
		MaxTimeoutSeconds: 300,
	}

	if chain.EIP3009Name != "" {
		req.Extra = map[string]interface{}{
			"name":    chain.EIP3009Name,
			"version": chain.EIP3009Version,
		}
	}

	return req, nil
}
